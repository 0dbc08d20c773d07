package core

import (
	"context"
	"fmt"
	"strings"

	"cosmos/core/provider"
)

// SummaryMinTokens is the floor for a compaction summary's output-token
// budget, regardless of what the caller requests.
const SummaryMinTokens = 1024

const (
	mainCompletionMinTokens = 16000
	summaryMinTokensFloor   = 5000
)

const compactionSystemPrompt = `You write concise, information-dense summaries of coding-agent conversation history. Preserve file paths, tool names, and decisions; omit pleasantries and restated instructions.`

// CompactionResult reports the outcome of a compaction attempt.
type CompactionResult struct {
	Success    bool
	CharsSaved int
	Error      string
}

func compactionFailure(reason string) CompactionResult {
	return CompactionResult{Success: false, Error: reason}
}

// ProviderFamily buckets providers for summary-token-budget purposes.
type ProviderFamily int

const (
	ProviderFamilyUnknown ProviderFamily = iota
	ProviderFamilyAnthropic
	ProviderFamilyDatabricks
	ProviderFamilyEmbedded
)

// ClassifyProviderFamily maps a provider's Name() to the family used for
// summary-token budgeting.
func ClassifyProviderFamily(name string) ProviderFamily {
	switch strings.ToLower(name) {
	case "bedrock", "anthropic":
		return ProviderFamilyAnthropic
	case "databricks":
		return ProviderFamilyDatabricks
	case "embedded", "local":
		return ProviderFamilyEmbedded
	default:
		return ProviderFamilyUnknown
	}
}

func (f ProviderFamily) summaryTokenCap() int {
	switch f {
	case ProviderFamilyAnthropic, ProviderFamilyDatabricks:
		return 10000
	case ProviderFamilyEmbedded:
		return 3000
	default:
		return 5000
	}
}

// CappedSummaryTokens bounds a requested summary output-token budget to the
// provider family's ceiling, floored at SummaryMinTokens.
func CappedSummaryTokens(family ProviderFamily, requested int) int {
	ceiling := family.summaryTokenCap()
	if requested <= 0 || requested > ceiling {
		requested = ceiling
	}
	if requested < SummaryMinTokens {
		requested = SummaryMinTokens
	}
	return requested
}

// Compactor performs full-context resummarization via the LLM (C6).
type Compactor struct {
	Provider provider.Provider
	Retry    RetryConfig
	Notifier RetryNotifier
}

// PerformCompaction builds a summarization request from cw's current
// history, invokes the provider, and on success replaces history with
// [system prefix..., summary(kind=Summary), latestUserMsg]. On failure,
// history is left unchanged.
func (c *Compactor) PerformCompaction(ctx context.Context, cw *ContextWindow, latestUserMsg Message) CompactionResult {
	systemPrefixLen := cw.systemPrefixLen()
	if systemPrefixLen == 0 {
		return compactionFailure("context window has no System prefix")
	}

	rendered := renderHistoryForSummary(cw.History[systemPrefixLen:])
	if rendered == "" {
		return compactionFailure("nothing to summarize")
	}

	before := 0
	for _, m := range cw.History {
		before += len(m.Content)
	}

	// ResolveMaxTokens below may thin the window; keep the original so a
	// failed summarization leaves history as it was.
	origHistory := append([]Message(nil), cw.History...)
	origThinPct := cw.LastThinningPercentage
	restore := func() {
		cw.History = origHistory
		cw.LastThinningPercentage = origThinPct
		cw.RecalculateTokens()
	}

	family := ClassifyProviderFamily(c.Provider.Name())
	maxTokens := CappedSummaryTokens(family, 0)
	// Apply the same thin-then-floor fallback used before a streamed
	// completion, so a near-full window doesn't starve the summary call of
	// its own free context budget.
	maxTokens = ResolveMaxTokens(cw, maxTokens, true)

	req := provider.Request{
		Model:           c.Provider.Model(),
		System:          compactionSystemPrompt,
		Messages:        []provider.Message{{Role: provider.RoleUser, Content: rendered}},
		MaxTokens:       maxTokens,
		DisableThinking: shouldDisableThinking(cw, maxTokens),
	}

	summary, err := WithRetry(ctx, c.Retry, c.Notifier, func(ctx context.Context) (string, error) {
		s, _, err := c.Provider.Complete(ctx, req)
		return s, err
	})
	if err != nil {
		restore()
		return compactionFailure(fmt.Sprintf("summarization failed: %v", err))
	}
	if strings.TrimSpace(summary) == "" {
		restore()
		return compactionFailure("provider returned an empty summary")
	}

	newHistory := make([]Message, 0, systemPrefixLen+2)
	newHistory = append(newHistory, cw.History[:systemPrefixLen]...)
	newHistory = append(newHistory, Message{Role: provider.RoleAssistant, Content: summary, Kind: KindSummary})
	newHistory = append(newHistory, latestUserMsg)
	cw.History = newHistory
	cw.RecalculateTokens()

	after := 0
	for _, m := range cw.History {
		after += len(m.Content)
	}
	saved := before - after
	if saved < 0 {
		saved = 0
	}

	return CompactionResult{Success: true, CharsSaved: saved}
}

// shouldDisableThinking reports whether an extended-reasoning budget should
// be skipped for this summarization call because too little free context
// remains to afford both the summary and a reasoning budget.
func shouldDisableThinking(cw *ContextWindow, summaryMaxTokens int) bool {
	free := cw.TotalTokens - cw.UsedTokens
	return free < summaryMaxTokens*2
}

func renderHistoryForSummary(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n\n", strings.ToUpper(string(m.Role)), m.Content)
	}
	return b.String()
}

// ResolveMaxTokens implements the max-tokens fallback sequence used before
// a streamed completion (isSummary=false) and before summarization
// (isSummary=true): thin the oldest third, recheck; thin everything,
// recheck; if thinning still can't free desired tokens, fall back
// unconditionally to the hard-coded minimum (floor), even when desired
// itself is larger than the floor — the window is already full at that
// point, so handing the provider anything above the floor risks a
// max_tokens request that exceeds remaining free context.
func ResolveMaxTokens(cw *ContextWindow, desired int, isSummary bool) int {
	floor := mainCompletionMinTokens
	if isSummary {
		floor = summaryMinTokensFloor
	}

	free := cw.TotalTokens - cw.UsedTokens
	if free >= desired {
		return desired
	}

	cw.Thin()
	free = cw.TotalTokens - cw.UsedTokens
	if free >= desired {
		return desired
	}

	cw.ThinAll()
	free = cw.TotalTokens - cw.UsedTokens
	if free >= desired {
		return desired
	}

	return floor
}
