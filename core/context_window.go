package core

import (
	"fmt"
	"strings"

	"cosmos/core/provider"
)

// MessageKind distinguishes a regular conversation turn from one synthesized
// by the context-reduction machinery.
type MessageKind int

const (
	KindRegular MessageKind = iota
	KindDehydratedStub
	KindSummary
)

// Message is an ordered item in conversation history. Role System messages
// always occupy a prefix of the history; the very first message is always
// a System message carrying the agent's tool-usage instructions.
type Message struct {
	Role    provider.Role
	Content string
	Kind    MessageKind
	Images  []provider.ImageContent

	// CacheControl is an opaque hint forwarded to providers that support
	// prompt caching. ContextWindow, not the caller, decides whether a
	// requested annotation is actually attached (see AddMessage).
	CacheControl *provider.CacheControl
}

const (
	// charsPerToken is the default character-to-token estimation ratio
	// used when a provider does not report usage for a response.
	charsPerToken = 4.0
	// messageOverheadTokens approximates the fixed per-message framing
	// cost (role marker, turn boundary) that a character-only estimate
	// misses.
	messageOverheadTokens = 4

	thinThresholdPct     = 0.60
	thinDeltaThresholdPct = 0.20
	compactThresholdPct  = 0.80

	// cacheControlEvery and cacheControlMaxLive implement the annotation
	// budget described in the design notes: hint every 10 tool calls,
	// never more than 4 annotations live in history at once.
	cacheControlEvery   = 10
	cacheControlMaxLive = 4
)

// ContextWindow holds bounded conversation state with token accounting.
type ContextWindow struct {
	History []Message

	TotalTokens    int // capacity
	UsedTokens     int
	CumulativeTokens int // monotonic, never decreases

	LastThinningPercentage float64

	toolCallCount  int   // total tool calls ever appended, for the cache-control cadence
	cacheAnnotated []int // indices into History currently carrying a CacheControl hint
}

// NewContextWindow constructs a ContextWindow seeded with the mandatory
// leading System message.
func NewContextWindow(totalTokens int, systemPrompt string) *ContextWindow {
	cw := &ContextWindow{
		TotalTokens: totalTokens,
		History: []Message{
			{Role: provider.RoleSystem, Content: systemPrompt, Kind: KindRegular},
		},
	}
	cw.RecalculateTokens()
	return cw
}

// estimateTokens is the character-based estimator, ceil(chars/4) plus a
// fixed per-message overhead.
func estimateTokens(content string) int {
	n := len([]rune(content))
	est := int((float64(n) + charsPerToken - 1) / charsPerToken)
	return est + messageOverheadTokens
}

// RecalculateTokens recomputes UsedTokens from scratch over History. This
// is the only source of truth for UsedTokens after a structural edit
// (append, thin, compact, dehydrate).
func (cw *ContextWindow) RecalculateTokens() {
	total := 0
	for _, m := range cw.History {
		total += estimateTokens(m.Content)
	}
	cw.UsedTokens = total
}

// PercentageUsed returns 100 * UsedTokens / TotalTokens.
func (cw *ContextWindow) PercentageUsed() float64 {
	if cw.TotalTokens <= 0 {
		return 0
	}
	return 100 * float64(cw.UsedTokens) / float64(cw.TotalTokens)
}

// AddStreamingTokens increments UsedTokens by an estimate, used while a
// response streams in and no provider usage has been reported yet.
func (cw *ContextWindow) AddStreamingTokens(textDelta string) {
	cw.UsedTokens += estimateTokens(textDelta) - messageOverheadTokens
	cw.CumulativeTokens += estimateTokens(textDelta) - messageOverheadTokens
}

// UpdateUsage folds a provider-reported Usage into the window: UsedTokens
// becomes the max of the running estimate and what the provider reported,
// so an undercount never silently prevents thinning/compaction.
func (cw *ContextWindow) UpdateUsage(u *provider.Usage) {
	if u == nil {
		return
	}
	reported := u.TotalTokens
	if reported == 0 {
		reported = u.InputTokens + u.OutputTokens
	}
	if reported > cw.UsedTokens {
		cw.UsedTokens = reported
	}
	cw.CumulativeTokens += reported
}

// AddMessage appends msg to history. wantCacheControl is a hint; the
// window decides whether to actually attach a CacheControl annotation,
// honoring the every-10th-tool-call cadence and the 4-live-annotation cap.
func (cw *ContextWindow) AddMessage(msg Message, wantCacheControl bool) {
	if wantCacheControl && cw.shouldAttachCacheControl() {
		msg.CacheControl = &provider.CacheControl{Type: "ephemeral"}
		cw.cacheAnnotated = append(cw.cacheAnnotated, len(cw.History))
		if len(cw.cacheAnnotated) > cacheControlMaxLive {
			oldest := cw.cacheAnnotated[0]
			cw.cacheAnnotated = cw.cacheAnnotated[1:]
			if oldest < len(cw.History) {
				cw.History[oldest].CacheControl = nil
			}
		}
	}
	cw.History = append(cw.History, msg)
	cw.RecalculateTokens()
}

// RecordToolCall advances the cache-control cadence counter. Called once
// per executed (non-duplicate) tool call.
func (cw *ContextWindow) RecordToolCall() {
	cw.toolCallCount++
}

func (cw *ContextWindow) shouldAttachCacheControl() bool {
	return cw.toolCallCount > 0 && cw.toolCallCount%cacheControlEvery == 0
}

// Clear resets history to just the leading System message(s), preserving
// the invariant that the window is never empty and never loses its System
// prefix.
func (cw *ContextWindow) Clear() {
	var prefix []Message
	for _, m := range cw.History {
		if m.Role != provider.RoleSystem {
			break
		}
		prefix = append(prefix, m)
	}
	if len(prefix) == 0 {
		prefix = []Message{{Role: provider.RoleSystem, Content: "", Kind: KindRegular}}
	}
	cw.History = prefix
	cw.LastThinningPercentage = 0
	cw.toolCallCount = 0
	cw.cacheAnnotated = nil
	cw.RecalculateTokens()
}

// ShouldThin reports whether the window has crossed the thinning
// threshold: at least 60% used, and the used percentage has grown by at
// least 20 points since the last thinning pass.
func (cw *ContextWindow) ShouldThin() bool {
	pct := cw.PercentageUsed()
	if pct < thinThresholdPct*100 {
		return false
	}
	delta := pct - cw.LastThinningPercentage
	return delta >= thinDeltaThresholdPct*100
}

// ShouldCompact reports whether the window has crossed the compaction
// threshold (80% used).
func (cw *ContextWindow) ShouldCompact() bool {
	return cw.PercentageUsed() >= compactThresholdPct*100
}

// systemPrefixLen returns the number of leading System messages.
func (cw *ContextWindow) systemPrefixLen() int {
	n := 0
	for _, m := range cw.History {
		if m.Role != provider.RoleSystem {
			break
		}
		n++
	}
	return n
}

// reducibleRange returns [start, end) — the slice of History that thinning
// may touch: everything after the System prefix and before the final User
// message. If no such range exists, ok is false.
func (cw *ContextWindow) reducibleRange() (start, end int, ok bool) {
	start = cw.systemPrefixLen()
	end = len(cw.History)
	for end > start && cw.History[end-1].Role != provider.RoleUser {
		end--
	}
	if end > start {
		end--
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// Thin summarizes the oldest third of the reducible range (thin_context):
// merges adjacent messages into a compact "[thinned: N messages, key
// items: ...]" summary. Returns a human-readable description and the
// number of characters saved.
func (cw *ContextWindow) Thin() (summary string, charsSaved int) {
	start, end, ok := cw.reducibleRange()
	if !ok {
		return "", 0
	}
	third := start + (end-start)/3
	if third <= start {
		third = end
	}
	return cw.thinRange(start, third)
}

// ThinAll ("skinnify") applies the same policy to the entire reducible
// range instead of just its oldest third.
func (cw *ContextWindow) ThinAll() (summary string, charsSaved int) {
	start, end, ok := cw.reducibleRange()
	if !ok {
		return "", 0
	}
	return cw.thinRange(start, end)
}

func (cw *ContextWindow) thinRange(start, end int) (string, int) {
	if end <= start {
		return "", 0
	}

	region := cw.History[start:end]
	before := 0
	for _, m := range region {
		before += len(m.Content)
	}

	items := extractKeyItems(region)
	replacement := Message{
		Role:    provider.RoleAssistant,
		Content: fmt.Sprintf("[thinned: %d messages, key items: %s]", len(region), strings.Join(items, ", ")),
		Kind:    KindRegular,
	}

	newHistory := make([]Message, 0, len(cw.History)-len(region)+1)
	newHistory = append(newHistory, cw.History[:start]...)
	newHistory = append(newHistory, replacement)
	newHistory = append(newHistory, cw.History[end:]...)
	cw.History = newHistory

	cw.LastThinningPercentage = cw.PercentageUsed()
	cw.RecalculateTokens()

	after := len(replacement.Content)
	saved := before - after
	if saved < 0 {
		saved = 0
	}
	return replacement.Content, saved
}

// extractKeyItems pulls a short list of salient tokens (filenames, tool
// names, first lines) out of a thinned region, capped to keep the summary
// compact.
func extractKeyItems(region []Message) []string {
	var items []string
	seen := map[string]bool{}
	for _, m := range region {
		line := firstLine(m.Content)
		if line == "" {
			continue
		}
		line = TruncateToChars(line, 40, "...")
		if seen[line] {
			continue
		}
		seen[line] = true
		items = append(items, line)
		if len(items) >= 5 {
			break
		}
	}
	return items
}

// LastTrailingToolCall returns the last tool call embedded in the most
// recent Assistant message, but only if nothing but whitespace follows it
// in that message's content — i.e. it genuinely "trails" the message. This
// backs the duplicate detector's DupInMsg check (C8) without re-scanning
// serialized strings in the turn loop.
func (cw *ContextWindow) LastTrailingToolCall() (ToolCall, bool) {
	for i := len(cw.History) - 1; i >= 0; i-- {
		m := cw.History[i]
		if m.Role != provider.RoleAssistant {
			continue
		}
		p := NewToolCallParser()
		p.ProcessChunk(m.Content)
		pending := p.PendingToolCalls()
		if len(pending) == 0 {
			return ToolCall{}, false
		}
		last := pending[len(pending)-1]
		trailing := strings.TrimSpace(string([]rune(m.Content)[last.End:]))
		if trailing != "" {
			return ToolCall{}, false
		}
		return last.ToolCall, true
	}
	return ToolCall{}, false
}
