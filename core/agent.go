package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cosmos/core/provider"
	"cosmos/engine/manifest"
	"cosmos/engine/policy"
)

// defaultContextWindowBudget seeds a ContextWindow before the model's real
// context window size is known (resolved lazily via getModelInfo on first
// use). It is large enough that no turn thins or compacts prematurely.
const defaultContextWindowBudget = 200_000

// SystemPromptToolMarker must appear in the System message every Session is
// constructed with (I1). validateSystemPromptIsFirst checks for it verbatim;
// a system prompt assembled without it fails construction.
const SystemPromptToolMarker = "IMPORTANT: You must call tools to achieve goals"

// validateSystemPromptIsFirst enforces I1: the first message in the live
// context window is always a System message carrying the tool-usage
// marker. Called at construction and again on Stop (the Go analogue of the
// original's Drop-time re-check), since both are points where a caller
// could plausibly have mutated cw.History out from under the invariant.
// Violation is fatal and unconditional, matching the original panic.
func validateSystemPromptIsFirst(cw *ContextWindow) {
	if len(cw.History) == 0 {
		panic("cosmos: FATAL: conversation history is empty; system prompt must be the first message")
	}
	first := cw.History[0]
	if first.Role != provider.RoleSystem {
		panic(fmt.Sprintf("cosmos: FATAL: first message is not a System message, found role %q", first.Role))
	}
	if !strings.Contains(first.Content, SystemPromptToolMarker) {
		panic("cosmos: FATAL: first System message does not contain the tool-usage marker")
	}
}

// Session is the agent facade (C9): it owns the live ContextWindow and
// drives it through a TurnLoop on a background goroutine, translating the
// turn loop's UIWriter callbacks into Notifier events and keeping the
// flattened provider.Message history SaveSession persists in sync.
type Session struct {
	provider provider.Provider
	tracker  *Tracker
	notifier Notifier
	executor ToolExecutor
	tools    []provider.ToolDefinition

	model     string
	systemMsg string
	maxTokens int

	id          string // UUID v4, generated at creation
	auditLogger *policy.AuditLogger
	evaluator   *policy.Evaluator

	mu        sync.Mutex
	history   []provider.Message
	createdAt time.Time

	userMsgChan chan string
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	cachedModelInfo *provider.ModelInfo
	modelInfoOnce   sync.Once

	warned50 bool // 50% context warning already sent (reset after compaction)

	cw *ContextWindow

	snapshotUpdater      SnapshotContextUpdater
	sessionsDir          string
	currentInteractionID string
	currentToolCallID    string
	currentToolName      string
	currentToolArgs      map[string]any

	autoMemory        bool
	acdEnabled        bool
	dehydration       *DehydrationStore
	toolCallsThisTurn []string

	warnThresholdPct    float64
	compactThresholdPct float64
	retryMaxAttempts    int

	totalToolCalls int
	turnCount      int
}

// SessionStats is a lightweight counter snapshot surfaced for diagnostics.
type SessionStats struct {
	TotalToolCalls int
	TurnCount      int
}

// Stats returns the session's cumulative tool-call and turn counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{TotalToolCalls: s.totalToolCalls, TurnCount: s.turnCount}
}

// NewSession creates a new conversation session.
func NewSession(
	sessionID string,
	prov provider.Provider,
	tracker *Tracker,
	notifier Notifier,
	model string,
	systemMsg string,
	maxTokens int,
	executor ToolExecutor,
	tools []provider.ToolDefinition,
	auditLogger *policy.AuditLogger,
	evaluator *policy.Evaluator,
) *Session {
	cw := NewContextWindow(defaultContextWindowBudget, systemMsg)
	validateSystemPromptIsFirst(cw)

	return &Session{
		provider:    prov,
		tracker:     tracker,
		notifier:    notifier,
		model:       model,
		systemMsg:   systemMsg,
		maxTokens:   maxTokens,
		executor:    executor,
		tools:       tools,
		id:          sessionID,
		auditLogger: auditLogger,
		evaluator:   evaluator,
		createdAt:   time.Now().UTC(),
		userMsgChan:         make(chan string, 16),
		stopChan:            make(chan struct{}),
		cw:                  cw,
		warnThresholdPct:    50.0,
		compactThresholdPct: 90.0,
	}
}

// SetThresholds overrides the percentage-of-context-used thresholds that
// drive the 50%-warning and 90%-auto-compact notifications. Values <= 0
// leave the corresponding threshold at its default.
func (s *Session) SetThresholds(warnPct, compactPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if warnPct > 0 {
		s.warnThresholdPct = warnPct
	}
	if compactPct > 0 {
		s.compactThresholdPct = compactPct
	}
}

// SetRetryMaxAttempts overrides the interactive retry budget (see C4's
// InteractiveRetry). A value <= 0 restores the built-in default.
func (s *Session) SetRetryMaxAttempts(n int) {
	s.mu.Lock()
	s.retryMaxAttempts = n
	s.mu.Unlock()
}

// SubmitMessage queues a user message for processing.
func (s *Session) SubmitMessage(text string) {
	select {
	case s.userMsgChan <- text:
	case <-s.stopChan:
	}
}

// Start begins the background conversation loop.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop gracefully terminates the session. Safe to call multiple times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.mu.Lock()
		cw := s.cw
		s.mu.Unlock()
		validateSystemPromptIsFirst(cw)
		if s.auditLogger != nil {
			if err := s.auditLogger.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "cosmos: audit log close failed: %v\n", err)
			}
		}
	})
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// SetSnapshotContextUpdater wires a VFS snapshotter (or any duck-typed
// equivalent) so each tool dispatch scopes its file snapshots to the
// current interaction and tool call.
func (s *Session) SetSnapshotContextUpdater(updater SnapshotContextUpdater) {
	s.snapshotUpdater = updater
}

// SetSessionsDir wires the directory ListSavedSessions reads from, used by
// Completions to offer /restore <filename> suggestions.
func (s *Session) SetSessionsDir(dir string) {
	s.sessionsDir = dir
}

// RecordFileChange is the SnapshotFunc callback target: it reports one
// file mutation, scoped to the interaction currently in flight, to the
// changelog page.
func (s *Session) RecordFileChange(path, operation string, wasNewFile bool) {
	s.mu.Lock()
	interactionID := s.currentInteractionID
	s.mu.Unlock()
	if s.notifier == nil {
		return
	}
	s.notifier.Send(FileChangeEvent{
		InteractionID: interactionID,
		Timestamp:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		Path:          path,
		Operation:     operation,
		WasNewFile:    wasNewFile,
	})
}

// SetAutoMemory toggles the post-turn reminder that nudges the model to
// call the remember tool after a turn that used tools.
func (s *Session) SetAutoMemory(enabled bool) {
	s.mu.Lock()
	s.autoMemory = enabled
	s.mu.Unlock()
}

// SetACDEnabled toggles aggressive context dehydration: when enabled, each
// turn's non-system history (beyond what's already been dehydrated) is
// paged to a fragment on disk and replaced with a compact stub. Lazily
// creates the DehydrationStore under the sessions directory on first
// enable; a dir set later via SetSessionsDir takes effect on the next
// enable.
func (s *Session) SetACDEnabled(enabled bool) {
	s.mu.Lock()
	s.acdEnabled = enabled
	needsStore := enabled && s.dehydration == nil && s.sessionsDir != ""
	dir := s.sessionsDir
	s.mu.Unlock()

	if needsStore {
		if store, err := NewDehydrationStore(dir); err == nil {
			s.mu.Lock()
			s.dehydration = store
			s.mu.Unlock()
		}
	}
}

// ForceCompact manually triggers compaction (C6), as if the user had typed
// /compact.
func (s *Session) ForceCompact(ctx context.Context) error {
	return s.handleCompactCommand(ctx)
}

// ForceThin manually thins the oldest third of history (excluding the
// system prefix and trailing user message).
func (s *Session) ForceThin() (summary string, charsSaved int) {
	summary, charsSaved = s.cw.Thin()
	s.syncHistory()
	return summary, charsSaved
}

// ForceThinAll ("skinnify") thins the whole reducible history in one pass.
func (s *Session) ForceThinAll() (summary string, charsSaved int) {
	summary, charsSaved = s.cw.ThinAll()
	s.syncHistory()
	return summary, charsSaved
}

// ClearSession resets the conversation back to just its system prefix.
func (s *Session) ClearSession() {
	s.cw.Clear()
	s.syncHistory()
	s.mu.Lock()
	s.warned50 = false
	s.mu.Unlock()
	s.notifier.Send(ClearedEvent{})
}

// RestoreFromContinuation reloads a previously saved session's full
// transcript and rebuilds the live context window from it, keeping the
// current system prefix in place.
func (s *Session) RestoreFromContinuation(sessionsDir, filename string) error {
	saved, err := LoadSavedSession(sessionsDir, filename)
	if err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	var systemPrefix []Message
	for _, m := range s.cw.History {
		if m.Role != provider.RoleSystem {
			break
		}
		systemPrefix = append(systemPrefix, m)
	}

	hist := make([]Message, 0, len(systemPrefix)+len(saved.History))
	hist = append(hist, systemPrefix...)
	for _, m := range saved.History {
		hist = append(hist, Message{
			Role:         m.Role,
			Content:      m.Content,
			Images:       m.Images,
			CacheControl: m.CacheControl,
		})
	}

	s.cw.History = hist
	s.cw.RecalculateTokens()
	s.syncHistory()

	s.SetAutoMemory(saved.AutoMemoryEnabled)
	s.SetACDEnabled(saved.ACDEnabled)
	if saved.LastFragmentID != "" {
		s.mu.Lock()
		store := s.dehydration
		s.mu.Unlock()
		if store != nil {
			store.SeedPrecedingID(saved.LastFragmentID)
		}
	}
	return nil
}

// ReloadProjectContext re-reads AGENTS.md and README.md from the working
// directory and replaces the second system message with their combined
// content, if that message already carries project-context markers (i.e.
// it was populated by the same mechanism at startup). Returns false if no
// such message exists or neither file was found.
func (s *Session) ReloadProjectContext() (bool, error) {
	if len(s.cw.History) < 2 {
		return false, nil
	}
	second := s.cw.History[1]
	hasProjectContext := second.Role == provider.RoleSystem &&
		(strings.Contains(second.Content, "Project README") || strings.Contains(second.Content, "Agent Configuration"))
	if !hasProjectContext {
		return false, nil
	}

	var combined strings.Builder
	found := false
	if data, err := os.ReadFile("AGENTS.md"); err == nil {
		combined.WriteString("# Agent Configuration\n\n")
		combined.Write(data)
		combined.WriteString("\n\n")
		found = true
	}
	if data, err := os.ReadFile("README.md"); err == nil {
		combined.WriteString("# Project README\n\n")
		combined.Write(data)
		found = true
	}
	if !found {
		return false, nil
	}

	s.cw.History[1].Content = combined.String()
	s.cw.RecalculateTokens()
	s.syncHistory()
	return true, nil
}

var sessionSlashCommands = []string{"/compact", "/clear", "/context", "/model", "/restore"}

// Completions implements ui.CompletionProvider.
func (s *Session) Completions(prefix string) []string {
	if !strings.HasPrefix(prefix, "/") {
		return nil
	}
	if prefix == "/restore" || strings.HasPrefix(prefix, "/restore ") {
		return s.restoreCompletions()
	}
	var out []string
	for _, c := range sessionSlashCommands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) restoreCompletions() []string {
	if s.sessionsDir == "" {
		return nil
	}
	sessions, err := ListSavedSessions(s.sessionsDir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, "/restore "+sess.Filename)
	}
	return out
}

// loop is the background goroutine that serializes user message processing.
func (s *Session) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case userText := <-s.userMsgChan:
			s.wg.Add(1)
			if err := s.processUserMessage(ctx, userText); err != nil {
				s.notifier.Send(ErrorEvent{Error: err.Error()})
			}
			s.wg.Done()
		}
	}
}

// processUserMessage drives one user prompt through the turn loop (C7) to
// completion. It blocks until the turn is fully resolved: any tool calls
// dispatched, auto-continue settled, and (for autonomous callers) any
// end-of-turn dehydration run.
func (s *Session) processUserMessage(ctx context.Context, text string) error {
	if strings.HasPrefix(text, "/") {
		if handled, err := s.handleSlashCommand(ctx, text); handled {
			return err
		}
	}

	interactionID := uuid.New().String()
	s.mu.Lock()
	s.currentInteractionID = interactionID
	s.mu.Unlock()
	if s.snapshotUpdater != nil {
		s.snapshotUpdater.SetSnapshotContext(interactionID, "")
	}

	if modelInfo, err := s.getModelInfo(ctx); err == nil && modelInfo != nil && modelInfo.ContextWindow > 0 {
		s.cw.TotalTokens = modelInfo.ContextWindow
	}

	s.mu.Lock()
	s.turnCount++
	s.toolCallsThisTurn = nil
	s.mu.Unlock()

	s.mu.Lock()
	retryOverride := s.retryMaxAttempts
	s.mu.Unlock()
	retry := InteractiveRetry()
	if retryOverride > 0 {
		retry.MaxRetries = retryOverride
	}
	tl := &TurnLoop{
		Provider:        s.provider,
		Executor:        s.executor,
		UI:              s,
		ToolDefinitions: s.tools,
		Compactor:       &Compactor{Provider: s.provider, Retry: retry, Notifier: s},
		Dehydration:     s.dehydration,
		IsAutonomous:    false,
		Retry:           retry,
		MaxTokens:       s.maxTokens,
	}

	result, err := tl.ExecuteTurn(ctx, s.cw, text, TurnOptions{ACDEnabled: s.acdEnabled})
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	s.syncHistory()
	s.recordUsage(ctx, result.LastUsage)
	s.maybeSendAutoMemoryReminder(ctx, tl)
	s.ContextStatus(s.cw)
	s.notifier.Send(CompletionEvent{})
	return nil
}

// maybeSendAutoMemoryReminder asks the model, in a follow-up turn, to call
// the remember tool if tool calls this turn surfaced anything worth
// keeping in project memory. No-op if auto-memory is off (see
// SetAutoMemory), if no tools ran this turn, or if "remember" was already
// one of them.
func (s *Session) maybeSendAutoMemoryReminder(ctx context.Context, tl *TurnLoop) {
	s.mu.Lock()
	enabled := s.autoMemory
	calls := s.toolCallsThisTurn
	s.toolCallsThisTurn = nil
	s.mu.Unlock()

	if !enabled || len(calls) == 0 {
		return
	}
	for _, name := range calls {
		if name == "remember" {
			return
		}
	}

	const reminder = "SYSTEM REMINDER: You used tools during this turn. If you discovered any key code locations, patterns, or entry points that aren't already in Project Memory, please call the `remember` tool now to save them. If you didn't discover anything new worth remembering, you can skip this. Respond briefly after deciding."
	result, err := tl.ExecuteTurn(ctx, s.cw, reminder, TurnOptions{})
	if err != nil {
		return
	}
	s.syncHistory()
	if s.tracker != nil && result.LastUsage != nil {
		if modelInfo, err := s.getModelInfo(ctx); err == nil && modelInfo != nil {
			s.tracker.Record(*modelInfo, *result.LastUsage, SourceAutoMemory)
		}
	}
}

// handleSlashCommand dispatches a leading-slash user command. Returns
// handled=false for plain text (including an unrecognized slash command,
// which falls through and is sent to the model as-is, matching the
// original's behavior of treating unknown commands as chat input).
func (s *Session) handleSlashCommand(ctx context.Context, text string) (handled bool, err error) {
	switch {
	case text == "/compact":
		return true, s.handleCompactCommand(ctx)
	case text == "/clear":
		s.ClearSession()
		return true, nil
	case text == "/context":
		s.ContextStatus(s.cw)
		s.notifier.Send(SystemMessageEvent{Text: fmt.Sprintf("context: %.1f%% used", s.cw.PercentageUsed())})
		return true, nil
	case text == "/model":
		s.notifier.Send(SystemMessageEvent{Text: "model: " + s.model})
		return true, nil
	case text == "/restore" || strings.HasPrefix(text, "/restore "):
		filename := strings.TrimSpace(strings.TrimPrefix(text, "/restore"))
		if filename == "" {
			s.notifier.Send(SystemMessageEvent{Text: "usage: /restore <filename>"})
			return true, nil
		}
		if err := s.RestoreFromContinuation(s.sessionsDir, filename); err != nil {
			s.notifier.Send(SystemMessageEvent{Text: fmt.Sprintf("restore failed: %v", err)})
			return true, nil
		}
		s.notifier.Send(SystemMessageEvent{Text: "restored session from " + filename})
		s.notifier.Send(CompletionEvent{})
		return true, nil
	default:
		return false, nil
	}
}

// handleCompactCommand processes the /compact user command.
func (s *Session) handleCompactCommand(ctx context.Context) error {
	var latestUserMsg Message
	for i := len(s.cw.History) - 1; i >= 0; i-- {
		if s.cw.History[i].Role == provider.RoleUser {
			latestUserMsg = s.cw.History[i]
			break
		}
	}

	compactor := &Compactor{Provider: s.provider, Retry: InteractiveRetry(), Notifier: s}
	result := compactor.PerformCompaction(ctx, s.cw, latestUserMsg)
	s.CompactSummary(result)
	if !result.Success {
		return fmt.Errorf("compaction: %s", result.Error)
	}
	s.syncHistory()
	s.notifier.Send(CompletionEvent{})
	return nil
}

// syncHistory rebuilds the flattened provider.Message history SaveSession
// reads from the live ContextWindow, dropping the leading System prefix
// (the original always carried System separately via req.System).
func (s *Session) syncHistory() {
	hist := make([]provider.Message, 0, len(s.cw.History))
	for _, m := range s.cw.History {
		if m.Role == provider.RoleSystem {
			continue
		}
		hist = append(hist, provider.Message{
			Role:         m.Role,
			Content:      m.Content,
			Images:       m.Images,
			CacheControl: m.CacheControl,
		})
	}
	s.mu.Lock()
	s.history = hist
	s.mu.Unlock()
}

// recordUsage folds a turn's provider-reported usage into the cost tracker
// under SourcePrompt, using the cached model pricing info. No-op if the
// provider never reported usage for this turn.
func (s *Session) recordUsage(ctx context.Context, usage *provider.Usage) {
	if s.tracker == nil || usage == nil {
		return
	}
	modelInfo, err := s.getModelInfo(ctx)
	if err != nil || modelInfo == nil {
		return
	}
	s.tracker.Record(*modelInfo, *usage, SourcePrompt)
}

// stripRegionalPrefix removes a Bedrock regional prefix (e.g. "us.", "eu.",
// "ap.") from a model ID, returning the base model ID.
func stripRegionalPrefix(modelID string) string {
	prefixes := []string{"us.", "eu.", "ap."}
	for _, p := range prefixes {
		if after, found := strings.CutPrefix(modelID, p); found {
			return after
		}
	}
	return modelID
}

// getModelInfo retrieves model info for pricing and context-window sizing,
// caching the result after the first successful lookup.
func (s *Session) getModelInfo(ctx context.Context) (*provider.ModelInfo, error) {
	var fetchErr error
	s.modelInfoOnce.Do(func() {
		models, err := s.provider.ListModels(ctx)
		if err != nil {
			fetchErr = err
			return
		}
		baseModel := stripRegionalPrefix(s.model)
		for _, m := range models {
			if m.ID == s.model || m.ID == baseModel {
				info := m
				s.cachedModelInfo = &info
				return
			}
		}
	})
	if fetchErr != nil {
		s.modelInfoOnce = sync.Once{}
		return nil, fetchErr
	}
	return s.cachedModelInfo, nil
}

// ---- core.UIWriter implementation ----
// Session is the TurnLoop's UI sink: it has no rendering of its own, only
// the Notifier events that drive the TUI (or a headless adapter).

func (s *Session) NotifyRetry(kind ErrorKind, attempt, maxRetries int) {
	s.notifier.Send(RetryEvent{Kind: kind, Attempt: attempt, MaxRetries: maxRetries})
}

func (s *Session) AgentPromptOpen() {}

func (s *Session) AgentResponseText(text string) {
	s.notifier.Send(TokenEvent{Text: text})
}

func (s *Session) ToolHeader(name string, args map[string]any) {
	toolCallID := uuid.New().String()
	s.mu.Lock()
	s.currentToolCallID = toolCallID
	s.currentToolName = name
	s.currentToolArgs = args
	s.toolCallsThisTurn = append(s.toolCallsThisTurn, name)
	s.totalToolCalls++
	interactionID := s.currentInteractionID
	s.mu.Unlock()

	if s.snapshotUpdater != nil {
		s.snapshotUpdater.SetSnapshotContext(interactionID, toolCallID)
	}

	inputJSON, _ := json.Marshal(args)
	s.notifier.Send(ToolUseEvent{ToolCallID: toolCallID, ToolName: name, Input: string(inputJSON)})
}

func (s *Session) ToolOutput(output string, isError bool) {
	s.mu.Lock()
	toolCallID := s.currentToolCallID
	name := s.currentToolName
	args := s.currentToolArgs
	s.mu.Unlock()

	s.notifier.Send(ToolResultEvent{ToolCallID: toolCallID, ToolName: name, Result: output, IsError: isError})

	inputJSON, _ := json.Marshal(args)
	s.notifier.Send(ToolExecutionEvent{
		ToolCallID: toolCallID,
		ToolName:   name,
		Input:      string(inputJSON),
		Output:     output,
		IsError:    isError,
	})

	if s.auditLogger != nil {
		agentName := "unknown"
		if namer, ok := s.executor.(toolPermissionNamer); ok {
			if agent, _, found := namer.ToolPermissionRules(name); found {
				agentName = agent
			}
		}
		if err := s.auditLogger.Log(policy.AuditEntry{
			Agent:      agentName,
			Tool:       name,
			Permission: name,
			Decision:   decisionFromError(isError),
			Source:     "manifest",
			Arguments:  args,
			ToolCallID: toolCallID,
			Error:      errorStringFromOutput(output, isError),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "cosmos: audit log failed: %v\n", err)
		}
	}
}

// toolPermissionNamer is satisfied by *runtime.V8Executor and
// *runtime.PermissionGate (which forwards to its wrapped executor): it
// resolves a tool name to the manifest agent that registered it, for the
// audit trail.
type toolPermissionNamer interface {
	ToolPermissionRules(name string) (agentName string, rules []manifest.PermissionRule, ok bool)
}

func decisionFromError(isError bool) string {
	if isError {
		return "denied"
	}
	return "allowed"
}

func errorStringFromOutput(output string, isError bool) string {
	if isError {
		return output
	}
	return ""
}

func (s *Session) CompactSummary(result CompactionResult) {
	if !result.Success {
		s.notifier.Send(CompactionFailedEvent{Error: result.Error})
		return
	}
	newTokens := s.cw.UsedTokens
	oldTokens := newTokens + int(float64(result.CharsSaved)/charsPerToken)
	s.notifier.Send(CompactionCompleteEvent{OldTokens: oldTokens, NewTokens: newTokens})
	s.mu.Lock()
	s.warned50 = false
	s.mu.Unlock()
}

func (s *Session) TimingFooter(TurnMetrics) {}

// ContextStatus publishes the status-bar percentage and fires the warning
// (one-shot, reset on compaction) and auto-compact threshold notifications
// (50% and 90% by default; see SetThresholds).
func (s *Session) ContextStatus(cw *ContextWindow) {
	pct := cw.PercentageUsed()
	s.notifier.Send(ContextUpdateEvent{Percentage: pct, ModelID: s.model})

	s.mu.Lock()
	warnThreshold := s.warnThresholdPct
	compactThreshold := s.compactThresholdPct
	s.mu.Unlock()

	switch {
	case pct >= compactThreshold:
		s.notifier.Send(ContextAutoCompactEvent{Percentage: pct, ModelID: s.model})
	case pct >= warnThreshold:
		s.mu.Lock()
		shouldWarn := !s.warned50
		if shouldWarn {
			s.warned50 = true
		}
		s.mu.Unlock()
		if shouldWarn {
			s.notifier.Send(ContextWarningEvent{Percentage: pct, Threshold: warnThreshold, ModelID: s.model})
		}
	default:
		s.mu.Lock()
		s.warned50 = false
		s.mu.Unlock()
	}
}

func (s *Session) JSONFilterReset() {}
func (s *Session) MarkdownFinish()  {}

// WantsFullOutput is true: the interactive TUI renders untruncated output.
func (s *Session) WantsFullOutput() bool { return true }

var (
	_ UIWriter      = (*Session)(nil)
	_ RetryNotifier = (*Session)(nil)
)
