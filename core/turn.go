package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cosmos/core/provider"
)

// MaxIterations bounds the number of provider streams a single turn may
// open before the loop gives up and fails.
const MaxIterations = 400

// MaxAutoSummaryAttempts bounds how many times autonomous mode will
// auto-continue a turn that stopped without a clean finish.
const MaxAutoSummaryAttempts = 5

// toolExecutionTimeout bounds a single tool dispatch. A timeout produces a
// failure result string; it never aborts the turn.
const toolExecutionTimeout = 8 * time.Minute

// AutoContinueReason names why the turn loop decided to keep going instead
// of returning control, in fixed priority order.
type AutoContinueReason int

const (
	AutoContinueNone AutoContinueReason = iota
	AutoContinueToolsExecuted
	AutoContinueIncompleteToolCall
	AutoContinueUnexecutedToolCall
	AutoContinueMaxTokensTruncation
)

// TaskResult is what one ExecuteTurn call returns: the final assistant
// response text (possibly empty, if the turn ended entirely through tool
// activity) and the context window it mutated.
type TaskResult struct {
	Response      string
	ContextWindow *ContextWindow

	// LastUsage is the most recent provider-reported token usage seen
	// during the turn (nil if the provider never reported one), for
	// callers that feed a cost tracker.
	LastUsage *provider.Usage
}

// TurnOptions parameterizes a single ExecuteTurn call.
type TurnOptions struct {
	WorkingDir string
	ACDEnabled bool // run C5 dehydration at the end of this turn, if configured
}

// TurnLoop is the central engine (C7): it opens provider streams (via the
// retry driver, C4), feeds chunks to the streaming tool parser (C2),
// dispatches completed non-duplicate (C8) tool calls to the external
// executor, and evaluates the auto-continue state machine.
type TurnLoop struct {
	Provider        provider.Provider
	Executor        ToolExecutor
	UI              UIWriter
	ToolDefinitions []provider.ToolDefinition
	Compactor       *Compactor
	Dehydration     *DehydrationStore

	IsAutonomous bool
	Retry        RetryConfig

	// MaxTokens caps the response length requested per stream. Zero falls
	// back to Provider.MaxTokens().
	MaxTokens int

	// PendingImages is the shared pending-image queue (spec §5) a tool
	// dispatch can push into; ExecuteTurn drains it into the next
	// tool-result message. Left nil, a fresh queue is allocated per turn.
	PendingImages *ImageQueue
}

// ErrCancelled is returned when the turn's context is cancelled.
var ErrCancelled = errors.New("turn cancelled")

// ExecuteTurn appends userMessage to cw and drives the loop described in
// spec §4.7 until the turn finishes, is cancelled, or exceeds
// MaxIterations.
func (tl *TurnLoop) ExecuteTurn(ctx context.Context, cw *ContextWindow, userMessage string, opts TurnOptions) (TaskResult, error) {
	cw.AddMessage(Message{Role: provider.RoleUser, Content: userMessage}, false)
	latestUserMsg := cw.History[len(cw.History)-1]

	if tl.PendingImages == nil {
		tl.PendingImages = &ImageQueue{}
	}

	iteration := 0
	anyToolExecuted := false
	autoSummaryAttempts := 0
	var lastResponse string
	var lastUsage *provider.Usage

	for {
		iteration++
		if iteration > MaxIterations {
			return TaskResult{}, fmt.Errorf("turn exceeded max iterations (%d)", MaxIterations)
		}
		if err := ctx.Err(); err != nil {
			return TaskResult{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		if err := tl.preStreamReduce(ctx, cw, latestUserMsg); err != nil {
			return TaskResult{}, err
		}

		parser := NewToolCallParser()
		currentResponse := ""
		toolExecutedThisIteration := false
		contentReceived := false
		var stopReason string
		var prevCall *ToolCall

		desiredTokens := tl.MaxTokens
		if desiredTokens <= 0 {
			desiredTokens = tl.Provider.MaxTokens()
		}
		maxTokens := ResolveMaxTokens(cw, desiredTokens, false)
		req := tl.buildRequest(cw, maxTokens)

		iter, err := WithRetry(ctx, tl.Retry, tl.UI, func(ctx context.Context) (provider.StreamIterator, error) {
			return tl.Provider.Send(ctx, req)
		})
		if err != nil {
			return TaskResult{}, fmt.Errorf("opening stream: %w", err)
		}

		for {
			chunk, nextErr := iter.Next()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				if contentReceived || anyToolExecuted {
					// Graceful end-of-stream: proceed to tool execution /
					// completion as if the stream ended cleanly.
					break
				}
				iter.Close()
				return TaskResult{}, fmt.Errorf("mid-stream error with no content received: %w", nextErr)
			}

			if chunk.Content != "" {
				contentReceived = true
			}
			if chunk.StopReason != "" {
				stopReason = chunk.StopReason
			}
			if chunk.Usage != nil {
				cw.UpdateUsage(chunk.Usage)
				lastUsage = chunk.Usage
			} else if chunk.Content != "" {
				cw.AddStreamingTokens(chunk.Content)
			}

			for _, call := range parser.ProcessChunk(chunk.Content) {
				call := call
				dupKind := DetectDuplicate(call, prevCall, cw)
				prevCall = &call
				if dupKind != DuplicateNone {
					continue
				}

				if newText := diffProse(parser, currentResponse); newText != "" {
					tl.UI.AgentResponseText(newText)
				}
				currentResponse = proseOnly(parser)

				if cw.ShouldThin() {
					cw.Thin()
				}

				cw.RecordToolCall()
				cw.AddMessage(Message{Role: provider.RoleAssistant, Content: reconstructToolCallContent(currentResponse, call)}, true)

				tl.UI.ToolHeader(call.Tool, call.Args)
				result, execErr := tl.dispatchTool(withPendingImages(ctx, tl.PendingImages), call)
				isError := execErr != nil
				if isError {
					result = fmt.Sprintf("failed: %v", execErr)
				}
				tl.UI.ToolOutput(result, isError)

				resultMsg := Message{Role: provider.RoleUser, Content: "Tool result: " + result}
				resultMsg.Images = tl.PendingImages.Drain()
				cw.AddMessage(resultMsg, false)

				parser.MarkToolCallsConsumed()
				if !parser.HasUnexecutedToolCall() {
					parser.Reset()
				}

				currentResponse = ""
				toolExecutedThisIteration = true
				anyToolExecuted = true
			}

			// Flush any prose this chunk added that wasn't already flushed
			// ahead of a tool dispatch above (the common case: a chunk
			// carrying no tool call at all).
			if newText := diffProse(parser, currentResponse); newText != "" {
				tl.UI.AgentResponseText(newText)
				currentResponse = proseOnly(parser)
			}
		}
		iter.Close()

		if toolExecutedThisIteration {
			continue
		}

		isEmptyResponse := !contentReceived && !anyToolExecuted
		if isEmptyResponse {
			return TaskResult{}, errors.New("no response received from provider")
		}

		hasIncomplete := parser.HasIncompleteToolCall()
		hasUnexecuted := parser.HasUnexecutedToolCall()
		wasTruncated := stopReason == "max_tokens"

		if tl.IsAutonomous {
			shouldContinue, reason := decideAutoContinue(anyToolExecuted, hasIncomplete, hasUnexecuted, wasTruncated)
			if shouldContinue && autoSummaryAttempts < MaxAutoSummaryAttempts {
				autoSummaryAttempts++
				cw.AddMessage(Message{Role: provider.RoleUser, Content: continuePrompt(reason)}, false)
				continue
			}
		}

		lastResponse = proseOnly(parser)
		if lastResponse != "" {
			cw.AddMessage(Message{Role: provider.RoleAssistant, Content: lastResponse}, false)
		}
		break
	}

	if opts.ACDEnabled && tl.Dehydration != nil {
		tl.runDehydration(cw)
	}

	return TaskResult{Response: lastResponse, ContextWindow: cw, LastUsage: lastUsage}, nil
}

// preStreamReduce applies step 1 of the per-iteration algorithm: if the
// window should compact, try thinning first when usage is critical
// (>90%), then fall back to full compaction; a compaction failure fails
// the turn only because it was the precondition for staying under budget.
func (tl *TurnLoop) preStreamReduce(ctx context.Context, cw *ContextWindow, latestUserMsg Message) error {
	if !cw.ShouldCompact() {
		return nil
	}
	if cw.PercentageUsed() > 90 {
		cw.Thin()
	}
	if !cw.ShouldCompact() {
		return nil
	}
	if tl.Compactor == nil {
		return errors.New("turn failed: context over capacity and no compactor configured")
	}
	result := tl.Compactor.PerformCompaction(ctx, cw, latestUserMsg)
	tl.UI.CompactSummary(result)
	if !result.Success {
		return fmt.Errorf("turn failed: compaction: %s", result.Error)
	}
	return nil
}

func (tl *TurnLoop) buildRequest(cw *ContextWindow, maxTokens int) provider.Request {
	messages, system := toProviderMessages(cw.History)
	req := provider.Request{
		Model:       tl.Provider.Model(),
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: tl.Provider.Temperature(),
	}
	if tl.Provider.HasNativeToolCalling() {
		req.Tools = tl.ToolDefinitions
	}
	return req
}

func (tl *TurnLoop) dispatchTool(ctx context.Context, call ToolCall) (string, error) {
	toolCtx, cancel := context.WithTimeout(ctx, toolExecutionTimeout)
	defer cancel()

	result, err := tl.Executor.Execute(toolCtx, call.Tool, call.Args)
	if err != nil && errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("tool %q timed out after %s", call.Tool, toolExecutionTimeout), nil
	}
	return result, err
}

func (tl *TurnLoop) runDehydration(cw *ContextWindow) {
	start := cw.systemPrefixLen()
	end := len(cw.History)
	if end-start < 2 {
		return
	}
	// Never re-dehydrate a previous stub+summary pair: a stub is always
	// immediately followed by the turn's summary message (see below), so
	// skip both and start just past the pair if one exists.
	for i := end - 1; i >= start; i-- {
		if cw.History[i].Kind == KindDehydratedStub {
			start = i + 2
			if start > end {
				start = end
			}
			break
		}
	}
	// Exclude the final assistant summary of this turn from the bundle.
	bundleEnd := end
	if bundleEnd > start && cw.History[bundleEnd-1].Role == provider.RoleAssistant {
		bundleEnd--
	}
	if bundleEnd-start < 1 {
		return
	}

	finalAssistant := cw.History[bundleEnd:end]
	toDehydrate := append([]Message(nil), cw.History[start:bundleEnd]...)

	_, stub, err := tl.Dehydration.Dehydrate(toDehydrate)
	if err != nil {
		return
	}

	newHistory := make([]Message, 0, start+1+len(finalAssistant))
	newHistory = append(newHistory, cw.History[:start]...)
	newHistory = append(newHistory, stub)
	for _, m := range finalAssistant {
		m.Kind = KindSummary
		newHistory = append(newHistory, m)
	}
	cw.History = newHistory
	cw.RecalculateTokens()
}

// reconstructToolCallContent rebuilds the text persisted to history for a
// turn that just dispatched a tool call: the prose seen so far (trimmed)
// joined to the tool-call JSON by a blank line, rather than whatever raw
// whitespace the stream happened to contain between them.
func reconstructToolCallContent(prose string, call ToolCall) string {
	argsJSON, err := json.Marshal(call.Args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	return fmt.Sprintf("%s\n\n{\"tool\": %q, \"args\": %s}", strings.TrimSpace(prose), call.Tool, argsJSON)
}

func decideAutoContinue(toolsExecuted, incomplete, unexecuted, truncated bool) (bool, AutoContinueReason) {
	switch {
	case toolsExecuted:
		return true, AutoContinueToolsExecuted
	case incomplete:
		return true, AutoContinueIncompleteToolCall
	case unexecuted:
		return true, AutoContinueUnexecutedToolCall
	case truncated:
		return true, AutoContinueMaxTokensTruncation
	default:
		return false, AutoContinueNone
	}
}

func continuePrompt(reason AutoContinueReason) string {
	if reason == AutoContinueIncompleteToolCall {
		return "Your previous response was cut off mid-tool-call. Please complete the tool call and continue."
	}
	return "Please continue until you are done."
}

// toProviderMessages splits cw's history into a flattened message slice and
// a combined system prompt, since provider.Request carries System
// separately from the conversation turns.
func toProviderMessages(history []Message) ([]provider.Message, string) {
	var system strings.Builder
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		if m.Role == provider.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		out = append(out, provider.Message{
			Role:         m.Role,
			Content:      m.Content,
			Images:       m.Images,
			CacheControl: m.CacheControl,
		})
	}
	return out, system.String()
}

// proseOnly returns the parser's accumulated text with every completed
// tool-call JSON span removed, for display and for the "raw prose the
// user has already seen" diff base.
func proseOnly(p *ToolCallParser) string {
	text := []rune(p.GetTextContent())
	var b strings.Builder
	last := 0
	for _, pc := range p.PendingToolCalls() {
		if pc.Start > last && pc.Start <= len(text) {
			b.WriteString(string(text[last:pc.Start]))
		}
		last = pc.End
	}
	if last < len(text) {
		b.WriteString(string(text[last:]))
	}
	return b.String()
}

// diffProse returns the portion of the parser's prose not yet shown,
// assuming shown is a prefix of the current prose (true by construction,
// since currentResponse is always reset to proseOnly(parser) after being
// displayed).
func diffProse(p *ToolCallParser, shown string) string {
	full := proseOnly(p)
	if len(full) <= len(shown) {
		return ""
	}
	return full[len(shown):]
}
