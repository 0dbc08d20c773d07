package core

import (
	"context"
	"errors"
	"testing"

	"cosmos/core/provider"
)

type mockCompletionProvider struct {
	summary string
	err     error
	name    string
	model   string
}

func (m *mockCompletionProvider) Send(context.Context, provider.Request) (provider.StreamIterator, error) {
	return nil, errors.New("not implemented")
}
func (m *mockCompletionProvider) Complete(context.Context, provider.Request) (string, *provider.Usage, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	return m.summary, &provider.Usage{TotalTokens: 42}, nil
}
func (m *mockCompletionProvider) ListModels(context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (m *mockCompletionProvider) Name() string                                             { return m.name }
func (m *mockCompletionProvider) Model() string                                            { return m.model }
func (m *mockCompletionProvider) HasNativeToolCalling() bool                                { return true }
func (m *mockCompletionProvider) SupportsCacheControl() bool                                { return false }
func (m *mockCompletionProvider) MaxTokens() int                                            { return 4096 }
func (m *mockCompletionProvider) Temperature() float64                                      { return 1.0 }

var _ provider.Provider = (*mockCompletionProvider)(nil)

func TestPerformCompactionSuccess(t *testing.T) {
	cw := NewContextWindow(100000, "system prompt with tool-usage instructions")
	for i := 0; i < 8; i++ {
		cw.AddMessage(Message{Role: provider.RoleUser, Content: "question about the codebase"}, false)
		cw.AddMessage(Message{Role: provider.RoleAssistant, Content: "a reasonably detailed answer"}, false)
	}
	latestUser := Message{Role: provider.RoleUser, Content: "one more question"}

	compactor := &Compactor{
		Provider: &mockCompletionProvider{summary: "Summary of prior work.", name: "bedrock", model: "claude"},
		Retry:    InteractiveRetry(),
	}

	result := compactor.PerformCompaction(context.Background(), cw, latestUser)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}

	if len(cw.History) != 3 {
		t.Fatalf("expected [system, summary, latestUser], got %d messages", len(cw.History))
	}
	if cw.History[0].Role != provider.RoleSystem {
		t.Error("expected first message to remain System")
	}
	if cw.History[1].Kind != KindSummary {
		t.Errorf("expected second message to be Kind=Summary, got %v", cw.History[1].Kind)
	}
	if cw.History[2].Content != latestUser.Content {
		t.Error("expected last message to be the latest user message")
	}
}

func TestPerformCompactionFailureLeavesHistoryUnchanged(t *testing.T) {
	cw := NewContextWindow(100000, "system prompt")
	cw.AddMessage(Message{Role: provider.RoleUser, Content: "hello"}, false)
	before := len(cw.History)

	compactor := &Compactor{
		Provider: &mockCompletionProvider{err: errors.New("401 unauthorized"), name: "bedrock", model: "claude"},
		Retry:    InteractiveRetry(),
	}

	result := compactor.PerformCompaction(context.Background(), cw, Message{Role: provider.RoleUser, Content: "hello"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(cw.History) != before {
		t.Errorf("expected history unchanged on failure, got %d messages (was %d)", len(cw.History), before)
	}
}

func TestCappedSummaryTokensFloor(t *testing.T) {
	got := CappedSummaryTokens(ProviderFamilyAnthropic, 1)
	if got != SummaryMinTokens {
		t.Errorf("expected floor of %d, got %d", SummaryMinTokens, got)
	}
}

func TestCappedSummaryTokensCeiling(t *testing.T) {
	got := CappedSummaryTokens(ProviderFamilyEmbedded, 1_000_000)
	if got != 3000 {
		t.Errorf("expected embedded ceiling of 3000, got %d", got)
	}
}

// TestResolveMaxTokensSummaryFloorFallback exercises the spec §4.6 Step 3
// fallback on the summary path, where the Anthropic/Databricks ceiling
// (10000) is greater than summaryMinTokensFloor (5000): once thinning can't
// free enough room, the floor must win even though desired > floor.
func TestResolveMaxTokensSummaryFloorFallback(t *testing.T) {
	cw := NewContextWindow(100, "system prompt")
	cw.AddMessage(Message{Role: provider.RoleUser, Content: "only the trailing user message, nothing reducible"}, false)

	desired := CappedSummaryTokens(ProviderFamilyAnthropic, 0)
	if desired <= summaryMinTokensFloor {
		t.Fatalf("test assumes desired > floor, got desired=%d floor=%d", desired, summaryMinTokensFloor)
	}

	got := ResolveMaxTokens(cw, desired, true)
	if got != summaryMinTokensFloor {
		t.Errorf("expected unconditional floor of %d once thinning can't free %d tokens, got %d", summaryMinTokensFloor, desired, got)
	}
}

// TestResolveMaxTokensMainCompletionFloorFallback is the same scenario on
// the non-summary (main completion) path, where floor=mainCompletionMinTokens
// is well below typical desired values but the fallback must still apply
// unconditionally once freed room is insufficient.
func TestResolveMaxTokensMainCompletionFloorFallback(t *testing.T) {
	cw := NewContextWindow(10, "system prompt")
	cw.AddMessage(Message{Role: provider.RoleUser, Content: "trailing user message"}, false)

	got := ResolveMaxTokens(cw, 20000, false)
	if got != mainCompletionMinTokens {
		t.Errorf("expected main-completion floor of %d, got %d", mainCompletionMinTokens, got)
	}
}
