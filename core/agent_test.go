package core

import (
	"context"
	"io"
	"sync"

	"cosmos/core/provider"
)

// mockStreamIterator replays a fixed slice of chunks, then io.EOF.
type mockStreamIterator struct {
	chunks []provider.StreamChunk
	idx    int
}

func (m *mockStreamIterator) Next() (provider.StreamChunk, error) {
	if m.idx >= len(m.chunks) {
		return provider.StreamChunk{}, io.EOF
	}
	c := m.chunks[m.idx]
	m.idx++
	return c, nil
}

func (m *mockStreamIterator) Close() error { return nil }

// mockProvider replays one fixed stream per call to Send, in order.
type mockProvider struct {
	calls   [][]provider.StreamChunk
	callIdx int
}

func (m *mockProvider) Send(_ context.Context, _ provider.Request) (provider.StreamIterator, error) {
	if m.callIdx >= len(m.calls) {
		return &mockStreamIterator{}, nil
	}
	chunks := m.calls[m.callIdx]
	m.callIdx++
	return &mockStreamIterator{chunks: chunks}, nil
}

func (m *mockProvider) Complete(_ context.Context, _ provider.Request) (string, *provider.Usage, error) {
	return "", nil, nil
}

func (m *mockProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) { return nil, nil }
func (m *mockProvider) Name() string                                              { return "mock" }
func (m *mockProvider) Model() string                                             { return "test-model" }
func (m *mockProvider) HasNativeToolCalling() bool                                { return false }
func (m *mockProvider) SupportsCacheControl() bool                                { return false }
func (m *mockProvider) MaxTokens() int                                            { return 4096 }
func (m *mockProvider) Temperature() float64                                      { return 1.0 }

// mockNotifier records every event sent to it, for assertions.
type mockNotifier struct {
	mu     sync.Mutex
	events []any
}

func (n *mockNotifier) Send(msg any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, msg)
}

func (n *mockNotifier) Events() []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]any{}, n.events...)
}

// textChunks builds a one-chunk reply that ends the turn cleanly with a
// plain prose response and no tool call.
func textChunks(text string) []provider.StreamChunk {
	return []provider.StreamChunk{
		{
			Content:    text,
			StopReason: "end_turn",
			Usage:      &provider.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	}
}

// newTestSession builds a Session wired for unit tests: a nil tool
// executor and tool list (no tool calls are exercised by textChunks-based
// fixtures), no audit logger, and an "unlimited" starting budget.
func newTestSession(prov provider.Provider, tracker *Tracker, notifier Notifier) *Session {
	if tracker == nil {
		tracker = NewTracker(nil, nil)
	}
	return NewSession(
		"test-session-id",
		prov,
		tracker,
		notifier,
		"test-model",
		"You are a test assistant. " + SystemPromptToolMarker,
		4096,
		nil,
		nil,
		nil,
		nil,
	)
}
