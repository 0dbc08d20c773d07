package core

import (
	"strings"
	"testing"

	"cosmos/core/provider"
)

func TestDehydrateRehydrateRoundTrip(t *testing.T) {
	store, err := NewDehydrationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDehydrationStore: %v", err)
	}

	messages := []Message{
		{Role: provider.RoleUser, Content: "please read main.go"},
		{Role: provider.RoleAssistant, Content: `{"tool": "readFile", "args": {"path": "main.go"}}`},
		{Role: provider.RoleUser, Content: "file contents here"},
	}

	frag, stub, err := store.Dehydrate(messages)
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	if stub.Kind != KindDehydratedStub {
		t.Errorf("expected stub Kind=DehydratedStub, got %v", stub.Kind)
	}
	if !strings.Contains(stub.Content, frag.FragmentID) {
		t.Errorf("expected stub to reference fragment id %s, got %q", frag.FragmentID, stub.Content)
	}

	restored, err := store.Rehydrate(frag.FragmentID)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if len(restored.Messages) != len(messages) {
		t.Fatalf("expected %d messages restored, got %d", len(messages), len(restored.Messages))
	}
	for i, m := range restored.Messages {
		if m.Content != messages[i].Content || m.Role != messages[i].Role || m.Kind != messages[i].Kind {
			t.Errorf("message %d mismatch: got %+v, want %+v", i, m, messages[i])
		}
	}
}

func TestDehydratePrecedingIDChains(t *testing.T) {
	store, err := NewDehydrationStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDehydrationStore: %v", err)
	}

	frag1, _, err := store.Dehydrate([]Message{{Role: provider.RoleUser, Content: "turn one"}})
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	if frag1.PrecedingID != "" {
		t.Errorf("expected first fragment to have no PrecedingID, got %q", frag1.PrecedingID)
	}

	frag2, _, err := store.Dehydrate([]Message{{Role: provider.RoleUser, Content: "turn two"}})
	if err != nil {
		t.Fatalf("Dehydrate: %v", err)
	}
	if frag2.PrecedingID != frag1.FragmentID {
		t.Errorf("expected second fragment to chain to first, got PrecedingID=%q want %q", frag2.PrecedingID, frag1.FragmentID)
	}
}

func TestExtractTopicsCapsAtThree(t *testing.T) {
	messages := []Message{
		{Role: provider.RoleUser, Content: "one"},
		{Role: provider.RoleUser, Content: "two"},
		{Role: provider.RoleUser, Content: "three"},
		{Role: provider.RoleUser, Content: "four"},
	}
	topics := extractTopics(messages)
	if len(topics) != 3 {
		t.Errorf("expected at most 3 topics, got %d: %v", len(topics), topics)
	}
}

func TestExtractTopicsCJKNeverByteSlices(t *testing.T) {
	cjk := strings.Repeat("漢", 60)
	messages := []Message{{Role: provider.RoleUser, Content: cjk}}
	topics := extractTopics(messages)
	if len(topics) != 1 {
		t.Fatalf("expected one topic, got %d", len(topics))
	}
	if !strings.HasSuffix(topics[0], "...") {
		t.Errorf("expected truncated topic to end in ellipsis, got %q", topics[0])
	}
}
