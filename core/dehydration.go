package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cosmos/core/provider"
)

// Fragment is a write-once bundle of messages paged out of the live
// context window during dehydration.
type Fragment struct {
	FragmentID  string    `json:"fragment_id"`
	PrecedingID string    `json:"preceding_id,omitempty"`
	Messages    []Message `json:"messages"`
	Topics      []string  `json:"topics"`
}

// DehydrationStore persists Fragments to a session-scoped directory, one
// file per fragment keyed by fragment_id, matching core/session.go's
// atomic write-then-rename pattern.
type DehydrationStore struct {
	dir        string
	latestID   string // most recently written fragment, for PrecedingID chaining
}

// NewDehydrationStore creates (or reuses) a fragment directory under
// sessionDir/fragments.
func NewDehydrationStore(sessionDir string) (*DehydrationStore, error) {
	dir := filepath.Join(sessionDir, "fragments")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating fragment directory: %w", err)
	}
	return &DehydrationStore{dir: dir}, nil
}

const maxTopics = 3

// topicHeadChars is the character budget (not byte budget) for a topic
// string before the ellipsis suffix, matching B4's 50-character boundary.
const topicHeadChars = 50

// Dehydrate bundles messages (a contiguous range of live history) into a new
// Fragment chained off the store's most recently written fragment, writes
// it to disk, and returns the fragment plus a ready-to-insert stub message.
// The caller is responsible for replacing that range in the live
// ContextWindow with the returned stub (and appending the turn's final
// assistant response as a Summary-kind message after it).
func (s *DehydrationStore) Dehydrate(messages []Message) (*Fragment, Message, error) {
	frag := &Fragment{
		FragmentID:  uuid.New().String(),
		PrecedingID: s.latestID,
		Messages:    messages,
		Topics:      extractTopics(messages),
	}

	if err := s.write(frag); err != nil {
		return nil, Message{}, err
	}
	s.latestID = frag.FragmentID

	stub := Message{
		Role:    provider.RoleUser,
		Kind:    KindDehydratedStub,
		Content: buildStubContent(frag),
	}
	return frag, stub, nil
}

// Rehydrate reads a fragment back from disk by ID, restoring its exact
// original message sequence.
func (s *DehydrationStore) Rehydrate(fragmentID string) (*Fragment, error) {
	path := s.fragmentPath(fragmentID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fragment %s: %w", fragmentID, err)
	}
	var frag Fragment
	if err := json.Unmarshal(data, &frag); err != nil {
		return nil, fmt.Errorf("decoding fragment %s: %w", fragmentID, err)
	}
	return &frag, nil
}

func (s *DehydrationStore) write(frag *Fragment) error {
	path := s.fragmentPath(frag.FragmentID)
	data, err := json.MarshalIndent(frag, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding fragment: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalizing fragment: %w", err)
	}
	return nil
}

func (s *DehydrationStore) fragmentPath(fragmentID string) string {
	return filepath.Join(s.dir, fragmentID+".json")
}

// LatestFragmentID returns the fragment_id most recently written by this
// store (empty if none), for chaining PrecedingID across dehydrations.
func (s *DehydrationStore) LatestFragmentID() string {
	return s.latestID
}

// SeedPrecedingID primes the store's chain head from a previously saved
// session's SavedSession.LastFragmentID, so the next Dehydrate call's
// PrecedingID continues the chain instead of starting a new one.
func (s *DehydrationStore) SeedPrecedingID(fragmentID string) {
	s.latestID = fragmentID
}

func buildStubContent(frag *Fragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[dehydrated: fragment %s]\n", frag.FragmentID)
	if len(frag.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(frag.Topics, "; "))
	}
	b.WriteString("Use the rehydrate tool with this fragment_id to re-inject the hidden messages.")
	return b.String()
}

// extractTopics derives up to maxTopics short topic strings from the heads
// of user messages in the fragment, each truncated at a character boundary.
func extractTopics(messages []Message) []string {
	var topics []string
	for _, m := range messages {
		if m.Role != provider.RoleUser {
			continue
		}
		head := firstLine(m.Content)
		if head == "" {
			continue
		}
		topics = append(topics, TruncateToChars(head, topicHeadChars, "..."))
		if len(topics) >= maxTopics {
			break
		}
	}
	return topics
}
