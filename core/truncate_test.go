package core

import (
	"strings"
	"testing"
)

func TestTruncateToChars(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		n      int
		suffix string
		want   string
	}{
		{"under limit unchanged", "hello", 10, "...", "hello"},
		{"exact limit unchanged", "hello", 5, "...", "hello"},
		{"over limit truncates", "hello world", 5, "...", "hello..."},
		{"fifty chars untruncated", strings.Repeat("a", 50), 50, "...", strings.Repeat("a", 50)},
		{"fifty-one chars truncated", strings.Repeat("a", 51), 50, "...", strings.Repeat("a", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToChars(tt.input, tt.n, tt.suffix)
			if got != tt.want {
				t.Errorf("TruncateToChars(%q, %d, %q) = %q, want %q", tt.input, tt.n, tt.suffix, got, tt.want)
			}
		})
	}
}

func TestTruncateToCharsCJKNeverPanics(t *testing.T) {
	cjk := strings.Repeat("漢", 60)
	got := TruncateToChars(cjk, 50, "...")
	if len([]rune(got)) != 53 {
		t.Errorf("expected 50 runes + 3-rune suffix, got %d runes", len([]rune(got)))
	}
}

func TestTruncateToCharsEmojiAndCombining(t *testing.T) {
	// Family emoji (ZWJ sequence) and a combining acute accent — these are
	// multiple runes per visual glyph; TruncateToChars only guarantees
	// rune-boundary safety, not grapheme-cluster integrity.
	s := "👨‍👩‍👧‍👦 café done"
	if got := TruncateToChars(s, 1000, "..."); got != s {
		t.Errorf("short string should be unchanged, got %q", got)
	}
	_ = TruncateToChars(s, 3, "...") // must not panic
}
