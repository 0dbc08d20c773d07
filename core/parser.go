package core

import "encoding/json"

// toolCallHomoglyph is a fullwidth left curly bracket, visually near-identical
// to ASCII '{' in most fonts but never matched by the ASCII-only tool-call
// scanner below. Used to sanitize prose-embedded tool-call-shaped JSON so it
// is never mistaken for a real, executable tool call.
const toolCallHomoglyph = '｛'

// ToolCall is a decoded tool invocation: the tool name and its JSON
// arguments.
type ToolCall struct {
	Tool string
	Args map[string]any
}

// ParsedToolCall is a ToolCall plus its position in the parser's text
// buffer and whether it has been marked consumed (executed).
type ParsedToolCall struct {
	ToolCall
	Start, End int
	Consumed   bool
}

// ToolCallParser consumes a stream of text chunks that mix prose with
// embedded tool-call JSON objects of the shape {"tool": "...", "args": {}},
// emitting each completed call exactly once.
//
// A tool-call pattern only counts as a real call when it is the first
// non-whitespace content on its line; occurrences embedded in prose are
// rewritten in place (their opening brace swapped for a homoglyph) so the
// completion scanner can never find them. This keeps ProcessChunk a pure
// scan over ASCII braces with no separate "is this really a call" check.
type ToolCallParser struct {
	buffer       []rune
	consumedUpTo int
	pending      []*ParsedToolCall
	incomplete   bool
}

// NewToolCallParser returns an empty parser.
func NewToolCallParser() *ToolCallParser {
	return &ToolCallParser{}
}

// ProcessChunk appends chunk to the buffer, sanitizes any newly-ambiguous
// inline patterns, and returns the tool calls newly completed as a result
// of this chunk.
func (p *ToolCallParser) ProcessChunk(chunk string) []ToolCall {
	if chunk == "" {
		return nil
	}
	p.buffer = append(p.buffer, []rune(chunk)...)
	p.sanitize()
	return p.scanForCompleted()
}

// GetTextContent returns the full accumulated text, sanitization applied.
func (p *ToolCallParser) GetTextContent() string {
	return string(p.buffer)
}

// HasIncompleteToolCall reports whether a "{"tool"" prefix exists with
// unbalanced braces — i.e. the stream stopped mid-tool-call.
func (p *ToolCallParser) HasIncompleteToolCall() bool {
	return p.incomplete
}

// HasUnexecutedToolCall reports whether a completed tool call has been
// emitted but not yet marked consumed.
func (p *ToolCallParser) HasUnexecutedToolCall() bool {
	for _, pc := range p.pending {
		if !pc.Consumed {
			return true
		}
	}
	return false
}

// PendingToolCalls returns all calls emitted so far, consumed or not, in
// the order they were parsed.
func (p *ToolCallParser) PendingToolCalls() []*ParsedToolCall {
	return p.pending
}

// MarkToolCallsConsumed marks every pending call as consumed. The
// underlying text is never removed — only the consumed flag changes.
func (p *ToolCallParser) MarkToolCallsConsumed() {
	for _, pc := range p.pending {
		pc.Consumed = true
	}
}

// Reset clears the buffer and pending calls. Only valid between fully
// unrelated turns — never mid-turn, since it discards text.
func (p *ToolCallParser) Reset() {
	p.buffer = nil
	p.consumedUpTo = 0
	p.pending = nil
	p.incomplete = false
}

// sanitize rewrites every inline (non-line-start) occurrence of a
// {"tool"...} pattern so it can never be mistaken for a real call.
// Re-running over already-sanitized text is a no-op (idempotent, R2):
// once a brace is a homoglyph it no longer matches the ASCII scan target.
func (p *ToolCallParser) sanitize() {
	target := []rune(`"tool"`)
	n := len(p.buffer)
	for i := 0; i+len(target) <= n; i++ {
		if !runesEqual(p.buffer[i:i+len(target)], target) {
			continue
		}
		j := i - 1
		for j >= 0 && isInlineSpace(p.buffer[j]) {
			j--
		}
		if j < 0 || p.buffer[j] != '{' {
			continue
		}
		if !p.isLineStart(j) {
			p.buffer[j] = toolCallHomoglyph
		}
	}
}

// isLineStart reports whether idx is preceded, on its own line, only by
// horizontal whitespace (tabs or spaces) — i.e. it begins the line.
func (p *ToolCallParser) isLineStart(idx int) bool {
	k := idx - 1
	for k >= 0 {
		if p.buffer[k] == '\n' {
			return true
		}
		if !isInlineSpace(p.buffer[k]) {
			return false
		}
		k--
	}
	return true
}

func isInlineSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

// scanForCompleted finds every genuine (line-starting, unsanitized)
// {"tool"...} marker from consumedUpTo onward and attempts to parse a
// balanced JSON object from it. An unbalanced object at the tail of the
// buffer is left in place and flagged incomplete; well-formed-but-foreign
// JSON (missing a "tool" key) is skipped over, not treated as a call.
func (p *ToolCallParser) scanForCompleted() []ToolCall {
	var completed []ToolCall
	target := []rune(`"tool"`)

	for {
		idx := -1
		for i := p.consumedUpTo; i+len(target) <= len(p.buffer); i++ {
			if !runesEqual(p.buffer[i:i+len(target)], target) {
				continue
			}
			j := i - 1
			for j >= 0 && isInlineSpace(p.buffer[j]) {
				j--
			}
			if j >= 0 && p.buffer[j] == '{' && p.isLineStart(j) {
				idx = j
				break
			}
		}
		if idx < 0 {
			p.incomplete = false
			break
		}

		end, ok := parseBalancedJSON(p.buffer, idx)
		if !ok {
			p.incomplete = true
			break
		}
		p.incomplete = false

		var decoded struct {
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}
		raw := string(p.buffer[idx:end])
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded.Tool == "" {
			p.consumedUpTo = end
			continue
		}

		tc := ToolCall{Tool: decoded.Tool, Args: decoded.Args}
		p.pending = append(p.pending, &ParsedToolCall{ToolCall: tc, Start: idx, End: end})
		completed = append(completed, tc)
		p.consumedUpTo = end
	}

	return completed
}

// parseBalancedJSON scans buf starting at a '{' and returns the index just
// past its matching '}', respecting string literals and backslash escapes.
// ok is false if the buffer ends before the object balances.
func parseBalancedJSON(buf []rune, start int) (end int, ok bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(buf); i++ {
		c := buf[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
