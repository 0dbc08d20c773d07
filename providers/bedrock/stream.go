package bedrock

import (
	"cosmos/core/provider"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type blockKind int

const (
	blockText blockKind = iota
	blockTool
)

// eventStream is the interface satisfied by bedrockruntime's ConverseStreamEventStream.
// Defined as an interface for testability.
type eventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

// bedrockIterator adapts Bedrock's native ConverseStream content blocks to
// provider.StreamChunk. Bedrock's tool_use blocks are a structured,
// provider-native mechanism, but the core's tool-call detection is
// universal across providers (see core.ToolCallParser): every completed
// tool_use block is rendered here as a "{\"tool\": ...}" JSON line and
// appended to the chunk's Content, rather than surfaced as a distinct
// field. This keeps Bedrock behaving exactly like a provider that only
// knows how to emit prose — the core never special-cases it.
type bedrockIterator struct {
	stream eventStream
	events <-chan brtypes.ConverseStreamOutput

	block       blockKind
	toolName    string
	toolInput   strings.Builder
	pendingStop *provider.StreamChunk
	done        bool
}

func (it *bedrockIterator) Next() (provider.StreamChunk, error) {
	for {
		if it.done {
			return provider.StreamChunk{}, io.EOF
		}

		event, ok := <-it.events
		if !ok {
			it.done = true
			if err := it.stream.Err(); err != nil {
				return provider.StreamChunk{}, fmt.Errorf("bedrock stream: %w", classifyErr(err))
			}
			if it.pendingStop != nil {
				chunk := *it.pendingStop
				it.pendingStop = nil
				return chunk, nil
			}
			return provider.StreamChunk{}, io.EOF
		}

		if chunk, ok := it.translate(event); ok {
			return chunk, nil
		}
	}
}

func (it *bedrockIterator) Close() error {
	it.done = true
	return it.stream.Close()
}

func (it *bedrockIterator) translate(event brtypes.ConverseStreamOutput) (provider.StreamChunk, bool) {
	switch v := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		return it.handleBlockStart(v.Value)

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		return it.handleBlockDelta(v.Value)

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		return it.handleBlockStop()

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		it.pendingStop = &provider.StreamChunk{
			StopReason: string(v.Value.StopReason),
		}
		return provider.StreamChunk{}, false

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if it.pendingStop != nil && v.Value.Usage != nil {
			in := int(aws.ToInt32(v.Value.Usage.InputTokens))
			out := int(aws.ToInt32(v.Value.Usage.OutputTokens))
			it.pendingStop.Usage = &provider.Usage{
				InputTokens:  in,
				OutputTokens: out,
				TotalTokens:  in + out,
			}
		}
		return provider.StreamChunk{}, false

	default:
		return provider.StreamChunk{}, false
	}
}

func (it *bedrockIterator) handleBlockStart(event brtypes.ContentBlockStartEvent) (provider.StreamChunk, bool) {
	switch start := event.Start.(type) {
	case *brtypes.ContentBlockStartMemberToolUse:
		it.block = blockTool
		it.toolName = aws.ToString(start.Value.Name)
		it.toolInput.Reset()
		return provider.StreamChunk{}, false
	default:
		it.block = blockText
		return provider.StreamChunk{}, false
	}
}

func (it *bedrockIterator) handleBlockDelta(event brtypes.ContentBlockDeltaEvent) (provider.StreamChunk, bool) {
	switch delta := event.Delta.(type) {
	case *brtypes.ContentBlockDeltaMemberText:
		return provider.StreamChunk{Content: delta.Value}, true
	case *brtypes.ContentBlockDeltaMemberToolUse:
		it.toolInput.WriteString(aws.ToString(delta.Value.Input))
		return provider.StreamChunk{}, false
	default:
		return provider.StreamChunk{}, false
	}
}

func (it *bedrockIterator) handleBlockStop() (provider.StreamChunk, bool) {
	if it.block != blockTool {
		return provider.StreamChunk{}, false
	}
	it.block = blockText

	line := synthesizeToolCallLine(it.toolName, it.toolInput.String())
	it.toolName = ""
	it.toolInput.Reset()
	return provider.StreamChunk{Content: line}, true
}

// synthesizeToolCallLine renders a completed native tool_use block as the
// inline JSON convention the streaming parser scans for. Malformed input
// (should not happen against a well-formed ConverseStream response) falls
// back to an empty args object rather than dropping the call silently.
func synthesizeToolCallLine(name, rawInput string) string {
	var args any
	if rawInput == "" {
		args = map[string]any{}
	} else if err := json.Unmarshal([]byte(rawInput), &args); err != nil {
		args = map[string]any{}
	}

	encoded, err := json.Marshal(map[string]any{"tool": name, "args": args})
	if err != nil {
		return ""
	}
	return "\n" + string(encoded) + "\n"
}
