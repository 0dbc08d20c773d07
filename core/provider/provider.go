// Package provider defines the LLM provider abstraction for Cosmos.
// It contains only interfaces and data types — no implementation.
package provider

import (
	"context"
	"errors"
)

// Common errors returned by providers.
var (
	ErrThrottled     = errors.New("provider: request throttled")
	ErrAccessDenied  = errors.New("provider: access denied")
	ErrModelNotFound = errors.New("provider: model not found")
	ErrModelNotReady = errors.New("provider: model not ready")
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single conversation turn sent to the provider.
// Content is plain text. A turn that invoked a tool embeds the tool-call
// JSON (or its result) directly in Content — see core.Message for the
// richer in-memory representation the context window holds; this type is
// the flattened wire form built from it for each request.
type Message struct {
	Role    Role
	Content string
	Images  []ImageContent

	// CacheControl is an opaque hint forwarded to providers that support
	// prompt caching. The core never interprets its contents.
	CacheControl *CacheControl
}

// ImageContent is a binary image reference passed through to the provider
// untouched; the core does not decode or transform image data.
type ImageContent struct {
	MediaType string // e.g. "image/png"
	Data      []byte
}

// CacheControl is an opaque cache-control annotation. Its shape is
// provider-specific; the core only counts how many are attached.
type CacheControl struct {
	Type string
}

// ToolCall represents a single tool invocation decoded from the stream.
type ToolCall struct {
	Tool string
	Args map[string]any
}

// ToolDefinition describes a tool the LLM can invoke.
// InputSchema is a JSON Schema object built from the tool's parameters.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// StreamChunk is one unit of streamed LLM output. Providers emit a sequence
// of chunks with accumulating Content; the last chunk before the stream
// ends (signaled by StreamIterator.Next returning io.EOF) carries Usage and
// StopReason when the provider reports them.
//
// Tool calls are never a distinct chunk field: a provider that supports
// native function calling still renders any tool invocation as a
// "{\"tool\": ...}" JSON object at the start of a line within Content, so
// that every provider funnels through the same streaming tool parser (see
// core.ToolCallParser). HasNativeToolCalling only changes whether the
// request advertises a tool schema to the model.
type StreamChunk struct {
	Content    string
	Usage      *Usage
	StopReason string // "end_turn", "tool_use", "max_tokens", ...
}

// Usage holds token counts from a single LLM response.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ModelInfo describes a model's metadata and pricing.
type ModelInfo struct {
	ID              string // Provider-specific model identifier
	Name            string // Human-readable display name
	ContextWindow   int
	InputCostPer1M  float64
	OutputCostPer1M float64
}

// Request bundles everything sent to the LLM for one round-trip.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDefinition

	MaxTokens   int
	Temperature float64

	// DisableThinking asks the provider to skip any extended-reasoning /
	// "thinking" mode for this request. Used by the compactor when free
	// context is too small to afford a reasoning budget on top of the
	// summary (see core.Compactor).
	DisableThinking bool
}

// StreamIterator provides chunk-by-chunk iteration over a streamed
// response. Callers loop on Next() until it returns io.EOF.
type StreamIterator interface {
	Next() (StreamChunk, error)
	Close() error
}

// Provider is the LLM provider abstraction that the core's turn loop
// consumes (§6 of the design: stream + complete + metadata).
type Provider interface {
	// Send opens a streaming completion.
	Send(ctx context.Context, req Request) (StreamIterator, error)

	// Complete issues a non-streaming completion, used by the compactor.
	Complete(ctx context.Context, req Request) (string, *Usage, error)

	ListModels(ctx context.Context) ([]ModelInfo, error)

	Name() string
	Model() string
	HasNativeToolCalling() bool
	SupportsCacheControl() bool
	MaxTokens() int
	Temperature() float64
}

// PricingConfig holds provider-agnostic settings for dynamic pricing.
// Passed to provider constructors to decouple providers from the application config.
type PricingConfig struct {
	Enabled  bool   // Whether to fetch dynamic pricing
	CacheDir string // Directory for caching pricing data
	CacheTTL int    // Check interval in hours
}
