// Package llm defines the LLM Conversation Engine's model-backend contract
// : streaming completions, tool-call surfacing, and token accounting
// across interchangeable providers.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream
// ends or when ctx is cancelled.
package llm

import (
	"context"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// Usage holds token accounting for one request/response pair.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	Messages     []types.Message
	Tools        []types.ToolDefinition
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	Text         string
	FinishReason string
	ToolCalls    []types.LLMToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.LLMToolCall
	Usage     Usage
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsStreaming   bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel of
	// Chunk values. The channel is closed when generation finishes or ctx
	// is cancelled. A non-nil error is returned only for failures that
	// prevent the stream from starting; mid-stream failures are surfaced
	// as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response and returns it in one value.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates token consumption for messages. Implementations
	// may approximate but must not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static provider metadata.
	Capabilities() ModelCapabilities
}
