// Package s2s defines the provider contract for speech-to-speech engines: a
// single realtime backend that subsumes VAD, ASR, the LLM turn, and TTS
// behind one bidirectional audio stream (the same barge-in, idle, and tool
// resolution: "for tenants that opt in", the orchestrator drives a Provider
// from this package instead of the classical vad/stt/engine/tts pipeline).
//
// Because an S2S backend owns audio synthesis internally, it does not
// implement internal/engine.Engine (whose Turn streams text sentences for a
// downstream tts.Provider). The Session Orchestrator instead branches on the
// tenant's configured mode and drives a s2s.SessionHandle directly.
package s2s

import (
	"context"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// ToolCallHandler is invoked when the model requests a tool call mid-session.
// It returns the tool's result (or an application-level JSON failure per
// the Tool Executor's) to send back as the function_call_output.
type ToolCallHandler func(name string, argsJSON string) (string, error)

// ContextItem is an out-of-band message injected into a running session,
// e.g. a system reminder of the caller's verified identity.
type ContextItem struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// SessionConfig configures a new S2S session at connect time.
type SessionConfig struct {
	Voice        types.VoiceSpec
	Instructions string
	Tools        []types.ToolDefinition
}

// S2SCapabilities describes what a provider's realtime backend supports.
type S2SCapabilities struct {
	ContextWindow        int
	MaxSessionDurationMs int
	SupportsResumption   bool
	Voices               []types.VoiceSpec
}

// SessionHandle is one open realtime session. Implementations must be safe
// for concurrent use across the audio-forwarding goroutine and the
// orchestrator's control calls (SetTools, UpdateInstructions, Interrupt).
type SessionHandle interface {
	// SendAudio delivers one raw PCM16 chunk of caller audio to the model.
	SendAudio(chunk []byte) error

	// Audio returns the channel on which the model's synthesised PCM16
	// audio arrives, closed when the session ends.
	Audio() <-chan []byte

	// Err returns the first non-nil error that ended the session, or nil
	// while it is healthy.
	Err() error

	// Transcripts returns the channel on which both sides' transcript
	// entries arrive as the model produces them, closed when the session
	// ends.
	Transcripts() <-chan types.TranscriptEntry

	// OnError registers a callback for non-fatal provider error events.
	OnError(handler func(error))

	// OnToolCall registers the handler invoked for model-issued tool calls.
	OnToolCall(handler ToolCallHandler)

	// SetTools replaces the tool set offered to the model.
	SetTools(tools []types.ToolDefinition) error

	// UpdateInstructions replaces the system instructions mid-session,
	// e.g. after tenant resolution completes or a lead-capture sub-flow
	// starts.
	UpdateInstructions(instructions string) error

	// InjectTextContext inserts out-of-band context items without
	// producing an audio reply.
	InjectTextContext(items []ContextItem) error

	// Interrupt cancels the model's in-flight response, for barge-in.
	Interrupt() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Provider is the abstraction over any S2S realtime backend.
type Provider interface {
	// Connect opens a new session configured with cfg.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() S2SCapabilities
}
