// Package tts defines the TTS Client contract: streaming text
// fragments into speech audio with a cancellation path fast enough to
// support barge-in cutover.
//
// Implementations must be safe for concurrent use and must stop producing
// audio within 100ms of ctx cancellation — the Session Orchestrator relies
// on this bound when the caller interrupts playback.
package tts

import (
	"context"

	"github.com/brightlinevoice/callcore/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a
	// channel emitting raw audio byte slices, in the provider's native output
	// format, as they are synthesised.
	// This lets the caller pipe LLM streaming output directly into
	// synthesis without waiting for the full response.
	//
	// The returned channel is closed when all text has been synthesised or
	// when ctx is cancelled; callers must drain it to avoid blocking the
	// provider's internal goroutines. A non-nil error is returned only if
	// the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceSpec) (<-chan []byte, error)

	// ListVoices returns voices available from this provider's catalogue.
	ListVoices(ctx context.Context) ([]VoiceInfo, error)
}

// VoiceInfo describes a voice available from a provider's catalogue.
type VoiceInfo struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}
