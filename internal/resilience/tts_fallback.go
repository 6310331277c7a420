package resilience

import (
	"context"
	"sync/atomic"

	"github.com/brightlinevoice/callcore/pkg/tts"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends (the primary/secondary/last-resort chain). Each
// backend has its own circuit breaker; no silent low-quality fallback ever
// happens without the caller logging a voice_fallback entry (the Session
// Orchestrator does that, using LastUsed to learn which entry in the chain
// actually served the request).
type TTSFallback struct {
	group    *FallbackGroup[tts.Provider]
	lastUsed atomic.Pointer[string]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback, tried in
// registration order after the primary.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// PrimaryName returns the name the primary backend was registered under, for
// comparison against LastUsed when deciding whether to log voice_fallback.
func (f *TTSFallback) PrimaryName() string {
	if len(f.group.entries) == 0 {
		return ""
	}
	return f.group.entries[0].name
}

// SynthesizeStream consumes text fragments and returns a channel of audio
// bytes, trying the first healthy provider. Only stream setup is covered by
// failover; mid-stream errors are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceSpec) (<-chan []byte, error) {
	out, name, err := ExecuteWithResultNamed(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
	if err == nil {
		f.lastUsed.Store(&name)
	}
	return out, err
}

// LastUsed returns the name of the backend that served the most recent
// successful SynthesizeStream call, or "" if none has succeeded yet. Callers
// compare this against the group's primary name to decide whether a
// voice_fallback log entry is warranted.
func (f *TTSFallback) LastUsed() string {
	if p := f.lastUsed.Load(); p != nil {
		return *p
	}
	return ""
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceInfo, error) {
		return p.ListVoices(ctx)
	})
}
