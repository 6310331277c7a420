package tts

import (
	"context"

	"github.com/brightlinevoice/callcore/pkg/audio"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// Transcoded wraps a Provider whose raw output is not 8 kHz µ-law and
// converts every synthesized chunk to wire-ready µ-law frames. It lets
// providers with different native formats coexist in one fallback chain: the
// chain's consumer always receives µ-law regardless of which backend served
// the request.
type Transcoded struct {
	inner Provider
	src   audio.SourceFormat
}

var _ Provider = (*Transcoded)(nil)

// Transcode wraps p, declaring that p's SynthesizeStream output is in src
// format. Providers that already emit 8 kHz µ-law don't need wrapping.
func Transcode(p Provider, src audio.SourceFormat) *Transcoded {
	return &Transcoded{inner: p, src: src}
}

// SynthesizeStream implements Provider.
func (t *Transcoded) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceSpec) (<-chan []byte, error) {
	raw, err := t.inner.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return audio.ToMulawFrames(ctx, raw, t.src), nil
}

// ListVoices implements Provider.
func (t *Transcoded) ListVoices(ctx context.Context) ([]VoiceInfo, error) {
	return t.inner.ListVoices(ctx)
}
