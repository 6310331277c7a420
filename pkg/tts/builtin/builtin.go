// Package builtin provides the last-resort TTS Client: a small library of
// pre-rendered µ-law phrases used only when every networked provider in the
// fallback chain has failed. It never calls out to a
// network service and never fails.
package builtin

import (
	"context"
	"strings"

	"github.com/brightlinevoice/callcore/pkg/tts"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// Phrase is a canned apology/holding message keyed by intent.
type Phrase string

const (
	// PhraseTechnicalDifficulty is played when the conversation engine and
	// every TTS provider are unavailable.
	PhraseTechnicalDifficulty Phrase = "technical_difficulty"

	// PhraseTransferring is played right before a transfer to a human.
	PhraseTransferring Phrase = "transferring"

	// PhraseGoodbye is played at the end of a call.
	PhraseGoodbye Phrase = "goodbye"

	// PhrasePleaseHold is played while a slow tool call is in flight.
	PhrasePleaseHold Phrase = "please_hold"
)

// Provider implements tts.Provider over a fixed library of pre-rendered
// audio. library maps Phrase to raw µ-law audio recorded at 8kHz.
type Provider struct {
	library map[Phrase][]byte
}

// New constructs a Provider from a phrase library. Phrases absent from
// library fall back to PhraseTechnicalDifficulty's audio if present, or
// silence otherwise.
func New(library map[Phrase][]byte) *Provider {
	return &Provider{library: library}
}

// SynthesizeStream implements tts.Provider. voice.VoiceID selects a Phrase
// by name; unknown names resolve to the technical-difficulty phrase. Each
// fragment received on text is ignored beyond the first: canned phrases are
// not assembled from arbitrary LLM output.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceSpec) (<-chan []byte, error) {
	phrase := Phrase(strings.TrimSpace(voice.VoiceID))
	audio, ok := p.library[phrase]
	if !ok {
		audio = p.library[PhraseTechnicalDifficulty]
	}

	out := make(chan []byte, 1)
	go func() {
		defer close(out)

		// Drain the text channel so the caller's writer goroutine isn't
		// blocked; its content is not used.
		go func() {
			for range text {
			}
		}()

		if len(audio) == 0 {
			return
		}
		select {
		case out <- audio:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// ListVoices implements tts.Provider, returning one VoiceInfo per known
// phrase.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	voices := make([]tts.VoiceInfo, 0, len(p.library))
	for phrase := range p.library {
		voices = append(voices, tts.VoiceInfo{ID: string(phrase), Name: string(phrase), Provider: "builtin"})
	}
	return voices, nil
}

var _ tts.Provider = (*Provider)(nil)
