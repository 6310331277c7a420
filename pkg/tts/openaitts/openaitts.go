// Package openaitts provides a TTS Client backed by OpenAI's hosted speech
// synthesis API. Like openaiwhisper, this is a request/response endpoint,
// so each text fragment received on the input channel is synthesised as an
// independent request and the resulting audio is streamed back chunk by
// chunk as the response body is read.
package openaitts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/brightlinevoice/callcore/pkg/tts"
	"github.com/brightlinevoice/callcore/pkg/types"
)

// DefaultModel is the OpenAI hosted TTS model used when none is configured.
const DefaultModel = "gpt-4o-mini-tts"

const readChunkSize = 4096

// Option configures a Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout bounds each synthesis request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements tts.Provider against OpenAI's hosted speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	timeout time.Duration
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaitts: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, timeout: 10 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   cfg.model,
		timeout: cfg.timeout,
	}, nil
}

// SynthesizeStream implements tts.Provider. Each incoming text fragment is
// synthesised with a fresh request; ctx cancellation stops the in-flight
// request and closes the audio channel promptly.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceSpec) (<-chan []byte, error) {
	if voice.VoiceID == "" {
		return nil, fmt.Errorf("openaitts: voice.VoiceID must not be empty")
	}

	audioCh := make(chan []byte, 64)

	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					return
				}
				if fragment == "" {
					continue
				}
				if err := p.synthesizeOne(ctx, fragment, voice, audioCh); err != nil {
					slog.Error("openaitts: synthesis failed", "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

func (p *Provider) synthesizeOne(ctx context.Context, fragment string, voice types.VoiceSpec, out chan<- []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Audio.Speech.New(reqCtx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          fragment,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.VoiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return fmt.Errorf("openaitts: speech: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return nil
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("openaitts: read response: %w", readErr)
		}
	}
}

// ListVoices implements tts.Provider. OpenAI's hosted voices are a fixed,
// undiscoverable catalogue; this returns the documented named voices.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	names := []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	voices := make([]tts.VoiceInfo, 0, len(names))
	for _, n := range names {
		voices = append(voices, tts.VoiceInfo{ID: n, Name: n, Provider: "openai"})
	}
	return voices, nil
}

var _ tts.Provider = (*Provider)(nil)
