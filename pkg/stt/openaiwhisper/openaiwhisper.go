// Package openaiwhisper provides an ASR Client backed by OpenAI's hosted
// transcription API. Unlike Deepgram's streaming socket, the API is
// request/response, so the session buffers audio for the current utterance
// (as delimited by BeginUtterance calls) and transcribes on flush.
//
// This is a hosted replacement: it never loads a local model and makes no
// on-device inference, which keeps it outside the on-device-speech Non-goal
// this runtime otherwise carries.
package openaiwhisper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/brightlinevoice/callcore/pkg/stt"
)

// DefaultModel is the OpenAI hosted transcription model used when none is
// configured.
const DefaultModel = "whisper-1"

// Option configures a Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithBaseURL overrides the API base URL (for Azure-style proxies).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout bounds each transcription request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements stt.Provider against OpenAI's hosted transcription
// endpoint.
type Provider struct {
	client  oai.Client
	model   string
	timeout time.Duration
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openaiwhisper: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, timeout: 15 * time.Second}
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

// StartStream implements stt.Provider.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sess := &session{
		provider: p,
		cfg:      cfg,
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 8),
		done:     make(chan struct{}),
	}
	close(sess.partials) // this provider never produces interim results
	return sess, nil
}

// session buffers one utterance's audio at a time and transcribes it on the
// next BeginUtterance call (or on Close, for the trailing utterance).
type session struct {
	provider *Provider
	cfg      stt.StreamConfig

	mu       sync.Mutex
	uttID    string
	buf      bytes.Buffer
	closed   bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// BeginUtterance implements stt.SessionHandle. It flushes any buffered audio
// from the previous utterance before starting the new one.
func (s *session) BeginUtterance(utteranceID string) {
	s.mu.Lock()
	prevID := s.uttID
	prevBuf := s.buf
	s.buf = bytes.Buffer{}
	s.uttID = utteranceID
	s.mu.Unlock()

	if prevID != "" && prevBuf.Len() > 0 {
		s.transcribeAsync(prevID, prevBuf.Bytes())
	}
}

// SendAudio implements stt.SessionHandle.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("openaiwhisper: session is closed")
	}
	s.buf.Write(chunk)
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Close implements stt.SessionHandle, flushing any trailing buffered audio.
func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	uttID := s.uttID
	buf := s.buf
	s.buf = bytes.Buffer{}
	s.mu.Unlock()

	if uttID != "" && buf.Len() > 0 {
		s.transcribeAsync(uttID, buf.Bytes())
	}

	s.doneOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	close(s.finals)
	return nil
}

func (s *session) transcribeAsync(utteranceID string, audio []byte) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.provider.timeout)
		defer cancel()

		t, err := s.provider.transcribe(ctx, utteranceID, audio, s.cfg)
		if err != nil {
			slog.Error("openaiwhisper: transcription failed", "utterance_id", utteranceID, "err", err)
			return
		}
		select {
		case s.finals <- t:
		case <-s.done:
		}
	}()
}

// transcribe sends raw PCM/mulaw audio wrapped as a WAV container (the
// transcription endpoint requires a recognized container format) to the
// hosted API and returns a final Transcript.
func (p *Provider) transcribe(ctx context.Context, utteranceID string, audio []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	wav := wrapWAV(audio, cfg)

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
	}
	if cfg.Language != "" {
		params.Language = oai.String(cfg.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openaiwhisper: transcribe: %w", err)
	}

	return stt.Transcript{
		UtteranceID: utteranceID,
		Text:        resp.Text,
		IsFinal:     true,
		Confidence:  1,
	}, nil
}

// wrapWAV wraps raw samples in a minimal WAV header so the endpoint can
// identify the format. mulaw-encoded carrier audio is tagged as such; PCM16
// audio is tagged accordingly.
func wrapWAV(audio []byte, cfg stt.StreamConfig) []byte {
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	var audioFormat uint16 = 1 // PCM
	bitsPerSample := 16
	if cfg.Encoding == "mulaw" {
		audioFormat = 7 // WAVE_FORMAT_MULAW
		bitsPerSample = 8
	}

	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	writeLE32(&buf, uint32(36+len(audio)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeLE32(&buf, 16)
	writeLE16(&buf, audioFormat)
	writeLE16(&buf, uint16(channels))
	writeLE32(&buf, uint32(sampleRate))
	writeLE32(&buf, uint32(byteRate))
	writeLE16(&buf, uint16(blockAlign))
	writeLE16(&buf, uint16(bitsPerSample))

	buf.WriteString("data")
	writeLE32(&buf, uint32(len(audio)))
	buf.Write(audio)

	return buf.Bytes()
}

func writeLE16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func writeLE32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}

var _ stt.Provider = (*Provider)(nil)
var _ stt.SessionHandle = (*session)(nil)
