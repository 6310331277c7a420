// Package stt defines the ASR Client contract: streaming inbound
// speech frames to a speech-to-text provider and emitting partial and final
// transcripts with stable IDs per utterance.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony audio is 8000.
	SampleRate int

	// Channels is the channel count; always 1 for carrier audio.
	Channels int

	// Encoding names the input codec, e.g. "mulaw".
	Encoding string

	// Language is the BCP-47 tag; empty lets the provider auto-detect.
	Language string

	// Keywords biases recognition toward tenant/domain vocabulary (business
	// name, project names).
	Keywords []KeywordBoost
}

// KeywordBoost biases recognition toward a specific word or phrase.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// SessionHandle is an open streaming transcription session scoped to one
// utterance boundary policy: callers call BeginUtterance to mint a stable
// utterance ID before sending audio for it, and the provider tags every
// Transcript it emits with that ID until BeginUtterance is called again.
//
// Callers must call Close when done. Calling SendAudio after Close returns
// an error.
type SessionHandle interface {
	// BeginUtterance starts tagging subsequently-sent audio and emitted
	// transcripts with utteranceID. Called by the orchestrator on VAD's
	// utterance_begin, and again with the *same* ID after a reconnect that
	// occurs mid-utterance, so utterance IDs are stable across reconnects.
	BeginUtterance(utteranceID string)

	// SendAudio delivers one chunk of raw audio (matching StreamConfig) for
	// the current utterance.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim Transcript values. Never
	// authoritative; never written to the transcript. Closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative Transcript values. Closed when the session
	// ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases resources. Safe to call
	// more than once.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The returned SessionHandle
	// is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
