// Package vad defines the Voice Activity Detector contract: classifying each
// inbound frame as speech or silence and emitting utterance boundary events.
package vad

import "time"

// EventType enumerates the events a Detector emits.
type EventType int

const (
	// SpeechFrame is emitted per-frame for telemetry; optional for callers
	// that only care about utterance boundaries.
	SpeechFrame EventType = iota
	// UtteranceBegin is emitted once per utterance, after K_on consecutive
	// speech frames.
	UtteranceBegin
	// UtteranceEnd is emitted after K_off consecutive silence frames and
	// duration_ms >= 100; shorter spans are dropped as noise.
	UtteranceEnd
)

// Event is a single detector output.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Energy     float64
	DurationMs int64 // set on UtteranceEnd
}

// Config tunes the hysteresis and noise-floor calibration.
type Config struct {
	// ThresholdRatio is the multiple of the noise floor above which a frame
	// is classified as speech. Default 2.5.
	ThresholdRatio float64

	// KOn is the number of consecutive speech frames required to enter the
	// speaking state. Default 3 (60 ms at 20 ms/frame).
	KOn int

	// KOff is the number of consecutive silence frames required to exit the
	// speaking state. Default 25 (500 ms), tenant-configurable 300-1500 ms.
	KOff int

	// CalibrationFrames is how many leading frames establish the initial
	// noise floor. Default 50 (1 s).
	CalibrationFrames int

	// MinUtteranceMs drops utterances shorter than this as noise. Default 100.
	MinUtteranceMs int64
}

// DefaultConfig returns the default telephony tuning.
func DefaultConfig() Config {
	return Config{
		ThresholdRatio:    2.5,
		KOn:               3,
		KOff:              25,
		CalibrationFrames: 50,
		MinUtteranceMs:    100,
	}
}

// Detector classifies a stream of 20 ms frames fed to it one at a time and
// emits speech/silence events. A Detector instance is scoped to a single
// call; feeding the same frame sequence to a fresh Detector yields identical
// events (detection is a pure function of the frame sequence).
//
// Implementations need not be safe for concurrent use; the Session
// Orchestrator is the only caller.
type Detector interface {
	// Feed processes one 20 ms frame and returns zero or more events
	// produced by it, in order.
	Feed(payload []byte, ts time.Time) []Event

	// Speaking reports whether the detector currently considers the caller
	// to be speaking.
	Speaking() bool
}
