package stt

import "time"

// Transcript is a speech-to-text result for a single utterance. Partials and
// finals share this shape; IsFinal discriminates them.
type Transcript struct {
	UtteranceID string
	Text        string
	IsFinal     bool
	Confidence  float64
	Words       []WordDetail
	Timestamp   time.Duration
	Duration    time.Duration
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
