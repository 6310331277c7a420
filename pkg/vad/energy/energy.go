// Package energy implements vad.Detector using per-frame RMS energy
// against a rolling noise floor, with hysteresis — the algorithm specified
// for telephony audio: no machine-learning model, no network calls, safe to run inline
// with the frame read loop.
package energy

import (
	"math"
	"sort"
	"time"

	"github.com/brightlinevoice/callcore/pkg/vad"
)

// noiseWindowFrames is the rolling window of silence-frame energies used to
// estimate the noise floor (2 s at 20 ms/frame).
const noiseWindowFrames = 100

// Detector is the energy+hysteresis implementation of vad.Detector.
type Detector struct {
	cfg vad.Config

	calibrated     bool
	framesSeen     int
	calibSamples   []float64
	noiseFloor     float64

	silenceHistory []float64 // ring of recent silence-frame energies

	speaking      bool
	consecutiveOn  int
	consecutiveOff int
	utteranceStart time.Time
}

// New creates a Detector with the given tuning. Zero-valued fields in cfg
// fall back to vad.DefaultConfig() values.
func New(cfg vad.Config) *Detector {
	def := vad.DefaultConfig()
	if cfg.ThresholdRatio <= 0 {
		cfg.ThresholdRatio = def.ThresholdRatio
	}
	if cfg.KOn <= 0 {
		cfg.KOn = def.KOn
	}
	if cfg.KOff <= 0 {
		cfg.KOff = def.KOff
	}
	if cfg.CalibrationFrames <= 0 {
		cfg.CalibrationFrames = def.CalibrationFrames
	}
	if cfg.MinUtteranceMs <= 0 {
		cfg.MinUtteranceMs = def.MinUtteranceMs
	}
	return &Detector{cfg: cfg}
}

// Feed implements vad.Detector.
func (d *Detector) Feed(payload []byte, ts time.Time) []vad.Event {
	energy := rmsEnergy(payload)
	d.framesSeen++

	var events []vad.Event
	if d.cfg.CalibrationFrames > 0 {
		events = append(events, vad.Event{Type: vad.SpeechFrame, Timestamp: ts, Energy: energy})
	}

	if !d.calibrated {
		d.calibSamples = append(d.calibSamples, energy)
		if d.framesSeen >= d.cfg.CalibrationFrames {
			// "If the caller begins speaking during calibration, the floor
			// is clamped to the 10th percentile" — use the 10th percentile
			// whenever the calibration window shows high variance (a proxy
			// for speech being present), else the 20th.
			pct := 20
			if hasHighVariance(d.calibSamples) {
				pct = 10
			}
			d.noiseFloor = percentile(d.calibSamples, pct)
			d.calibrated = true
		}
		// Utterance events are not emitted during calibration.
		return events
	}

	isSpeech := energy > d.noiseFloor*d.cfg.ThresholdRatio
	if !isSpeech {
		d.pushSilence(energy)
	}

	if isSpeech {
		d.consecutiveOn++
		d.consecutiveOff = 0
		if !d.speaking && d.consecutiveOn >= d.cfg.KOn {
			d.speaking = true
			d.utteranceStart = ts
			events = append(events, vad.Event{Type: vad.UtteranceBegin, Timestamp: ts, Energy: energy})
		}
	} else {
		d.consecutiveOff++
		d.consecutiveOn = 0
		if d.speaking && d.consecutiveOff >= d.cfg.KOff {
			d.speaking = false
			durationMs := ts.Sub(d.utteranceStart).Milliseconds()
			if durationMs >= d.cfg.MinUtteranceMs {
				events = append(events, vad.Event{
					Type:       vad.UtteranceEnd,
					Timestamp:  ts,
					Energy:     energy,
					DurationMs: durationMs,
				})
			}
			// Shorter spans are dropped as noise: no event emitted.
		}
	}

	return events
}

// Speaking implements vad.Detector.
func (d *Detector) Speaking() bool { return d.speaking }

func (d *Detector) pushSilence(energy float64) {
	d.silenceHistory = append(d.silenceHistory, energy)
	if len(d.silenceHistory) > noiseWindowFrames {
		d.silenceHistory = d.silenceHistory[1:]
	}
	if len(d.silenceHistory) >= 10 {
		d.noiseFloor = percentile(d.silenceHistory, 20)
	}
}

// rmsEnergy computes the RMS energy of a µ-law frame after linear decode.
func rmsEnergy(mulaw []byte) float64 {
	if len(mulaw) == 0 {
		return 0
	}
	var sumSquares float64
	for _, b := range mulaw {
		s := float64(decodeMulaw(b))
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(mulaw)))
}

// decodeMulaw converts one G.711 µ-law byte to a linear 16-bit PCM sample.
func decodeMulaw(b byte) int16 {
	const bias = 0x84
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int(mantissa) << 3) + bias
	sample <<= exponent
	sample -= bias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

func percentile(samples []float64, pct int) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := (len(sorted) - 1) * pct / 100
	return sorted[idx]
}

// hasHighVariance is a cheap heuristic for "speech happened during
// calibration": the ratio between the 90th and 10th percentile energy is
// large when some frames are loud speech and others are quiet room noise.
func hasHighVariance(samples []float64) bool {
	if len(samples) < 10 {
		return false
	}
	p10 := percentile(samples, 10)
	p90 := percentile(samples, 90)
	if p10 <= 1 {
		return p90 > 50
	}
	return p90/p10 > 4
}
