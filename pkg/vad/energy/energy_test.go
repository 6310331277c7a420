package energy

import (
	"testing"
	"time"

	"github.com/brightlinevoice/callcore/pkg/vad"
)

func silentFrame() []byte {
	f := make([]byte, 160)
	for i := range f {
		f[i] = 0xFF // µ-law encoding of zero amplitude
	}
	return f
}

func loudFrame() []byte {
	f := make([]byte, 160)
	for i := range f {
		f[i] = 0x00 // maximal negative excursion in µ-law
	}
	return f
}

func TestCalibrationSuppressesEvents(t *testing.T) {
	cfg := vad.DefaultConfig()
	d := New(cfg)
	ts := time.Now()
	for i := 0; i < cfg.CalibrationFrames; i++ {
		events := d.Feed(silentFrame(), ts)
		for _, e := range events {
			if e.Type == vad.UtteranceBegin || e.Type == vad.UtteranceEnd {
				t.Fatalf("unexpected utterance event during calibration: %+v", e)
			}
		}
		ts = ts.Add(20 * time.Millisecond)
	}
	if !d.isCalibratedForTest() {
		t.Fatal("expected detector to be calibrated after CalibrationFrames")
	}
}

func TestSpeechHysteresis(t *testing.T) {
	cfg := vad.DefaultConfig()
	d := New(cfg)
	ts := time.Now()

	for i := 0; i < cfg.CalibrationFrames; i++ {
		d.Feed(silentFrame(), ts)
		ts = ts.Add(20 * time.Millisecond)
	}

	var begin bool
	for i := 0; i < cfg.KOn; i++ {
		for _, e := range d.Feed(loudFrame(), ts) {
			if e.Type == vad.UtteranceBegin {
				begin = true
			}
		}
		ts = ts.Add(20 * time.Millisecond)
	}
	if !begin {
		t.Fatal("expected UtteranceBegin after K_on consecutive speech frames")
	}
	if !d.Speaking() {
		t.Fatal("expected Speaking() true after utterance begin")
	}

	// Hold speech long enough to clear the 100ms minimum utterance length.
	for i := 0; i < 10; i++ {
		d.Feed(loudFrame(), ts)
		ts = ts.Add(20 * time.Millisecond)
	}

	var end bool
	for i := 0; i < cfg.KOff; i++ {
		for _, e := range d.Feed(silentFrame(), ts) {
			if e.Type == vad.UtteranceEnd {
				end = true
			}
		}
		ts = ts.Add(20 * time.Millisecond)
	}
	if !end {
		t.Fatal("expected UtteranceEnd after K_off consecutive silence frames")
	}
	if d.Speaking() {
		t.Fatal("expected Speaking() false after utterance end")
	}
}

func TestFramePurity(t *testing.T) {
	frames := [][]byte{}
	ts := time.Now()
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			frames = append(frames, silentFrame())
		} else {
			frames = append(frames, loudFrame())
		}
	}

	run := func() []vad.Event {
		d := New(vad.DefaultConfig())
		var all []vad.Event
		tsLocal := ts
		for _, f := range frames {
			all = append(all, d.Feed(f, tsLocal)...)
			tsLocal = tsLocal.Add(20 * time.Millisecond)
		}
		return all
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("expected identical event counts for identical input, got %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			t.Fatalf("event %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func (d *Detector) isCalibratedForTest() bool { return d.calibrated }
