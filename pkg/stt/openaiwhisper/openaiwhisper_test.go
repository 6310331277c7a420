package openaiwhisper

import (
	"testing"

	"github.com/brightlinevoice/callcore/pkg/stt"
)

func TestWrapWAVMulawHeader(t *testing.T) {
	audio := make([]byte, 160)
	out := wrapWAV(audio, stt.StreamConfig{SampleRate: 8000, Channels: 1, Encoding: "mulaw"})

	if string(out[0:4]) != "RIFF" {
		t.Fatalf("expected RIFF chunk id, got %q", out[0:4])
	}
	if string(out[8:12]) != "WAVE" {
		t.Fatalf("expected WAVE format, got %q", out[8:12])
	}
	if string(out[36:40]) != "data" {
		t.Fatalf("expected data chunk id, got %q", out[36:40])
	}
	if len(out) != 44+len(audio) {
		t.Fatalf("expected header+payload length %d, got %d", 44+len(audio), len(out))
	}

	audioFormat := uint16(out[20]) | uint16(out[21])<<8
	if audioFormat != 7 {
		t.Fatalf("expected WAVE_FORMAT_MULAW (7), got %d", audioFormat)
	}
}

func TestWrapWAVPCMHeader(t *testing.T) {
	audio := make([]byte, 320)
	out := wrapWAV(audio, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	audioFormat := uint16(out[20]) | uint16(out[21])<<8
	if audioFormat != 1 {
		t.Fatalf("expected PCM (1), got %d", audioFormat)
	}
	bitsPerSample := uint16(out[34]) | uint16(out[35])<<8
	if bitsPerSample != 16 {
		t.Fatalf("expected 16 bits per sample, got %d", bitsPerSample)
	}
}
