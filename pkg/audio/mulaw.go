package audio

import "context"

// FrameBytes is the size of one 20ms, 8kHz µ-law media frame, matching
// pkg/media's wire format.
const FrameBytes = 160

// mulawBias and mulawClip are the standard G.711 µ-law encoder constants: a
// linear sample is clipped to mulawClip and offset by mulawBias before its
// exponent (segment) and mantissa are extracted. EncodeMulaw finds the
// exponent by scanning bits from the top, with the same bias-and-invert
// shape as DecodeMulaw below.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw converts one linear 16-bit PCM sample to a G.711 µ-law byte.
// This is the inverse of the decoder used by the energy-based VAD.
func EncodeMulaw(sample int16) byte {
	s := int(sample)
	sign := byte(0x00)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := 0x4000; (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// DecodeMulaw converts one G.711 µ-law byte to a linear 16-bit PCM sample.
func DecodeMulaw(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int(mantissa) << 3) + mulawBias
	sample <<= exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// EncodePCM16ToMulaw encodes little-endian int16 PCM to µ-law, one byte per
// sample. Odd trailing bytes are dropped.
func EncodePCM16ToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeMulaw(sample)
	}
	return out
}

// DecodeMulawToPCM16 decodes µ-law bytes to little-endian int16 PCM, two
// bytes per sample.
func DecodeMulawToPCM16(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := DecodeMulaw(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// SourceFormat describes the encoding and rate of a TTS provider's raw
// output, so ToMulawFrames knows whether a conversion step is needed before
// rechunking into wire frames.
type SourceFormat struct {
	// Encoding is either "mulaw" or "pcm16".
	Encoding string
	// SampleRate is ignored when Encoding is "mulaw" (always 8kHz on the wire).
	SampleRate int
}

// MulawAt8kHz is the source format for providers (elevenlabs, builtin) that
// already emit 8kHz µ-law, requiring no resampling before rechunking.
var MulawAt8kHz = SourceFormat{Encoding: "mulaw", SampleRate: 8000}

// PCM16At24kHz is the source format for OpenAI's hosted TTS, which emits
// linear PCM16 mono at 24kHz.
var PCM16At24kHz = SourceFormat{Encoding: "pcm16", SampleRate: 24000}

// ToMulawFrames adapts a tts.Provider.SynthesizeStream output channel into a
// channel of exactly FrameBytes-sized µ-law frames ready for
// media.Session.Send. It resamples and encodes PCM16 input, or simply
// rechunks already-mulaw input, buffering any partial frame across chunk
// boundaries. The returned channel is closed when in closes or ctx is
// cancelled; a final short frame (if any bytes remain buffered) is zero-padded
// and flushed on close so the last word of speech isn't dropped.
func ToMulawFrames(ctx context.Context, in <-chan []byte, src SourceFormat) <-chan []byte {
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		var buf []byte

		emit := func() {
			for len(buf) >= FrameBytes {
				frame := make([]byte, FrameBytes)
				copy(frame, buf[:FrameBytes])
				buf = buf[FrameBytes:]
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}

		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					if len(buf) > 0 {
						frame := make([]byte, FrameBytes)
						copy(frame, buf)
						select {
						case out <- frame:
						case <-ctx.Done():
						}
					}
					return
				}
				if len(chunk) == 0 {
					continue
				}
				mulaw := chunk
				if src.Encoding == "pcm16" {
					pcm := chunk
					if src.SampleRate != 8000 {
						pcm = ResampleMono16(pcm, src.SampleRate, 8000)
					}
					mulaw = EncodePCM16ToMulaw(pcm)
				}
				buf = append(buf, mulaw...)
				emit()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
