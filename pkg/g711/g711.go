// Package g711 implements G.711 mu-law companding and the sample-rate
// conversions used on the telephony leg. The telephony side speaks 8kHz
// mu-law mono; the cloud model speaks 24kHz linear PCM16, so audio crosses
// this package in both directions on every frame.
//
// All functions are pure and safe for concurrent use. Buffers are treated
// as little-endian PCM16 unless named otherwise.
package g711

const (
	// Bias added before segment lookup, per the G.711 reference encoder.
	bias = 0x84
	// Clip keeps the biased magnitude inside the 8-segment table range.
	clip = 32635
)

// encodeTable maps the biased, shifted magnitude to its logarithmic segment.
var encodeTable = buildEncodeTable()

func buildEncodeTable() [256]byte {
	var t [256]byte
	seg := byte(0)
	bound := 2
	for i := 1; i < 256; i++ {
		if i >= bound {
			seg++
			bound <<= 1
		}
		t[i] = seg
	}
	return t
}

// EncodeSample compands one 16-bit linear sample to a mu-law byte.
func EncodeSample(sample int16) byte {
	s := int(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := encodeTable[(s>>7)&0xFF]
	mantissa := byte(s>>(exponent+3)) & 0x0F

	return ^(sign | (exponent << 4) | mantissa)
}

// DecodeSample expands one mu-law byte back to a 16-bit linear sample.
// The round trip through EncodeSample is lossy: the error is bounded by
// the quantization step of the segment the sample falls in.
func DecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := ((int(mantissa) << 3) + bias) << exponent
	sample -= bias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// mapSamples applies a per-sample conversion across a buffer.
func mapSamples[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// PCM8kToMulaw converts little-endian PCM16 at 8kHz to mu-law bytes.
// An incomplete trailing sample is truncated. Nil or empty input returns
// an empty buffer.
func PCM8kToMulaw(pcm []byte) []byte {
	return mapSamples(bytesToSamples(pcm), EncodeSample)
}

// MulawToPCM8k converts mu-law bytes to little-endian PCM16 at 8kHz.
func MulawToPCM8k(mulaw []byte) []byte {
	return samplesToBytes(mapSamples(mulaw, DecodeSample))
}

// bytesToSamples converts little-endian PCM16 bytes to int16 samples,
// truncating an incomplete trailing sample.
func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// samplesToBytes converts int16 samples to little-endian PCM16 bytes.
func samplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}
