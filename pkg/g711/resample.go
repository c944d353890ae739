package g711

const (
	// downsampleGain compensates for the smoothing filter attenuating speech.
	downsampleGain = 1.2
	// filterWidth is the nominal tap count of the moving-average filter.
	filterWidth = 5
)

// PCM24kToMulaw8k downsamples 24kHz little-endian PCM16 to 8kHz mu-law.
// Every third input sample is kept, smoothed with a centered moving-average
// filter whose window shrinks at the buffer edges, boosted by a fixed gain,
// clipped to the int16 range, and companded.
func PCM24kToMulaw8k(pcm []byte) []byte {
	samples := bytesToSamples(pcm)
	if len(samples) == 0 {
		return []byte{}
	}

	half := filterWidth / 2
	out := make([]byte, 0, (len(samples)+2)/3)
	for i := 0; i < len(samples); i += 3 {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > len(samples)-1 {
			hi = len(samples) - 1
		}

		sum := 0
		for j := lo; j <= hi; j++ {
			sum += int(samples[j])
		}
		avg := float64(sum) / float64(hi-lo+1)

		amplified := avg * downsampleGain
		if amplified > 32767 {
			amplified = 32767
		} else if amplified < -32768 {
			amplified = -32768
		}

		out = append(out, EncodeSample(int16(amplified)))
	}
	return out
}

// Mulaw8kToPCM24k upsamples 8kHz mu-law to 24kHz little-endian PCM16.
// Each adjacent sample pair yields the original sample followed by two
// linearly interpolated samples. The final sample has no successor and is
// repeated three times, so N mu-law bytes always become 3N PCM samples.
func Mulaw8kToPCM24k(mulaw []byte) []byte {
	samples := mapSamples(mulaw, DecodeSample)
	if len(samples) == 0 {
		return []byte{}
	}

	out := make([]int16, 0, len(samples)*3)
	for i, cur := range samples {
		if i == len(samples)-1 {
			out = append(out, cur, cur, cur)
			break
		}
		step := (int(samples[i+1]) - int(cur)) / 3
		out = append(out, cur, int16(int(cur)+step), int16(int(cur)+2*step))
	}
	return samplesToBytes(out)
}
