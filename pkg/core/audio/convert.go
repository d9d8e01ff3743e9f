package audio

// BytesToInt16 decodes little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int16(pcm[i])|int16(pcm[i+1])<<8)
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// DownmixToMono averages interleaved channels into a single channel.
// Mono input is returned as-is.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// Resample converts mono samples between sample rates using linear
// interpolation. Identical rates return the input unchanged.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	outLen := len(samples) * toRate / fromRate
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// converter rewrites PCM from a native format to the wire format. Built only
// when the two differ.
type converter struct {
	native Format
	wire   Format
}

func newConverter(native, wire Format) *converter {
	if native == wire {
		return nil
	}
	return &converter{native: native, wire: wire}
}

// convert returns wire-format bytes for the given native-format bytes.
func (c *converter) convert(pcm []byte) []byte {
	samples := BytesToInt16(pcm)
	samples = DownmixToMono(samples, c.native.Channels)
	samples = Resample(samples, c.native.SampleRate, c.wire.SampleRate)
	return Int16ToBytes(samples)
}

// ApplyGain scales samples by the given factor, clamping to the 16-bit
// signed range to prevent wraparound. The input is not modified.
func ApplyGain(pcm []byte, gain float64) []byte {
	out := make([]byte, len(pcm))
	if gain == 1.0 {
		copy(out, pcm)
		return out
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		scaled := sample * gain
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		s := int16(scaled)
		out[i] = byte(s)
		out[i+1] = byte(s >> 8)
	}
	return out
}
