package transcribe

// resamplePCM16 linearly resamples mono PCM16 from inRate to outRate.
// Transcription providers require a fixed sample rate (16kHz); audio
// frames arrive at the demodulator's output rate.
func resamplePCM16(samples []int16, inRate, outRate int) []int16 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return samples
	}
	outLen := len(samples) * outRate / inRate
	if outLen < 1 {
		return nil
	}
	out := make([]int16, outLen)
	step := float64(inRate) / float64(outRate)
	for i := range out {
		srcPos := float64(i) * step
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := srcPos - float64(i0)
		a, b := float64(samples[i0]), float64(samples[i0+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

func int16ToLittleEndianBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
