package audio

// Resample converts samples between rates with linear interpolation.
// Equal rates return the input slice unchanged. Output length is
// len(samples)*toRate/fromRate, rounded down.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, n)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := a
		if idx+1 < len(samples) {
			b = float64(samples[idx+1])
		}
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
