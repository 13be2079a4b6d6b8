package audio

// Resample converts samples from inputRate to outputRate by linear
// interpolation. Equal rates return the input unchanged.
func Resample(input []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || len(input) == 0 || inputRate <= 0 || outputRate <= 0 {
		return input
	}
	ratio := float64(inputRate) / float64(outputRate)
	outputLength := int(float64(len(input)) / ratio)
	if outputLength == 0 {
		return []float32{}
	}
	output := make([]float32, outputLength)
	for i := 0; i < outputLength-1; i++ {
		pos := float64(i) * ratio
		before := int(pos)
		after := before + 1
		if after >= len(input) {
			after = len(input) - 1
		}
		frac := pos - float64(before)
		output[i] = float32((1-frac)*float64(input[before]) + frac*float64(input[after]))
	}
	output[outputLength-1] = input[len(input)-1]
	return output
}
