package features

import "math"

const (
	slaneyMinLogHz  = 1000.0
	slaneyFreqStep  = 200.0 / 3
	slaneyMinLogMel = slaneyMinLogHz / slaneyFreqStep
)

var slaneyLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64) float64 {
	if hz >= slaneyMinLogHz {
		return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
	}
	return hz / slaneyFreqStep
}

func melToHz(mel float64) float64 {
	if mel >= slaneyMinLogMel {
		return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
	}
	return mel * slaneyFreqStep
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// melFilterBank returns a [numMel][numFreq] matrix of triangular filters on
// the Slaney mel scale, area-normalized.
func melFilterBank(numFreq, numMel int, minHz, maxHz float64, sampleRate int) [][]float64 {
	melPoints := linspace(hzToMel(minHz), hzToMel(maxHz), numMel+2)
	filterFreqs := make([]float64, len(melPoints))
	for i, m := range melPoints {
		filterFreqs[i] = melToHz(m)
	}
	fftFreqs := linspace(0, float64(sampleRate/2), numFreq)

	bank := make([][]float64, numMel)
	for m := range numMel {
		row := make([]float64, numFreq)
		lower, center, upper := filterFreqs[m], filterFreqs[m+1], filterFreqs[m+2]
		enorm := 2.0 / (upper - lower)
		for k, f := range fftFreqs {
			down := (f - lower) / (center - lower)
			up := (upper - f) / (upper - center)
			row[k] = math.Max(0, math.Min(down, up)) * enorm
		}
		bank[m] = row
	}
	return bank
}
