package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const melFloor = 1e-10

// Config describes the feature extractor. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	SampleRate  int
	NumMelBins  int
	NFFT        int
	HopLength   int
	ChunkLength int
	// PadToChunk pads or truncates every waveform to ChunkLength seconds. The
	// Whisper encoder requires this.
	PadToChunk bool
}

// DefaultConfig returns the whisper-base extractor settings.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		NumMelBins:  80,
		NFFT:        400,
		HopLength:   160,
		ChunkLength: 30,
		PadToChunk:  true,
	}
}

// NumSamples is the waveform length of one chunk.
func (c Config) NumSamples() int {
	return c.ChunkLength * c.SampleRate
}

// MaxFrames is the number of frames one chunk produces.
func (c Config) MaxFrames() int {
	return c.NumSamples() / c.HopLength
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("sample rate must be positive")
	case c.NumMelBins <= 0:
		return errors.New("mel bin count must be positive")
	case c.NFFT <= 0:
		return errors.New("n_fft must be positive")
	case c.HopLength <= 0 || c.HopLength > c.NFFT:
		return fmt.Errorf("hop length must be in (0, %d]", c.NFFT)
	case c.ChunkLength <= 0:
		return errors.New("chunk length must be positive")
	}
	return nil
}

// Matrix is a log-mel spectrogram laid out as [mel bin][frame].
type Matrix [][]float32

// Bins returns the number of mel bins.
func (m Matrix) Bins() int {
	return len(m)
}

// Frames returns the number of frames.
func (m Matrix) Frames() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Extractor computes log-mel spectrograms. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	filters [][]float64
}

// NewExtractor precomputes the window and filter bank for cfg.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature extractor: %w", err)
	}
	window := make([]float64, cfg.NFFT)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(cfg.NFFT))
	}
	return &Extractor{
		cfg:     cfg,
		window:  window,
		filters: melFilterBank(cfg.NFFT/2+1, cfg.NumMelBins, 0, float64(cfg.SampleRate)/2, cfg.SampleRate),
	}, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract converts a waveform at the configured sample rate into a log-mel
// matrix. The result depends only on the input samples.
func (e *Extractor) Extract(samples []float32) (Matrix, error) {
	wave := make([]float64, 0, max(len(samples), e.cfg.NumSamples()))
	for _, s := range samples {
		wave = append(wave, float64(s))
	}
	if e.cfg.PadToChunk {
		n := e.cfg.NumSamples()
		if len(wave) > n {
			wave = wave[:n]
		}
		for len(wave) < n {
			wave = append(wave, 0)
		}
	}
	if len(wave) == 0 {
		return nil, errors.New("extract features: empty waveform")
	}

	power := e.powerSpectrogram(wave)
	frames := len(power) - 1
	if frames <= 0 {
		return nil, fmt.Errorf("extract features: waveform of %d samples is too short", len(samples))
	}

	out := make(Matrix, e.cfg.NumMelBins)
	logSpec := make([]float64, e.cfg.NumMelBins*frames)
	maxVal := math.Inf(-1)
	for m, filter := range e.filters {
		for t := range frames {
			var energy float64
			spectrum := power[t]
			for k, w := range filter {
				if w != 0 {
					energy += w * spectrum[k]
				}
			}
			v := math.Log10(math.Max(energy, melFloor))
			logSpec[m*frames+t] = v
			maxVal = math.Max(maxVal, v)
		}
	}
	floor := maxVal - 8.0
	for m := range out {
		row := make([]float32, frames)
		for t := range frames {
			v := math.Max(logSpec[m*frames+t], floor)
			row[t] = float32((v + 4.0) / 4.0)
		}
		out[m] = row
	}
	return out, nil
}

// powerSpectrogram returns |STFT|^2 per frame with centered, reflect-padded
// frames.
func (e *Extractor) powerSpectrogram(wave []float64) [][]float64 {
	nfft, hop := e.cfg.NFFT, e.cfg.HopLength
	pad := nfft / 2
	padded := reflectPad(wave, pad)
	numFrames := 1 + (len(padded)-nfft)/hop

	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeffs := make([]complex128, nfft/2+1)
	out := make([][]float64, numFrames)
	for t := range numFrames {
		start := t * hop
		for i := range nfft {
			frame[i] = padded[start+i] * e.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		row := make([]float64, len(coeffs))
		for k, c := range coeffs {
			row[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		out[t] = row
	}
	return out
}

// reflectPad mirrors pad samples on both sides without repeating the edge
// sample. Inputs shorter than the pad bounce back and forth.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	copy(out[pad:], x)
	if n == 1 {
		for i := range pad {
			out[i] = x[0]
			out[pad+n+i] = x[0]
		}
		return out
	}
	period := 2 * (n - 1)
	reflect := func(i int) float64 {
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - i
		}
		return x[i]
	}
	for i := range pad {
		out[pad-1-i] = reflect(i + 1)
		out[pad+n+i] = reflect(n - 2 - i)
	}
	return out
}
