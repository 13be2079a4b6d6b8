package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is a mono waveform with samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ErrNotWAV is returned when a reader does not hold a RIFF/WAVE stream.
var ErrNotWAV = errors.New("not a wav file")

// DecodeWAV reads a PCM WAV stream and downmixes it to mono.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Clip{}, ErrNotWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Clip{}, errors.New("decode wav: missing sample rate")
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(d.BitDepth)
	}
	data := buf.AsFloat32Buffer().Data
	return Clip{
		Samples:    downmix(data, buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

// DecodeWAVFile opens path and decodes it with DecodeWAV.
func DecodeWAVFile(path string) (Clip, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer fh.Close()
	clip, err := DecodeWAV(fh)
	if err != nil {
		return Clip{}, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// IsWAVFile reports whether path starts with a valid RIFF/WAVE header.
func IsWAVFile(path string) bool {
	fh, err := os.Open(path)
	if err != nil {
		return false
	}
	defer fh.Close()
	return wav.NewDecoder(fh).IsValidFile()
}

// WriteWAV encodes clip as 16-bit mono PCM.
func WriteWAV(path string, clip Clip) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	enc := wav.NewEncoder(out, clip.SampleRate, 16, 1, 1)
	ints := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		v := max(-1, min(1, s))
		ints[i] = int(v * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: clip.SampleRate, NumChannels: 1},
		SourceBitDepth: 16,
		Data:           ints,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return out.Close()
}

func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
