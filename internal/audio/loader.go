package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"whispertune/internal/services"
)

var commandContext = exec.CommandContext

// Loader reads clips from disk and returns them at a fixed sample rate.
type Loader struct {
	ffmpeg     string
	sampleRate int
	tempDir    string
}

// Option configures a Loader.
type Option func(*Loader)

// WithFFmpeg overrides the ffmpeg binary.
func WithFFmpeg(binary string) Option {
	return func(l *Loader) {
		if binary != "" {
			l.ffmpeg = binary
		}
	}
}

// WithTempDir sets where converted clips are written. Defaults to os.TempDir.
func WithTempDir(dir string) Option {
	return func(l *Loader) {
		l.tempDir = dir
	}
}

// NewLoader constructs a Loader producing clips at sampleRate.
func NewLoader(sampleRate int, opts ...Option) *Loader {
	l := &Loader{ffmpeg: "ffmpeg", sampleRate: sampleRate}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SampleRate returns the rate every loaded clip is delivered at.
func (l *Loader) SampleRate() int {
	return l.sampleRate
}

// Load decodes path. WAV input is decoded directly and resampled if needed;
// other formats go through ffmpeg, which also performs the rate conversion.
func (l *Loader) Load(ctx context.Context, path string) (Clip, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Clip{}, services.Wrap(services.ErrNotFound, "audio", "load", path, err)
		}
		return Clip{}, fmt.Errorf("stat clip: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") || IsWAVFile(path) {
		clip, err := DecodeWAVFile(path)
		if err == nil {
			return l.toTarget(clip), nil
		}
		if !errors.Is(err, ErrNotWAV) {
			return Clip{}, err
		}
	}

	tmp, err := os.CreateTemp(l.tempDir, "whispertune-*.wav")
	if err != nil {
		return Clip{}, fmt.Errorf("create temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := l.convert(ctx, path, tmpPath); err != nil {
		return Clip{}, err
	}
	clip, err := DecodeWAVFile(tmpPath)
	if err != nil {
		return Clip{}, err
	}
	return l.toTarget(clip), nil
}

func (l *Loader) toTarget(clip Clip) Clip {
	if clip.SampleRate == l.sampleRate {
		return clip
	}
	return Clip{Samples: Resample(clip.Samples, clip.SampleRate, l.sampleRate), SampleRate: l.sampleRate}
}

func (l *Loader) convert(ctx context.Context, src, dst string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", l.sampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
	cmd := commandContext(ctx, l.ffmpeg, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		detail := fmt.Sprintf("%s: %s", filepath.Base(src), strings.TrimSpace(string(output)))
		return services.Wrap(services.ErrExternalTool, "audio", "ffmpeg convert", detail, err)
	}
	return nil
}
