package prepare_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whispertune/internal/audio"
	"whispertune/internal/dataset"
	"whispertune/internal/features"
	"whispertune/internal/prepare"
	"whispertune/internal/testsupport"
	"whispertune/internal/tokenizer"
)

// lengthLoader returns a clip whose sample count encodes the path suffix so
// results can be matched back to their input.
type lengthLoader struct {
	delay   time.Duration
	failOn  string
	started atomic.Int32
}

func (l *lengthLoader) Load(ctx context.Context, path string) (audio.Clip, error) {
	l.started.Add(1)
	if l.failOn != "" && strings.HasSuffix(path, l.failOn) {
		return audio.Clip{}, errors.New("corrupt clip")
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	var n int
	fmt.Sscanf(filepath.Base(path), "clip%d.wav", &n)
	return audio.Clip{Samples: make([]float32, n+1), SampleRate: 16000}, nil
}

type countExtractor struct{}

func (countExtractor) Extract(samples []float32) (features.Matrix, error) {
	return features.Matrix{{float32(len(samples))}}, nil
}

type wordLabels struct{}

func (wordLabels) EncodeLabels(text string) ([]int, error) {
	return []int{len(strings.Fields(text))}, nil
}

func discard(prepare.Prepared) error { return nil }

func examples(n int) []dataset.Example {
	out := make([]dataset.Example, n)
	for i := range out {
		out[i] = dataset.Example{Path: fmt.Sprintf("/clips/clip%d.wav", i), Sentence: strings.Repeat("w ", i+1)}
	}
	return out
}

func TestRunKeepsInputOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		last  int
	)
	p := prepare.New(&lengthLoader{delay: time.Millisecond}, countExtractor{}, wordLabels{},
		prepare.WithWorkers(4),
		prepare.WithProgress(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			last = max(last, done)
			if total != 20 {
				t.Errorf("total = %d", total)
			}
		}),
	)

	results := make([]prepare.Prepared, 20)
	err := p.Run(context.Background(), "train", examples(20), func(r prepare.Prepared) error {
		results[r.Index] = r
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
		if got := int(r.Features[0][0]); got != i+1 {
			t.Fatalf("result %d features from wrong clip: %d", i, got)
		}
		if r.Labels[0] != i+1 {
			t.Fatalf("result %d labels from wrong sentence: %v", i, r.Labels)
		}
	}
	if calls != 20 || last != 20 {
		t.Fatalf("progress calls=%d last=%d", calls, last)
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	loader := &lengthLoader{failOn: "clip3.wav", delay: 5 * time.Millisecond}
	p := prepare.New(loader, countExtractor{}, wordLabels{}, prepare.WithWorkers(1))

	err := p.Run(context.Background(), "train", examples(50), discard)
	if err == nil || !strings.Contains(err.Error(), "corrupt clip") {
		t.Fatalf("expected clip error, got %v", err)
	}
	if !strings.Contains(err.Error(), "example 3") {
		t.Fatalf("error should name the example: %v", err)
	}
	if started := loader.started.Load(); started >= 50 {
		t.Fatalf("pool kept running after failure: %d loads", started)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := prepare.New(&lengthLoader{}, countExtractor{}, wordLabels{}, prepare.WithWorkers(2))
	if err := p.Run(ctx, "test", examples(5), discard); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunEmpty(t *testing.T) {
	p := prepare.New(&lengthLoader{}, countExtractor{}, wordLabels{})
	called := false
	err := p.Run(context.Background(), "test", nil, func(prepare.Prepared) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("Run(nil) called=%v err=%v", called, err)
	}
}

func TestTransformEndToEnd(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.wav")
	testsupport.WriteTone(t, clip, 8000, 0.5, 440)
	tokDir := filepath.Join(dir, "tok")
	testsupport.WriteTokenizer(t, tokDir)
	tok, err := tokenizer.Load(tokDir)
	if err != nil {
		t.Fatalf("tokenizer.Load: %v", err)
	}
	extractor, err := features.NewExtractor(features.DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	p := prepare.New(audio.NewLoader(16000), extractor, tok)
	got, err := p.Transform(context.Background(), 7, dataset.Example{Path: clip, Sentence: "hello world"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got.Index != 7 || got.Features.Bins() != 80 || got.Features.Frames() != 3000 {
		t.Fatalf("unexpected shape index=%d bins=%d frames=%d", got.Index, got.Features.Bins(), got.Features.Frames())
	}
	if got.Labels[0] != testsupport.TokenStartOfTranscript || got.Labels[len(got.Labels)-1] != testsupport.TokenEndOfText {
		t.Fatalf("labels not framed: %v", got.Labels)
	}

	stored := got.Stored()
	if stored.Index != 7 || stored.Sentence != "hello world" || len(stored.Features) != 80 {
		t.Fatalf("unexpected stored example %d", stored.Index)
	}
}

func TestRunStopsOnSinkError(t *testing.T) {
	loader := &lengthLoader{delay: time.Millisecond}
	p := prepare.New(loader, countExtractor{}, wordLabels{}, prepare.WithWorkers(2))

	writes := 0
	err := p.Run(context.Background(), "train", examples(200), func(prepare.Prepared) error {
		writes++
		if writes == 3 {
			return errors.New("disk full")
		}
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if writes != 3 {
		t.Fatalf("sink called %d times after failing", writes)
	}
	if started := loader.started.Load(); started >= 200 {
		t.Fatalf("pool kept running after sink failure: %d loads", started)
	}
}

// fullSizeExtractor returns a Whisper-sized 80x3000 matrix per clip.
type fullSizeExtractor struct{}

func (fullSizeExtractor) Extract([]float32) (features.Matrix, error) {
	m := make(features.Matrix, 80)
	for i := range m {
		m[i] = make([]float32, 3000)
	}
	return m, nil
}

// heapAtLastWrite runs n examples through a discarding sink and returns the
// live heap measured while the final example is being written.
func heapAtLastWrite(t *testing.T, n int) uint64 {
	t.Helper()
	p := prepare.New(&lengthLoader{}, fullSizeExtractor{}, wordLabels{}, prepare.WithWorkers(4))
	var (
		written int
		live    uint64
	)
	err := p.Run(context.Background(), "train", examples(n), func(prepare.Prepared) error {
		written++
		if written == n {
			runtime.GC()
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			live = stats.HeapAlloc
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run(%d): %v", n, err)
	}
	return live
}

func TestRunMemoryDoesNotGrowWithSplitSize(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates full-size feature matrices")
	}
	const mib = 1 << 20
	small := heapAtLastWrite(t, 16)
	large := heapAtLastWrite(t, 96)
	// Each matrix is about 0.9 MiB; holding all 96 would add roughly 75 MiB.
	if large > small+24*mib {
		t.Fatalf("live heap grew with split size: %d MiB for 16 examples, %d MiB for 96", small/mib, large/mib)
	}
}
