package prepare

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"whispertune/internal/audio"
	"whispertune/internal/dataset"
	"whispertune/internal/features"
	"whispertune/internal/logging"
	"whispertune/internal/store"
)

// AudioLoader decodes a clip to mono samples at the target rate.
type AudioLoader interface {
	Load(ctx context.Context, path string) (audio.Clip, error)
}

// FeatureExtractor computes a log-mel matrix.
type FeatureExtractor interface {
	Extract(samples []float32) (features.Matrix, error)
}

// LabelEncoder converts a transcript into label ids.
type LabelEncoder interface {
	EncodeLabels(text string) ([]int, error)
}

// Prepared is one transformed example.
type Prepared struct {
	Index    int
	Example  dataset.Example
	Features features.Matrix
	Labels   []int
}

// Progress is called after each finished example.
type Progress func(done, total int)

// Preparer runs the per-example transform on a worker pool.
type Preparer struct {
	loader    AudioLoader
	extractor FeatureExtractor
	labels    LabelEncoder
	workers   int
	logger    *slog.Logger
	progress  Progress
}

// Option customizes a Preparer.
type Option func(*Preparer)

// WithWorkers sets the pool size. Values below one fall back to one.
func WithWorkers(n int) Option {
	return func(p *Preparer) {
		p.workers = max(n, 1)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preparer) {
		p.logger = logging.NewComponentLogger(logger, "prepare")
	}
}

// WithProgress registers a progress callback. It is never called
// concurrently.
func WithProgress(fn Progress) Option {
	return func(p *Preparer) {
		p.progress = fn
	}
}

// New constructs a Preparer.
func New(loader AudioLoader, extractor FeatureExtractor, labels LabelEncoder, opts ...Option) *Preparer {
	p := &Preparer{
		loader:    loader,
		extractor: extractor,
		labels:    labels,
		workers:   1,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReportingTo returns a copy of p that reports progress to fn.
func (p *Preparer) ReportingTo(fn Progress) *Preparer {
	cp := *p
	cp.progress = fn
	return &cp
}

// Transform prepares a single example.
func (p *Preparer) Transform(ctx context.Context, index int, ex dataset.Example) (Prepared, error) {
	clip, err := p.loader.Load(ctx, ex.Path)
	if err != nil {
		return Prepared{}, fmt.Errorf("load audio %s: %w", ex.Path, err)
	}
	matrix, err := p.extractor.Extract(clip.Samples)
	if err != nil {
		return Prepared{}, fmt.Errorf("extract features %s: %w", ex.Path, err)
	}
	labels, err := p.labels.EncodeLabels(ex.Sentence)
	if err != nil {
		return Prepared{}, fmt.Errorf("tokenize %s: %w", ex.Path, err)
	}
	return Prepared{Index: index, Example: ex, Features: matrix, Labels: labels}, nil
}

// Sink receives finished examples. It is called from a single goroutine,
// in completion order rather than input order.
type Sink func(Prepared) error

// Run transforms every example and hands each result to sink as soon as it
// is ready, so at most a few pool-sized batches of feature matrices are
// alive at once. The first error from a worker or from sink cancels
// outstanding work and is returned.
func (p *Preparer) Run(ctx context.Context, split string, examples []dataset.Example, sink Sink) error {
	total := len(examples)
	if total == 0 {
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	group, gctx := errgroup.WithContext(runCtx)
	group.SetLimit(p.workers)

	finished := make(chan Prepared, p.workers)
	drained := make(chan error, 1)
	go func() {
		drained <- p.drain(split, total, finished, sink, cancel)
	}()

	for i, ex := range examples {
		if gctx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			prepared, err := p.Transform(gctx, i, ex)
			if err != nil {
				return fmt.Errorf("prepare example %d: %w", i, err)
			}
			select {
			case finished <- prepared:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := group.Wait()
	close(finished)
	if sinkErr := <-drained; sinkErr != nil {
		return sinkErr
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// drain feeds sink until finished closes. After a sink failure it keeps
// receiving so no worker blocks on send.
func (p *Preparer) drain(split string, total int, finished <-chan Prepared, sink Sink, cancel context.CancelCauseFunc) error {
	var (
		failed error
		done   int
	)
	sampler := logging.NewProgressSampler(10)
	for prepared := range finished {
		if failed != nil {
			continue
		}
		if err := sink(prepared); err != nil {
			failed = fmt.Errorf("store example %d: %w", prepared.Index, err)
			cancel(failed)
			continue
		}
		done++
		if p.progress != nil {
			p.progress(done, total)
		}
		percent := float64(done) / float64(total) * 100
		if sampler.ShouldLog(percent, split) {
			p.logger.Info("preparation progress",
				logging.String(logging.FieldSplit, split),
				logging.Int("done", done),
				logging.Int("total", total),
				logging.Float64("percent", percent),
			)
		}
	}
	return failed
}

// Stored converts p into its stored form.
func (p Prepared) Stored() store.PreparedExample {
	return store.PreparedExample{
		Index:    p.Index,
		Path:     p.Example.Path,
		Sentence: p.Example.Sentence,
		Features: p.Features,
		Labels:   p.Labels,
	}
}
