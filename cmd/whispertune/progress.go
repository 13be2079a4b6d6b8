package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"whispertune/internal/hub"
	"whispertune/internal/workflow"
)

// progressReporter drives terminal progress bars for downloads and split
// preparation. A disabled reporter hands out nil callbacks.
type progressReporter struct {
	out     io.Writer
	enabled bool

	mu  sync.Mutex
	key string
	bar *progressbar.ProgressBar
}

func newProgressReporter(out io.Writer, enabled bool) *progressReporter {
	return &progressReporter{out: out, enabled: enabled && shouldColorize(out)}
}

func (p *progressReporter) download() hub.Progress {
	if !p.enabled {
		return nil
	}
	return func(file string, written, total int64) {
		p.mu.Lock()
		defer p.mu.Unlock()
		bar := p.barFor("download:"+file, func() *progressbar.ProgressBar {
			size := total
			if size <= 0 {
				size = -1
			}
			return progressbar.NewOptions64(size,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription(fmt.Sprintf("downloading %s", file)),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
		})
		_ = bar.Set64(written)
	}
}

func (p *progressReporter) prepare() workflow.PrepareProgress {
	if !p.enabled {
		return nil
	}
	return func(split string, done, total int) {
		p.mu.Lock()
		defer p.mu.Unlock()
		bar := p.barFor("prepare:"+split, func() *progressbar.ProgressBar {
			return progressbar.NewOptions(total,
				progressbar.OptionSetWriter(p.out),
				progressbar.OptionSetDescription(fmt.Sprintf("preparing %s", split)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		})
		_ = bar.Set(done)
	}
}

// barFor returns the bar for key, finishing the previous one when the key
// changes. Callers hold p.mu.
func (p *progressReporter) barFor(key string, create func() *progressbar.ProgressBar) *progressbar.ProgressBar {
	if p.key == key && p.bar != nil {
		return p.bar
	}
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.key = key
	p.bar = create()
	return p.bar
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.key = ""
	}
}
