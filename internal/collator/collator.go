// Package collator assembles prepared examples into padded training batches.
package collator

import (
	"errors"
	"fmt"

	"whispertune/internal/features"
)

// IgnoreIndex marks label positions the loss must skip.
const IgnoreIndex = -100

// ErrEmptyBatch is returned when Collate receives no examples.
var ErrEmptyBatch = errors.New("empty batch")

// Example is one (features, labels) pair.
type Example struct {
	Features features.Matrix
	Labels   []int
}

// Batch is a collated batch.
type Batch struct {
	// InputFeatures is [batch][mel bin][frame].
	InputFeatures [][][]float32
	// AttentionMask is [batch][frame], 1 on real frames.
	AttentionMask [][]int32
	// Labels is [batch][length]; padding positions hold IgnoreIndex.
	Labels [][]int64
}

// Collator pads features and labels. It holds no mutable state and is safe
// for concurrent use.
type Collator struct {
	padID          int
	decoderStartID int
	paddingValue   float32
}

// New returns a collator that pads labels with padID and strips a leading
// decoderStartID column when every row carries it.
func New(padID, decoderStartID int) *Collator {
	return &Collator{padID: padID, decoderStartID: decoderStartID}
}

// PadID returns the label padding id.
func (c *Collator) PadID() int {
	return c.padID
}

// DecoderStartID returns the id stripped from label rows.
func (c *Collator) DecoderStartID() int {
	return c.decoderStartID
}

// Collate pads features through the feature extractor's padding routine and
// fills every padded label position with IgnoreIndex. If each row starts
// with the decoder start id, that column is removed once.
func (c *Collator) Collate(examples []Example) (Batch, error) {
	if len(examples) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	matrices := make([]features.Matrix, len(examples))
	for i, ex := range examples {
		matrices[i] = ex.Features
	}
	padded, err := features.Pad(matrices, c.paddingValue)
	if err != nil {
		return Batch{}, fmt.Errorf("collate features: %w", err)
	}

	width := 0
	for _, ex := range examples {
		width = max(width, len(ex.Labels))
	}
	labels := make([][]int64, len(examples))
	allStart := width > 0
	for i, ex := range examples {
		row := make([]int64, width)
		for j := range width {
			if j < len(ex.Labels) {
				row[j] = int64(ex.Labels[j])
				continue
			}
			row[j] = IgnoreIndex
		}
		if len(ex.Labels) == 0 || ex.Labels[0] != c.decoderStartID {
			allStart = false
		}
		labels[i] = row
	}
	if allStart {
		for i := range labels {
			labels[i] = labels[i][1:]
		}
	}

	return Batch{
		InputFeatures: padded.Values,
		AttentionMask: padded.AttentionMask,
		Labels:        labels,
	}, nil
}
