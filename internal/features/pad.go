package features

import (
	"errors"
	"fmt"
)

// Padded is a batch of spectrograms padded to a common frame count.
type Padded struct {
	// Values is [batch][mel bin][frame].
	Values [][][]float32
	// AttentionMask is [batch][frame], 1 on frames that came from the input.
	AttentionMask [][]int32
}

// Frames returns the padded frame count.
func (p Padded) Frames() int {
	if len(p.AttentionMask) == 0 {
		return 0
	}
	return len(p.AttentionMask[0])
}

// Pad right-pads every matrix with paddingValue to the longest frame count in
// the batch and builds the matching attention mask. All matrices must share
// the same number of mel bins.
func Pad(batch []Matrix, paddingValue float32) (Padded, error) {
	if len(batch) == 0 {
		return Padded{}, errors.New("pad features: empty batch")
	}
	bins := batch[0].Bins()
	frames := 0
	for i, m := range batch {
		if m.Bins() != bins {
			return Padded{}, fmt.Errorf("pad features: example %d has %d mel bins, want %d", i, m.Bins(), bins)
		}
		frames = max(frames, m.Frames())
	}

	out := Padded{
		Values:        make([][][]float32, len(batch)),
		AttentionMask: make([][]int32, len(batch)),
	}
	for i, m := range batch {
		valid := m.Frames()
		rows := make([][]float32, bins)
		for b := range bins {
			row := make([]float32, frames)
			copy(row, m[b])
			for t := valid; t < frames; t++ {
				row[t] = paddingValue
			}
			rows[b] = row
		}
		mask := make([]int32, frames)
		for t := range valid {
			mask[t] = 1
		}
		out.Values[i] = rows
		out.AttentionMask[i] = mask
	}
	return out, nil
}
