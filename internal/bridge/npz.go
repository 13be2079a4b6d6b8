package bridge

import (
	"fmt"
	"io"

	"github.com/sbinet/npyio/npz"

	"whispertune/internal/collator"
)

// NPZContentType is the media type of collate responses.
const NPZContentType = "application/x-npz"

// array is one batch tensor, flattened in row-major order. data is a
// []float32, []int32 or []int64.
type array struct {
	name  string
	shape []int64
	data  any
}

// WriteBatchNPZ writes b as an .npz archive holding input_features
// (float32), attention_mask (int32) and labels (int64). Each tensor is
// stored flat next to a "<name>_shape" int64 vector giving its dimensions.
func WriteBatchNPZ(w io.Writer, b collator.Batch) error {
	arrays, err := batchArrays(b)
	if err != nil {
		return err
	}
	zw := npz.NewWriter(w)
	for _, a := range arrays {
		if err := zw.Write(a.name+".npy", a.data); err != nil {
			return fmt.Errorf("npz member %s: %w", a.name, err)
		}
		if err := zw.Write(a.name+"_shape.npy", a.shape); err != nil {
			return fmt.Errorf("npz member %s_shape: %w", a.name, err)
		}
	}
	return zw.Close()
}

func batchArrays(b collator.Batch) ([]array, error) {
	n := len(b.InputFeatures)
	if n == 0 || len(b.AttentionMask) != n || len(b.Labels) != n {
		return nil, fmt.Errorf("batch has %d feature rows, %d mask rows, %d label rows", n, len(b.AttentionMask), len(b.Labels))
	}
	bins := len(b.InputFeatures[0])
	frames := 0
	if bins > 0 {
		frames = len(b.InputFeatures[0][0])
	}
	labelLen := len(b.Labels[0])

	feats := make([]float32, 0, n*bins*frames)
	for i, ex := range b.InputFeatures {
		if len(ex) != bins {
			return nil, fmt.Errorf("example %d has %d mel bins, want %d", i, len(ex), bins)
		}
		for _, row := range ex {
			if len(row) != frames {
				return nil, fmt.Errorf("example %d has %d frames, want %d", i, len(row), frames)
			}
			feats = append(feats, row...)
		}
	}
	mask := make([]int32, 0, n*frames)
	for i, row := range b.AttentionMask {
		if len(row) != frames {
			return nil, fmt.Errorf("mask row %d has %d frames, want %d", i, len(row), frames)
		}
		mask = append(mask, row...)
	}
	labels := make([]int64, 0, n*labelLen)
	for i, row := range b.Labels {
		if len(row) != labelLen {
			return nil, fmt.Errorf("label row %d has length %d, want %d", i, len(row), labelLen)
		}
		labels = append(labels, row...)
	}

	return []array{
		{name: "input_features", shape: []int64{int64(n), int64(bins), int64(frames)}, data: feats},
		{name: "attention_mask", shape: []int64{int64(n), int64(frames)}, data: mask},
		{name: "labels", shape: []int64{int64(n), int64(labelLen)}, data: labels},
	}, nil
}
