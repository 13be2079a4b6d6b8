package metrics

import "fmt"

// IgnoreIndex is the label value for positions the loss skipped.
const IgnoreIndex = -100

// Decoder turns token ids back into text.
type Decoder interface {
	BatchDecode(batch [][]int, skipSpecial bool) []string
	PadID() int
}

// Result is what the evaluation callback reports.
type Result struct {
	// WER is the word error rate in percent.
	WER float64 `json:"wer"`
}

// ComputeMetrics decodes predictions and labels and scores them. Label
// positions holding IgnoreIndex are restored to the pad id before decoding;
// the inputs are not modified.
func ComputeMetrics(dec Decoder, predictions, labels [][]int) (Result, error) {
	if len(predictions) != len(labels) {
		return Result{}, fmt.Errorf("have %d predictions and %d label rows", len(predictions), len(labels))
	}
	pad := dec.PadID()
	restored := make([][]int, len(labels))
	for i, row := range labels {
		out := make([]int, len(row))
		for j, id := range row {
			if id == IgnoreIndex {
				id = pad
			}
			out[j] = id
		}
		restored[i] = out
	}

	predStr := dec.BatchDecode(predictions, true)
	labelStr := dec.BatchDecode(restored, true)
	wer, err := WordErrorRate(labelStr, predStr)
	if err != nil {
		return Result{}, err
	}
	return Result{WER: 100 * wer}, nil
}
