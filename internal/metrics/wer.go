// Package metrics computes word error rate for evaluation.
package metrics

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoReferenceWords is returned when the references contain no words.
var ErrNoReferenceWords = errors.New("references contain no words")

// WordErrorRate returns the corpus word error rate: the summed word-level
// edit distance over the summed reference word count. Words are split on
// whitespace without further normalization.
func WordErrorRate(references, hypotheses []string) (float64, error) {
	if len(references) != len(hypotheses) {
		return 0, fmt.Errorf("have %d references and %d hypotheses", len(references), len(hypotheses))
	}
	var edits, words int
	for i := range references {
		ref := strings.Fields(references[i])
		hyp := strings.Fields(hypotheses[i])
		edits += editDistance(ref, hyp)
		words += len(ref)
	}
	if words == 0 {
		return 0, ErrNoReferenceWords
	}
	return float64(edits) / float64(words), nil
}

// editDistance is the Levenshtein distance over word sequences.
func editDistance(ref, hyp []string) int {
	if len(ref) == 0 {
		return len(hyp)
	}
	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(hyp)]
}
