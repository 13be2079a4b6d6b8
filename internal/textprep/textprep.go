package textprep

import (
	"fmt"
	"strings"
)

// RemovedChars is the fixed set of characters stripped from transcripts.
const RemovedChars = "!#$%&()*+,-./:;<=>?@[\\]^_`{|}~"

// PadID is the reserved id used for padding. Vocabulary ids start at 1.
const PadID = 0

// PadSide selects which end of a sequence receives padding.
type PadSide string

const (
	// PadPre pads on the left. This is the default.
	PadPre PadSide = "pre"
	// PadPost pads on the right.
	PadPost PadSide = "post"
)

// ParsePadSide converts a flag value into a PadSide. Empty selects PadPre.
func ParsePadSide(value string) (PadSide, error) {
	switch PadSide(strings.ToLower(strings.TrimSpace(value))) {
	case "", PadPre:
		return PadPre, nil
	case PadPost:
		return PadPost, nil
	default:
		return "", fmt.Errorf("padding side must be %q or %q, got %q", PadPre, PadPost, value)
	}
}

// Clean removes every character of RemovedChars from s. Case and whitespace
// are left untouched.
func Clean(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(RemovedChars, r) {
			return -1
		}
		return r
	}, s)
}

// CleanAll applies Clean to each sentence.
func CleanAll(sentences []string) []string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = Clean(s)
	}
	return out
}

// Vocabulary maps whitespace-delimited tokens to ids in first-seen order.
type Vocabulary struct {
	ids   map[string]int
	words []string
}

// BuildVocabulary scans the corpus once and assigns each distinct token the
// next id, starting at 1.
func BuildVocabulary(corpus []string) *Vocabulary {
	v := &Vocabulary{ids: make(map[string]int)}
	for _, sentence := range corpus {
		for _, word := range strings.Fields(sentence) {
			if _, ok := v.ids[word]; ok {
				continue
			}
			v.words = append(v.words, word)
			v.ids[word] = len(v.words)
		}
	}
	return v
}

// Size returns the number of distinct tokens, excluding the padding id.
func (v *Vocabulary) Size() int {
	return len(v.words)
}

// ID returns the id of word.
func (v *Vocabulary) ID(word string) (int, bool) {
	id, ok := v.ids[word]
	return id, ok
}

// Word returns the token for id, or "" for the padding id and unknown ids.
func (v *Vocabulary) Word(id int) string {
	if id < 1 || id > len(v.words) {
		return ""
	}
	return v.words[id-1]
}

// Words returns the tokens in id order.
func (v *Vocabulary) Words() []string {
	out := make([]string, len(v.words))
	copy(out, v.words)
	return out
}

// Index returns a copy of the token to id mapping.
func (v *Vocabulary) Index() map[string]int {
	out := make(map[string]int, len(v.ids))
	for k, id := range v.ids {
		out[k] = id
	}
	return out
}

// Encode maps a cleaned sentence to ids. Tokens missing from the vocabulary
// are dropped.
func (v *Vocabulary) Encode(sentence string) []int {
	words := strings.Fields(sentence)
	seq := make([]int, 0, len(words))
	for _, word := range words {
		if id, ok := v.ids[word]; ok {
			seq = append(seq, id)
		}
	}
	return seq
}

// EncodeAll encodes every sentence of the corpus.
func (v *Vocabulary) EncodeAll(corpus []string) [][]int {
	out := make([][]int, len(corpus))
	for i, sentence := range corpus {
		out[i] = v.Encode(sentence)
	}
	return out
}

// Pad returns a matrix where every row has the length of the longest
// sequence, filled with PadID on the requested side. An empty input yields an
// empty matrix.
func Pad(sequences [][]int, side PadSide) [][]int {
	width := 0
	for _, seq := range sequences {
		width = max(width, len(seq))
	}
	out := make([][]int, len(sequences))
	for i, seq := range sequences {
		row := make([]int, width)
		offset := 0
		if side != PadPost {
			offset = width - len(seq)
		}
		copy(row[offset:], seq)
		out[i] = row
	}
	return out
}

// Result holds every intermediate of a preprocessing pass.
type Result struct {
	Cleaned    []string
	Vocabulary *Vocabulary
	Sequences  [][]int
	Padded     [][]int
}

// Width returns the padded row length.
func (r Result) Width() int {
	if len(r.Padded) == 0 {
		return 0
	}
	return len(r.Padded[0])
}

// Preprocess runs the full pipeline over raw sentences. The vocabulary is fit
// on the same corpus it encodes.
func Preprocess(sentences []string, side PadSide) Result {
	cleaned := CleanAll(sentences)
	vocab := BuildVocabulary(cleaned)
	sequences := vocab.EncodeAll(cleaned)
	return Result{
		Cleaned:    cleaned,
		Vocabulary: vocab,
		Sequences:  sequences,
		Padded:     Pad(sequences, side),
	}
}
