// Package textprep turns raw reference transcripts into a fixed-shape integer
// matrix.
//
// The pipeline is: read a Common Voice style TSV manifest, strip a fixed set
// of punctuation characters, build a first-seen vocabulary over the cleaned
// corpus (0 is reserved for padding), encode each sentence, and pad every
// sequence to the length of the longest one.
package textprep
