// Package tokenizer implements the byte-level BPE tokenizer shipped with
// Whisper checkpoints.
//
// It loads vocab.json, merges.txt and added_tokens.json from a checkpoint
// directory, encodes transcripts into label ids framed by the
// language/task prefix and the end-of-text token, and decodes id sequences
// back to text with special tokens optionally removed.
package tokenizer
