package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Ids of the special tokens written by WriteTokenizer. They match the
// multilingual Whisper vocabulary.
const (
	TokenEndOfText         = 50257
	TokenStartOfTranscript = 50258
	TokenEnglish           = 50259
	TokenFrench            = 50265
	TokenTranslate         = 50358
	TokenTranscribe        = 50359
	TokenNoTimestamps      = 50363

	// TokenHello and TokenWorld are the ids "hello world" encodes to.
	TokenHello = 259
	TokenWorld = 264
)

var fixtureMerges = []string{
	"h e", "l l", "he ll", "hell o",
	"Ġ w", "o r", "Ġw or", "l d", "Ġwor ld",
}

// WriteTokenizer writes a minimal byte-level BPE tokenizer into dir. Every
// single byte is in the vocabulary so arbitrary text encodes; "hello" and
// " world" collapse to one token each.
func WriteTokenizer(t testing.TB, dir string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir tokenizer dir: %v", err)
	}
	vocab := make(map[string]int, 265)
	for b, r := range fixtureByteRunes() {
		vocab[string(r)] = b
	}
	next := 256
	for _, merge := range fixtureMerges {
		vocab[strings.ReplaceAll(merge, " ", "")] = next
		next++
	}
	added := map[string]int{
		"<|endoftext|>":         TokenEndOfText,
		"<|startoftranscript|>": TokenStartOfTranscript,
		"<|en|>":                TokenEnglish,
		"<|fr|>":                TokenFrench,
		"<|translate|>":         TokenTranslate,
		"<|transcribe|>":        TokenTranscribe,
		"<|notimestamps|>":      TokenNoTimestamps,
	}

	writeJSON(t, filepath.Join(dir, "vocab.json"), vocab)
	writeJSON(t, filepath.Join(dir, "added_tokens.json"), added)
	merges := "#version: 0.2\n" + strings.Join(fixtureMerges, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(merges), 0o644); err != nil {
		t.Fatalf("write merges: %v", err)
	}
}

func fixtureByteRunes() [256]rune {
	var out [256]rune
	next := 0
	for b := range 256 {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			out[b] = rune(b)
			continue
		}
		out[b] = rune(256 + next)
		next++
	}
	return out
}

func writeJSON(t testing.TB, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
