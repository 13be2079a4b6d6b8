package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Special token names used by Whisper checkpoints.
const (
	EndOfText          = "<|endoftext|>"
	StartOfTranscript  = "<|startoftranscript|>"
	TaskTranscribe     = "<|transcribe|>"
	TaskTranslate      = "<|translate|>"
	NoTimestamps       = "<|notimestamps|>"
	VocabFile          = "vocab.json"
	MergesFile         = "merges.txt"
	AddedTokensFile    = "added_tokens.json"
	SpecialTokensFile  = "special_tokens_map.json"
	TokenizerConfig    = "tokenizer_config.json"
	NormalizerFile     = "normalizer.json"
	pretokenizePattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
)

// Files lists the tokenizer files of a checkpoint. The first two are required.
var Files = []string{VocabFile, MergesFile, AddedTokensFile, SpecialTokensFile, TokenizerConfig, NormalizerFile}

// Tokenizer is a byte-level BPE tokenizer. It is safe for concurrent use.
type Tokenizer struct {
	encoder  map[string]int
	decoder  map[int]string
	special  map[int]struct{}
	bpe      *bpe
	pattern  *regexp2.Regexp
	language string
	task     string
}

// Load reads the tokenizer files from dir.
func Load(dir string) (*Tokenizer, error) {
	vocabData, err := os.ReadFile(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	mergesData, err := os.ReadFile(filepath.Join(dir, MergesFile))
	if err != nil {
		return nil, fmt.Errorf("read merges: %w", err)
	}
	var vocab map[string]int
	if err := json.Unmarshal(vocabData, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	added := map[string]int{}
	addedData, err := os.ReadFile(filepath.Join(dir, AddedTokensFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(addedData, &added); err != nil {
			return nil, fmt.Errorf("parse added tokens: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read added tokens: %w", err)
	}
	return newTokenizer(vocab, parseMerges(string(mergesData)), added)
}

// New builds a tokenizer from an in-memory vocabulary, merges given as
// "left right" lines and added special tokens. Every added token is special.
func New(vocab map[string]int, merges []string, added map[string]int) (*Tokenizer, error) {
	return newTokenizer(vocab, parseMerges(strings.Join(merges, "\n")), added)
}

func newTokenizer(vocab map[string]int, merges []pair, added map[string]int) (*Tokenizer, error) {
	if len(vocab) == 0 {
		return nil, errors.New("tokenizer: empty vocabulary")
	}
	pattern, err := regexp2.Compile(pretokenizePattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: compile pattern: %w", err)
	}
	t := &Tokenizer{
		encoder:  make(map[string]int, len(vocab)+len(added)),
		decoder:  make(map[int]string, len(vocab)+len(added)),
		special:  make(map[int]struct{}, len(added)+1),
		bpe:      newBPE(merges),
		pattern:  pattern,
		language: "en",
		task:     TaskTranscribe,
	}
	for tok, id := range vocab {
		t.encoder[tok] = id
		t.decoder[id] = tok
	}
	for tok, id := range added {
		t.encoder[tok] = id
		t.decoder[id] = tok
		t.special[id] = struct{}{}
	}
	if id, ok := t.encoder[EndOfText]; ok {
		t.special[id] = struct{}{}
	}
	return t, nil
}

// SetPrefix selects the language and task tokens placed before every label.
func (t *Tokenizer) SetPrefix(language, task string) error {
	lang := strings.ToLower(strings.TrimSpace(language))
	if _, ok := t.encoder["<|"+lang+"|>"]; !ok {
		return fmt.Errorf("tokenizer: no language token for %q", language)
	}
	taskToken := "<|" + strings.ToLower(strings.TrimSpace(task)) + "|>"
	if _, ok := t.encoder[taskToken]; !ok {
		return fmt.Errorf("tokenizer: no task token for %q", task)
	}
	t.language = lang
	t.task = taskToken
	return nil
}

// TokenID returns the id of a vocabulary or special token.
func (t *Tokenizer) TokenID(token string) (int, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

// EOTID is the end-of-text id, also used as the label padding id.
func (t *Tokenizer) EOTID() int {
	return t.encoder[EndOfText]
}

// PadID returns the id used to pad label sequences.
func (t *Tokenizer) PadID() int {
	return t.EOTID()
}

// DecoderStartID is the id every label sequence begins with.
func (t *Tokenizer) DecoderStartID() int {
	return t.encoder[StartOfTranscript]
}

// VocabSize returns the number of distinct ids.
func (t *Tokenizer) VocabSize() int {
	return len(t.decoder)
}

// PrefixIDs returns the start, language, task and no-timestamps ids.
func (t *Tokenizer) PrefixIDs() []int {
	ids := make([]int, 0, 4)
	for _, tok := range []string{StartOfTranscript, "<|" + t.language + "|>", t.task, NoTimestamps} {
		if id, ok := t.encoder[tok]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Encode converts text to BPE ids without any special tokens.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	var ids []int
	m, err := t.pattern.FindStringMatch(text)
	for ; m != nil && err == nil; m, err = t.pattern.FindNextMatch(m) {
		for _, piece := range t.bpe.split(encodeBytes(m.String())) {
			id, ok := t.encoder[piece]
			if !ok {
				return nil, fmt.Errorf("tokenizer: piece %q missing from vocabulary", piece)
			}
			ids = append(ids, id)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("tokenizer: pre-tokenize: %w", err)
	}
	return ids, nil
}

// EncodeLabels returns prefix ids, the encoded text, then end-of-text.
func (t *Tokenizer) EncodeLabels(text string) ([]int, error) {
	body, err := t.Encode(text)
	if err != nil {
		return nil, err
	}
	prefix := t.PrefixIDs()
	out := make([]int, 0, len(prefix)+len(body)+1)
	out = append(out, prefix...)
	out = append(out, body...)
	out = append(out, t.EOTID())
	return out, nil
}

// IsSpecial reports whether id is a special token.
func (t *Tokenizer) IsSpecial(id int) bool {
	_, ok := t.special[id]
	return ok
}

// Decode converts ids back to text. Unknown ids are skipped; invalid UTF-8
// is replaced with U+FFFD.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) string {
	var sb strings.Builder
	var pending strings.Builder
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		sb.WriteString(toValidUTF8(decodeBytes(pending.String())))
		pending.Reset()
	}
	for _, id := range ids {
		tok, ok := t.decoder[id]
		if !ok {
			continue
		}
		if t.IsSpecial(id) {
			if skipSpecial {
				continue
			}
			flush()
			sb.WriteString(tok)
			continue
		}
		pending.WriteString(tok)
	}
	flush()
	return sb.String()
}

// BatchDecode decodes every row.
func (t *Tokenizer) BatchDecode(batch [][]int, skipSpecial bool) []string {
	out := make([]string, len(batch))
	for i, ids := range batch {
		out[i] = t.Decode(ids, skipSpecial)
	}
	return out
}

// SpecialTokens returns the special token strings sorted by id.
func (t *Tokenizer) SpecialTokens() []string {
	ids := make([]int, 0, len(t.special))
	for id := range t.special {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.decoder[id]
	}
	return out
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
