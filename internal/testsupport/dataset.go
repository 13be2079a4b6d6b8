package testsupport

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteTone writes a mono 16-bit WAV sine tone.
func WriteTone(t testing.TB, path string, sampleRate int, seconds, freq float64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	n := int(float64(sampleRate) * seconds)
	data := make([]int, n)
	for i := range data {
		data[i] = int(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 0.3 * math.MaxInt16)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
}

// LocalDataset writes a Common Voice style directory with one WAV clip per
// sentence for every split and returns its root.
func LocalDataset(t testing.TB, root string, splits map[string][]string) string {
	t.Helper()

	for split, sentences := range splits {
		var sb strings.Builder
		sb.WriteString("client_id\tpath\tsentence\tup_votes\n")
		for i, sentence := range sentences {
			clip := split + "_" + string(rune('a'+i)) + ".wav"
			WriteTone(t, filepath.Join(root, "clips", clip), 16000, 0.25+0.05*float64(i), 220+float64(40*i))
			sb.WriteString("c\t" + clip + "\t" + sentence + "\t0\n")
		}
		if err := os.WriteFile(filepath.Join(root, split+".tsv"), []byte(sb.String()), 0o644); err != nil {
			t.Fatalf("write %s manifest: %v", split, err)
		}
	}
	return root
}
