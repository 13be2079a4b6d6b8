package textprep

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxManifestLine = 1 << 20

// Record is one row of a transcript manifest.
type Record struct {
	Path     string
	Sentence string
}

// ReadManifestFile opens path and parses it with ReadManifest.
func ReadManifestFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	records, err := ReadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadManifest parses a tab-separated manifest whose header names at least a
// "path" and a "sentence" column. Quotes are not special; transcripts in
// Common Voice routinely contain unbalanced quote characters.
func ReadManifest(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxManifestLine)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read manifest header: %w", err)
		}
		return nil, errors.New("manifest is empty")
	}
	header := splitRow(scanner.Text())
	pathCol, sentenceCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "path":
			pathCol = i
		case "sentence":
			sentenceCol = i
		}
	}
	if pathCol < 0 || sentenceCol < 0 {
		return nil, fmt.Errorf("manifest header must contain path and sentence columns, got %q", strings.Join(header, ","))
	}

	var records []Record
	for line := 2; scanner.Scan(); line++ {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		row := splitRow(text)
		if pathCol >= len(row) || sentenceCol >= len(row) {
			return nil, fmt.Errorf("manifest line %d has %d columns, want at least %d", line, len(row), max(pathCol, sentenceCol)+1)
		}
		records = append(records, Record{Path: row[pathCol], Sentence: row[sentenceCol]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return records, nil
}

func splitRow(line string) []string {
	return strings.Split(strings.TrimSuffix(line, "\r"), "\t")
}

// Sentences returns the sentence column of records in order.
func Sentences(records []Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Sentence
	}
	return out
}
