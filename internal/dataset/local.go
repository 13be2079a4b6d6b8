package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"whispertune/internal/services"
	"whispertune/internal/textprep"
)

// LocalSource reads a Common Voice style directory from disk.
type LocalSource struct {
	Root string
}

// NewLocalSource returns a LocalSource rooted at root.
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{Root: root}
}

// Name implements Source.
func (s *LocalSource) Name() string {
	return "local:" + s.Root
}

// Examples reads <root>/<split>.tsv. The validation split falls back to
// dev.tsv. Clip paths are resolved against <root>/clips.
func (s *LocalSource) Examples(ctx context.Context, split string) ([]Example, error) {
	manifest, err := s.manifestPath(split)
	if err != nil {
		return nil, err
	}
	records, err := textprep.ReadManifestFile(manifest)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "dataset", "read manifest", "", err)
	}
	clips := filepath.Join(s.Root, "clips")
	out := make([]Example, len(records))
	for i, rec := range records {
		path := rec.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(clips, path)
		}
		out[i] = Example{Path: path, Sentence: rec.Sentence}
	}
	return out, nil
}

func (s *LocalSource) manifestPath(split string) (string, error) {
	candidates := []string{filepath.Join(s.Root, split+".tsv")}
	if alt := fileSplit(split); alt != split {
		candidates = append(candidates, filepath.Join(s.Root, alt+".tsv"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat manifest: %w", err)
		}
	}
	return "", services.Wrap(services.ErrNotFound, "dataset", "locate manifest", fmt.Sprintf("no manifest for split %q under %s", split, s.Root), nil)
}
