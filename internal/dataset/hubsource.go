package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"

	"whispertune/internal/hub"
	"whispertune/internal/logging"
	"whispertune/internal/services"
	"whispertune/internal/textprep"
)

// Fetcher downloads repository files. *hub.Client satisfies it.
type Fetcher interface {
	Download(ctx context.Context, kind, repoID, revision, file, dest string, progress hub.Progress) (string, error)
}

// HubSource downloads a Common Voice layout dataset from the hub:
//
//	transcript/<config>/<split>.tsv
//	n_shards.json
//	audio/<config>/<split>/<config>_<split>_<n>.tar
//
// Files are cached under CacheDir and reused on later runs.
type HubSource struct {
	Fetcher  Fetcher
	Repo     string
	Config   string
	Revision string
	CacheDir string
	Progress hub.Progress
	Logger   *slog.Logger
}

const extractedMarker = ".extracted"

// Name implements Source.
func (s *HubSource) Name() string {
	return "hub:" + s.Repo
}

func (s *HubSource) logger() *slog.Logger {
	return logging.NewComponentLogger(s.Logger, "dataset")
}

func (s *HubSource) revision() string {
	if s.Revision == "" {
		return "main"
	}
	return s.Revision
}

func (s *HubSource) root() string {
	return filepath.Join(s.CacheDir, filepath.FromSlash(s.Repo), s.revision())
}

// Examples implements Source.
func (s *HubSource) Examples(ctx context.Context, split string) ([]Example, error) {
	name := fileSplit(split)
	transcript := fmt.Sprintf("transcript/%s/%s.tsv", s.Config, name)
	manifest, err := s.fetch(ctx, transcript)
	if err != nil {
		return nil, err
	}
	records, err := textprep.ReadManifestFile(manifest)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "dataset", "read transcript", transcript, err)
	}

	shards, err := s.shardCount(ctx, name)
	if err != nil {
		return nil, err
	}
	audioDir := filepath.Join(s.root(), "clips", s.Config, name)
	for n := range shards {
		shard := fmt.Sprintf("audio/%s/%s/%s_%s_%d.tar", s.Config, name, s.Config, name, n)
		if err := s.extractShard(ctx, shard, audioDir); err != nil {
			return nil, err
		}
	}

	index, err := indexClips(audioDir)
	if err != nil {
		return nil, err
	}
	out := make([]Example, 0, len(records))
	missing := 0
	for _, rec := range records {
		path, ok := index[filepath.Base(rec.Path)]
		if !ok {
			missing++
			continue
		}
		out = append(out, Example{Path: path, Sentence: rec.Sentence})
	}
	if missing > 0 {
		logging.WarnWithContext(s.logger(), "transcript rows without audio skipped", "dataset_clips_missing",
			logging.String(logging.FieldSplit, split),
			logging.Int("missing", missing),
			logging.String(logging.FieldImpact, "examples without audio are excluded from the split"),
			logging.String(logging.FieldErrorHint, "delete the dataset cache directory to force a fresh download"),
		)
	}
	s.logger().Info("hub split resolved",
		logging.String(logging.FieldSplit, split),
		logging.Int("examples", len(out)),
		logging.Int("shards", shards),
	)
	return out, nil
}

func (s *HubSource) fetch(ctx context.Context, file string) (string, error) {
	dest := filepath.Join(s.root(), filepath.FromSlash(file))
	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		return dest, nil
	}
	if s.Fetcher == nil {
		return "", services.Wrap(services.ErrConfiguration, "dataset", "fetch", "no hub client configured", nil)
	}
	if _, err := s.Fetcher.Download(ctx, hub.RepoDataset, s.Repo, s.revision(), file, dest, s.Progress); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *HubSource) shardCount(ctx context.Context, split string) (int, error) {
	path, err := s.fetch(ctx, "n_shards.json")
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read shard index: %w", err)
	}
	var counts map[string]map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		return 0, services.Wrap(services.ErrValidation, "dataset", "parse shard index", "", err)
	}
	n, ok := counts[s.Config][split]
	if !ok || n <= 0 {
		return 0, services.Wrap(services.ErrNotFound, "dataset", "shard index", fmt.Sprintf("no shards for config %q split %q", s.Config, split), nil)
	}
	return n, nil
}

// extractShard downloads one tar shard and unpacks it into dir. A marker file
// next to the archive records a finished extraction.
func (s *HubSource) extractShard(ctx context.Context, shard, dir string) error {
	archive, err := s.fetch(ctx, shard)
	if err != nil {
		return err
	}
	marker := archive + extractedMarker
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := ExtractArchive(archive, dir); err != nil {
		return services.Wrap(services.ErrValidation, "dataset", "extract shard", shard, err)
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("write extraction marker: %w", err)
	}
	s.logger().Debug("shard extracted", logging.String("shard", shard), logging.String("dir", dir))
	return nil
}

// ExtractArchive unpacks a tar archive into dst, refusing archives that
// contain symlinks.
func ExtractArchive(archive, dst string) error {
	err := archiver.Walk(archive, func(f archiver.File) error {
		if f.FileInfo.Mode()&os.ModeSymlink != 0 {
			return errors.New("archive contains a symlink")
		}
		return nil
	})
	if err != nil {
		return err
	}
	tar := &archiver.Tar{
		OverwriteExisting:      true,
		MkdirAll:               true,
		ImplicitTopLevelFolder: false,
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	return tar.Unarchive(archive, dst)
}

// indexClips maps clip base names to their extracted paths. Shards nest
// clips one directory deep, so lookups go by base name.
func indexClips(dir string) (map[string]string, error) {
	index := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			index[d.Name()] = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index clips: %w", err)
	}
	return index, nil
}
