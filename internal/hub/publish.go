package hub

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"whispertune/internal/services"
)

// PublishRequest describes a finished output directory to push.
type PublishRequest struct {
	RepoID  string
	Private bool
	Dir     string
	Message string
	Card    ModelCard
	// Skip lists extra base names to leave out of the upload.
	Skip []string
}

// PublishResult reports what was pushed.
type PublishResult struct {
	RepoURL   string
	CommitURL string
	Files     []string
}

// Publish writes the model card into the output directory, creates the
// repository if needed and uploads the directory contents in one commit.
// Intermediate checkpoint directories, hidden files and partial downloads
// are left out.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if strings.TrimSpace(req.RepoID) == "" {
		return PublishResult{}, services.Wrap(services.ErrConfiguration, stageName, "publish", "repository id is empty", nil)
	}
	card, err := req.Card.Render()
	if err != nil {
		return PublishResult{}, err
	}
	if err := os.WriteFile(filepath.Join(req.Dir, ModelCardFile), card, 0o644); err != nil {
		return PublishResult{}, fmt.Errorf("write model card: %w", err)
	}

	files, err := CollectFiles(req.Dir, req.Skip...)
	if err != nil {
		return PublishResult{}, err
	}

	repoURL, err := c.CreateRepo(ctx, req.RepoID, req.Private)
	if err != nil {
		return PublishResult{}, err
	}
	message := req.Message
	if message == "" {
		message = "End of training"
	}
	info, err := c.Commit(ctx, req.RepoID, message, files)
	if err != nil {
		return PublishResult{}, err
	}

	result := PublishResult{RepoURL: repoURL, CommitURL: info.CommitURL}
	for _, f := range files {
		result.Files = append(result.Files, f.PathInRepo)
	}
	return result, nil
}

// CollectFiles lists the files under dir that belong in a model upload,
// sorted by repository path.
func CollectFiles(dir string, skip ...string) ([]CommitFile, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipped[name] = struct{}{}
	}
	var files []CommitFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != dir && excluded(name, skipped) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, CommitFile{LocalPath: path, PathInRepo: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect upload files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].PathInRepo < files[j].PathInRepo })
	return files, nil
}

func excluded(name string, skipped map[string]struct{}) bool {
	if _, ok := skipped[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".") ||
		strings.HasPrefix(name, "checkpoint-") ||
		strings.HasPrefix(name, "tmp-checkpoint-") ||
		strings.HasSuffix(name, ".partial")
}
