package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"whispertune/internal/logging"
	"whispertune/internal/services"
)

// Repository kinds addressed by ResolveURL.
const (
	RepoModel   = "model"
	RepoDataset = "dataset"
)

// Progress receives byte counts while a download runs. total is -1 when the
// server did not send a length.
type Progress func(file string, written, total int64)

// ResolveURL returns the download URL for a file in a repository revision.
func (c *Client) ResolveURL(kind, repoID, revision, file string) string {
	if revision == "" {
		revision = "main"
	}
	prefix := ""
	if kind == RepoDataset {
		prefix = "/datasets"
	}
	return fmt.Sprintf("%s%s/%s/resolve/%s/%s", c.endpoint, prefix, repoID, url.PathEscape(revision), escapePath(file))
}

// Download fetches one repository file into dest and returns its sha256. The
// body is streamed into dest+".partial" and renamed on success so an
// interrupted transfer never leaves a truncated file at dest.
func (c *Client) Download(ctx context.Context, kind, repoID, revision, file, dest string, progress Progress) (string, error) {
	src := c.ResolveURL(kind, repoID, revision, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "download", file, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "download "+file); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	tmpPath := dest + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}

	writer := &progressWriter{
		ctx:      ctx,
		file:     file,
		total:    resp.ContentLength,
		hash:     sha256.New(),
		progress: progress,
	}
	_, copyErr := io.Copy(io.MultiWriter(out, writer), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrTransient, stageName, "download", file, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close partial file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalize download: %w", err)
	}

	sum := hex.EncodeToString(writer.hash.Sum(nil))
	c.logger.Debug("hub file downloaded",
		logging.String("repo_id", repoID),
		logging.String("file", file),
		logging.Int64("bytes", writer.written),
		logging.String("sha256", sum),
	)
	return sum, nil
}

// DownloadIfMissing skips the request when dest already exists.
func (c *Client) DownloadIfMissing(ctx context.Context, kind, repoID, revision, file, dest string, progress Progress) error {
	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		return nil
	}
	_, err := c.Download(ctx, kind, repoID, revision, file, dest, progress)
	return err
}

type progressWriter struct {
	ctx      context.Context
	file     string
	total    int64
	written  int64
	hash     hash.Hash
	progress Progress
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	select {
	case <-pw.ctx.Done():
		return 0, pw.ctx.Err()
	default:
	}
	n, err := pw.hash.Write(p)
	if err != nil {
		return n, err
	}
	pw.written += int64(n)
	if pw.progress != nil {
		pw.progress(pw.file, pw.written, pw.total)
	}
	return n, nil
}

func escapePath(file string) string {
	parts := strings.Split(strings.TrimLeft(file, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
