package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"whispertune/internal/fileutil"
	"whispertune/internal/logging"
	"whispertune/internal/services"
)

// LFSThreshold is the size at which files are uploaded through LFS.
const LFSThreshold = 10 << 20

// lfsExtensions are binary formats the hub only accepts through LFS, however
// small.
var lfsExtensions = map[string]bool{
	".bin":         true,
	".safetensors": true,
	".pt":          true,
	".pth":         true,
	".ckpt":        true,
	".h5":          true,
	".msgpack":     true,
	".onnx":        true,
}

// needsLFS reports whether a file of size bytes at path goes through LFS.
func needsLFS(path string, size int64) bool {
	return size >= LFSThreshold || lfsExtensions[strings.ToLower(filepath.Ext(path))]
}

// CommitFile is one file of a commit: LocalPath is read, PathInRepo is where
// it lands.
type CommitFile struct {
	LocalPath  string
	PathInRepo string
}

// CommitInfo is returned by a successful commit.
type CommitInfo struct {
	CommitURL string `json:"commitUrl"`
	CommitOID string `json:"commitOid"`
}

type lfsObject struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type stagedFile struct {
	CommitFile
	size int64
	oid  string
	lfs  bool
}

// Commit uploads files to the main branch of repoID as one commit.
func (c *Client) Commit(ctx context.Context, repoID, message string, files []CommitFile) (CommitInfo, error) {
	if len(files) == 0 {
		return CommitInfo{}, services.Wrap(services.ErrValidation, stageName, "commit", "no files to upload", nil)
	}
	token, err := c.requireToken(ctx)
	if err != nil {
		return CommitInfo{}, err
	}

	staged := make([]stagedFile, 0, len(files))
	var large []stagedFile
	for _, file := range files {
		oid, size, err := fileutil.HashFile(file.LocalPath)
		if err != nil {
			return CommitInfo{}, fmt.Errorf("hash %s: %w", file.LocalPath, err)
		}
		entry := stagedFile{CommitFile: file, size: size, oid: oid, lfs: needsLFS(file.PathInRepo, size)}
		staged = append(staged, entry)
		if entry.lfs {
			large = append(large, entry)
		}
	}

	if len(large) > 0 {
		if err := c.uploadLFS(ctx, token, repoID, large); err != nil {
			return CommitInfo{}, err
		}
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	if err := enc.Encode(map[string]any{
		"key":   "header",
		"value": map[string]string{"summary": message, "description": ""},
	}); err != nil {
		return CommitInfo{}, fmt.Errorf("encode commit header: %w", err)
	}
	for _, file := range staged {
		var line map[string]any
		if file.lfs {
			line = map[string]any{
				"key": "lfsFile",
				"value": map[string]any{
					"path": file.PathInRepo,
					"algo": "sha256",
					"oid":  file.oid,
					"size": file.size,
				},
			}
		} else {
			data, err := os.ReadFile(file.LocalPath)
			if err != nil {
				return CommitInfo{}, fmt.Errorf("read %s: %w", file.LocalPath, err)
			}
			line = map[string]any{
				"key": "file",
				"value": map[string]string{
					"path":     file.PathInRepo,
					"encoding": "base64",
					"content":  base64.StdEncoding.EncodeToString(data),
				},
			}
		}
		if err := enc.Encode(line); err != nil {
			return CommitInfo{}, fmt.Errorf("encode commit entry: %w", err)
		}
	}

	endpoint := fmt.Sprintf("%s/api/models/%s/commit/main", c.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &payload)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("build commit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.http.Do(req)
	if err != nil {
		return CommitInfo{}, services.Wrap(services.ErrTransient, stageName, "commit", repoID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "commit"); err != nil {
		return CommitInfo{}, err
	}
	var info CommitInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return CommitInfo{}, fmt.Errorf("decode commit response: %w", err)
	}
	c.logger.Info("hub commit created",
		logging.String(logging.FieldEventType, "hub_commit"),
		logging.String("repo_id", repoID),
		logging.Int("files", len(staged)),
		logging.Int("lfs_files", len(large)),
		logging.String("commit_url", info.CommitURL),
	)
	return info, nil
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsBatchResponse struct {
	Objects []struct {
		lfsObject
		Actions map[string]lfsAction `json:"actions"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"objects"`
}

func (c *Client) uploadLFS(ctx context.Context, token, repoID string, files []stagedFile) error {
	objects := make([]lfsObject, len(files))
	byOID := make(map[string]stagedFile, len(files))
	for i, file := range files {
		objects[i] = lfsObject{OID: file.oid, Size: file.size}
		byOID[file.oid] = file
	}
	body, err := json.Marshal(map[string]any{
		"operation": "upload",
		"transfers": []string{"basic"},
		"hash_algo": "sha256",
		"objects":   objects,
	})
	if err != nil {
		return fmt.Errorf("encode lfs batch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", c.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build lfs batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.git-lfs+json")
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "lfs batch", repoID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "lfs batch"); err != nil {
		return err
	}
	var batch lfsBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return fmt.Errorf("decode lfs batch response: %w", err)
	}

	for _, obj := range batch.Objects {
		if obj.Error != nil {
			return services.Wrap(services.ErrExternalTool, stageName, "lfs batch", fmt.Sprintf("object %s: %s", obj.OID, obj.Error.Message), nil)
		}
		upload, ok := obj.Actions["upload"]
		if !ok {
			// Already stored on the server.
			continue
		}
		file, ok := byOID[obj.OID]
		if !ok {
			return fmt.Errorf("lfs batch returned unknown object %s", obj.OID)
		}
		if err := c.putLFSObject(ctx, upload, file); err != nil {
			return err
		}
		if verify, ok := obj.Actions["verify"]; ok {
			if err := c.verifyLFSObject(ctx, token, verify, file); err != nil {
				return err
			}
		}
		c.logger.Debug("lfs object uploaded",
			logging.String("path", file.PathInRepo),
			logging.Int64("size", file.size),
		)
	}
	return nil
}

func (c *Client) putLFSObject(ctx context.Context, action lfsAction, file stagedFile) error {
	f, err := os.Open(file.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", file.LocalPath, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, action.Href, f)
	if err != nil {
		return fmt.Errorf("build lfs upload request: %w", err)
	}
	req.ContentLength = file.size
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "lfs upload", file.PathInRepo, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "lfs upload "+file.PathInRepo)
}

func (c *Client) verifyLFSObject(ctx context.Context, token string, action lfsAction, file stagedFile) error {
	body, err := json.Marshal(lfsObject{OID: file.oid, Size: file.size})
	if err != nil {
		return fmt.Errorf("encode lfs verify: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.Href, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build lfs verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "lfs verify", file.PathInRepo, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, "lfs verify "+file.PathInRepo)
}
