package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"whispertune/internal/logging"
	"whispertune/internal/services"
)

// CreateRepo creates a model repository. An existing repository is not an
// error. It returns the repository URL.
func (c *Client) CreateRepo(ctx context.Context, repoID string, private bool) (string, error) {
	token, err := c.requireToken(ctx)
	if err != nil {
		return "", err
	}
	payload := map[string]any{
		"name":    repoID,
		"type":    RepoModel,
		"private": private,
	}
	if org, name, ok := strings.Cut(repoID, "/"); ok {
		payload["organization"] = org
		payload["name"] = name
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode create repo request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create repo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "create repo", repoID, err)
	}
	defer resp.Body.Close()

	repoURL := c.endpoint + "/" + repoID
	if resp.StatusCode == http.StatusConflict {
		c.logger.Info("hub repository already exists",
			logging.String(logging.FieldEventType, "hub_repo_exists"),
			logging.String("repo_id", repoID),
		)
		return repoURL, nil
	}
	if err := checkStatus(resp, "create repo"); err != nil {
		return "", err
	}
	var created struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.URL != "" {
		repoURL = created.URL
	}
	c.logger.Info("hub repository created",
		logging.String(logging.FieldEventType, "hub_repo_created"),
		logging.String("repo_id", repoID),
		logging.Bool("private", private),
	)
	return repoURL, nil
}
