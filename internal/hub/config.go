package hub

import (
	"log/slog"
	"strings"
	"time"

	"whispertune/internal/config"
)

// ConfiguredTokens builds the provider chain for cfg: the configured token,
// the environment, then the token file. The terminal prompt is appended only
// when interactive is set and the configuration allows prompting.
func ConfiguredTokens(cfg *config.Config, interactive bool) Chain {
	chain := Chain{}
	if token := strings.TrimSpace(cfg.Hub.Token); token != "" {
		chain = append(chain, StaticToken(token))
	}
	chain = append(chain, NewEnvToken(), FileToken{Path: cfg.Hub.TokenFile})
	if interactive && cfg.Hub.Interactive {
		chain = append(chain, NewPromptToken())
	}
	return chain
}

// NewClientFromConfig returns a client for the configured endpoint.
func NewClientFromConfig(cfg *config.Config, interactive bool, logger *slog.Logger) *Client {
	opts := []Option{WithLogger(logger)}
	if cfg.Hub.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(time.Duration(cfg.Hub.TimeoutSeconds)*time.Second))
	}
	return NewClient(cfg.Hub.Endpoint, ConfiguredTokens(cfg, interactive), opts...)
}
