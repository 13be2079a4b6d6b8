package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ErrNoToken is returned when a provider has no credential to offer.
var ErrNoToken = errors.New("no hub token available")

// TokenProvider supplies the bearer token used for hub requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// EnvToken reads the first non-empty variable from Vars.
type EnvToken struct {
	Vars []string
}

// DefaultTokenVars are consulted by NewEnvToken.
var DefaultTokenVars = []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"}

// NewEnvToken returns an EnvToken over DefaultTokenVars.
func NewEnvToken() EnvToken {
	return EnvToken{Vars: DefaultTokenVars}
}

// Token implements TokenProvider.
func (e EnvToken) Token(context.Context) (string, error) {
	for _, name := range e.Vars {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value, nil
		}
	}
	return "", ErrNoToken
}

// FileToken reads a token written by other hub tooling. The file is never
// written.
type FileToken struct {
	Path string
}

// Token implements TokenProvider.
func (f FileToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(f.Path) == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// PromptToken asks for a token on the terminal. The answer is kept in memory
// only. Non-terminal input yields ErrNoToken so batch runs never block.
type PromptToken struct {
	In  *os.File
	Out io.Writer
}

// NewPromptToken prompts on stdin/stderr.
func NewPromptToken() PromptToken {
	return PromptToken{In: os.Stdin, Out: os.Stderr}
}

// Token implements TokenProvider.
func (p PromptToken) Token(ctx context.Context) (string, error) {
	if p.In == nil || !isTerminal(p.In.Fd()) {
		return "", ErrNoToken
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprint(out, "Hub access token: ")

	type answer struct {
		token string
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		raw, err := term.ReadPassword(int(p.In.Fd()))
		fmt.Fprintln(out)
		done <- answer{token: strings.TrimSpace(string(raw)), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		if a.err != nil {
			return "", fmt.Errorf("read token: %w", a.err)
		}
		if a.token == "" {
			return "", ErrNoToken
		}
		return a.token, nil
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Chain tries each provider in order and returns the first token found.
// Errors other than ErrNoToken stop the chain.
type Chain []TokenProvider

// Token implements TokenProvider.
func (c Chain) Token(ctx context.Context) (string, error) {
	for _, provider := range c {
		if provider == nil {
			continue
		}
		token, err := provider.Token(ctx)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrNoToken) {
			return "", err
		}
	}
	return "", ErrNoToken
}
