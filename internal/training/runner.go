package training

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"whispertune/internal/logging"
	"whispertune/internal/services"
)

var commandContext = exec.CommandContext

// Event types emitted by the runtime, one JSON object per stdout line.
const (
	EventLog        = "log"
	EventEval       = "eval"
	EventCheckpoint = "checkpoint"
	EventDone       = "done"
	EventError      = "error"
)

// Event is one runtime progress record.
type Event struct {
	Type         string   `json:"event"`
	Step         int      `json:"step"`
	Loss         *float64 `json:"loss,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	WER          *float64 `json:"wer,omitempty"`
	Checkpoint   string   `json:"checkpoint,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// EventHandler receives every parsed event. Returning an error stops the
// runtime.
type EventHandler func(ctx context.Context, ev Event) error

// Result summarizes a finished runtime invocation.
type Result struct {
	FinalCheckpoint string
	Steps           int
	Events          int
}

// Runner executes a training plan.
type Runner interface {
	Run(ctx context.Context, planPath string, handle EventHandler) (Result, error)
}

// RunnerOption configures ExternalRunner.
type RunnerOption func(*ExternalRunner)

// WithArgs appends extra arguments after --plan <path>.
func WithArgs(args ...string) RunnerOption {
	return func(r *ExternalRunner) {
		r.args = append(r.args, args...)
	}
}

// WithRunnerLogger attaches a logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *ExternalRunner) {
		r.logger = logging.NewComponentLogger(logger, "runtime")
	}
}

// ExternalRunner launches the configured training runtime binary.
type ExternalRunner struct {
	binary string
	args   []string
	logger *slog.Logger
}

// NewExternalRunner constructs a runner for binary.
func NewExternalRunner(binary string, opts ...RunnerOption) *ExternalRunner {
	r := &ExternalRunner{binary: binary, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the runtime with --plan planPath and streams its events. Lines
// that are not JSON events are logged as runtime output. A non-zero exit or
// a missing done event fails the run.
func (r *ExternalRunner) Run(ctx context.Context, planPath string, handle EventHandler) (Result, error) {
	if strings.TrimSpace(r.binary) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "train", "start runtime", "runtime command is empty", nil)
	}
	if planPath == "" {
		return Result{}, errors.New("plan path required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := append([]string{"--plan", planPath}, r.args...)
	cmd := commandContext(runCtx, r.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "train", "start runtime", r.binary, err)
	}
	r.logger.Info("training runtime started",
		logging.String(logging.FieldEventType, "runtime_started"),
		logging.String("binary", r.binary),
		logging.String("plan", planPath),
	)

	var (
		result     Result
		handlerErr error
		done       bool
	)
	reader := bufio.NewReaderSize(stdout, 64<<10)
	var readErr error
	for {
		raw, oversize, err := readLine(reader, maxEventLine)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		if oversize {
			r.logger.Warn("runtime output line skipped",
				logging.String(logging.FieldEventType, "runtime_line_skipped"),
				logging.Int("limit_bytes", maxEventLine),
			)
			continue
		}
		line := strings.TrimSpace(string(raw))
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Type == "" {
			r.logger.Debug("runtime output", logging.String("line", line))
			continue
		}
		result.Events++
		result.Steps = max(result.Steps, ev.Step)
		switch ev.Type {
		case EventDone:
			done = true
			if ev.Checkpoint != "" {
				result.FinalCheckpoint = ev.Checkpoint
			}
		case EventError:
			handlerErr = services.Wrap(services.ErrExternalTool, "train", "runtime", ev.Message, nil)
		}
		if handlerErr == nil && handle != nil {
			handlerErr = handle(runCtx, ev)
		}
		if handlerErr != nil {
			break
		}
	}
	if handlerErr != nil || readErr != nil {
		cancel()
		// Drain so the process is not blocked on a full pipe while it exits.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case handlerErr != nil:
		return result, handlerErr
	case ctx.Err() != nil:
		return result, ctx.Err()
	case waitErr != nil:
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "runtime exited with an error"
		}
		return result, services.Wrap(services.ErrExternalTool, "train", "runtime", detail, waitErr)
	case readErr != nil:
		return result, fmt.Errorf("read runtime output: %w", readErr)
	case !done:
		return result, services.Wrap(services.ErrExternalTool, "train", "runtime", "runtime exited without a done event", nil)
	}
	r.logger.Info("training runtime finished",
		logging.String(logging.FieldEventType, "runtime_finished"),
		logging.Int("steps", result.Steps),
		logging.String("final_checkpoint", result.FinalCheckpoint),
	)
	return result, nil
}

// maxEventLine bounds a single stdout line. Longer lines are discarded
// whole.
const maxEventLine = 1 << 20

// readLine returns the next line without its terminator. A line longer than
// limit is consumed and reported as oversize with no content.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line     []byte
		oversize bool
	)
	for {
		chunk, more, err := r.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !oversize {
			if len(line)+len(chunk) > limit {
				oversize, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !more {
			return line, oversize, nil
		}
	}
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	buf []byte
}

const tailLimit = 4 << 10

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailLimit {
		t.buf = t.buf[len(t.buf)-tailLimit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

var _ Runner = (*ExternalRunner)(nil)
