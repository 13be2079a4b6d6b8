// Package deps locates the external binaries a fine-tuning run shells out to.
package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Tool is an external binary.
type Tool struct {
	Name     string
	Command  string
	Purpose  string
	Optional bool
}

// Status is the result of looking a Tool up.
type Status struct {
	Tool
	// Path is the resolved executable, empty when unavailable.
	Path      string
	Available bool
	Detail    string
}

// Tools lists the binaries a run needs. ffmpeg is only used for clips that
// are not WAV already, so it is optional.
func Tools(runtimeCommand, ffmpegCommand string) []Tool {
	return []Tool{
		{
			Name:    "Training runtime",
			Command: strings.TrimSpace(runtimeCommand),
			Purpose: "forward pass, optimizer and checkpoints",
		},
		{
			Name:     "FFmpeg",
			Command:  FFmpeg(ffmpegCommand, runtimeCommand),
			Purpose:  "converts compressed clips to 16 kHz mono PCM",
			Optional: true,
		},
	}
}

// Check looks up every tool on PATH.
func Check(tools []Tool) []Status {
	out := make([]Status, len(tools))
	for i, tool := range tools {
		st := Status{Tool: tool}
		switch path, err := exec.LookPath(tool.Command); {
		case tool.Command == "":
			st.Detail = "command not configured"
		case err != nil:
			st.Detail = "binary " + tool.Command + " not found"
		default:
			st.Path, st.Available = path, true
		}
		out[i] = st
	}
	return out
}

// MissingRequired returns the names of required tools that are unavailable.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, st := range statuses {
		if !st.Available && !st.Optional {
			missing = append(missing, st.Name)
		}
	}
	return missing
}

// FFmpeg picks the ffmpeg to run. An explicit command wins. Otherwise an
// executable ffmpeg in the runtime's bin directory (its virtualenv or conda
// env) is preferred so clips decode the same way the runtime would decode
// them, falling back to "ffmpeg" from PATH.
func FFmpeg(configured, runtimeCommand string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured
	}
	if runtimeCommand = strings.TrimSpace(runtimeCommand); runtimeCommand != "" {
		if resolved, err := exec.LookPath(runtimeCommand); err == nil {
			sibling := filepath.Join(filepath.Dir(resolved), executable("ffmpeg"))
			if isExecutable(sibling) {
				return sibling
			}
		}
	}
	return "ffmpeg"
}

func executable(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode().Perm()&0o111 != 0
}
