package deps_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"whispertune/internal/deps"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckReportsAvailability(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present")

	got := deps.Check([]deps.Tool{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "whispertune-no-such-binary"},
		{Name: "Unset"},
	})
	if !got[0].Available || got[0].Path != present || got[0].Detail != "" {
		t.Fatalf("present tool: %+v", got[0])
	}
	if got[1].Available || got[1].Detail != "binary whispertune-no-such-binary not found" {
		t.Fatalf("missing tool: %+v", got[1])
	}
	if got[2].Available || got[2].Detail != "command not configured" {
		t.Fatalf("unset tool: %+v", got[2])
	}
}

func TestMissingRequiredIgnoresOptional(t *testing.T) {
	t.Setenv("PATH", "")
	statuses := deps.Check(deps.Tools("whispertune-no-such-runtime", ""))
	missing := deps.MissingRequired(statuses)
	if len(missing) != 1 || missing[0] != "Training runtime" {
		t.Fatalf("missing = %v, want only the runtime", missing)
	}
}

func TestFFmpegSelection(t *testing.T) {
	envDir := t.TempDir()
	runtimeWithFFmpeg := writeStub(t, envDir, "whispertune-runtime")
	bundled := writeStub(t, envDir, "ffmpeg")

	bareDir := t.TempDir()
	runtimeAlone := writeStub(t, bareDir, "whispertune-runtime")

	tests := []struct {
		name       string
		configured string
		runtime    string
		want       string
	}{
		{"explicit command wins", "/opt/ffmpeg/bin/ffmpeg", runtimeWithFFmpeg, "/opt/ffmpeg/bin/ffmpeg"},
		{"bundled with runtime", "", runtimeWithFFmpeg, bundled},
		{"runtime without ffmpeg", "", runtimeAlone, "ffmpeg"},
		{"no runtime", "", "", "ffmpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deps.FFmpeg(tt.configured, tt.runtime); got != tt.want {
				t.Fatalf("FFmpeg() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFFmpegIgnoresNonExecutableSibling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	dir := t.TempDir()
	rt := writeStub(t, dir, "whispertune-runtime")
	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := deps.FFmpeg("", rt); got != "ffmpeg" {
		t.Fatalf("FFmpeg() = %q, want PATH fallback", got)
	}
}
