package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"whispertune/internal/config"
	"whispertune/internal/store"
	"whispertune/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")
	if err := os.MkdirAll(cfg.Dataset.LocalDir, 0o755); err != nil {
		t.Fatalf("mkdir dataset dir: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func openTestStore(t *testing.T, env *cliTestEnv) *store.Store {
	t.Helper()
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return testsupport.MustOpenStore(t, env.cfg)
}

func TestPreprocessWorkedExampleJSON(t *testing.T) {
	out, _, err := runCLI(t, []string{"preprocess", "--format", "json", "Hello, world!", "Bye."}, "")
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	var payload preprocessOutput
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	want := [][]int{{1, 2}, {0, 3}}
	if len(payload.Padded) != 2 || payload.Padded[0][0] != want[0][0] || payload.Padded[0][1] != want[0][1] ||
		payload.Padded[1][0] != want[1][0] || payload.Padded[1][1] != want[1][1] {
		t.Fatalf("padded = %v, want %v", payload.Padded, want)
	}
	if payload.Vocabulary["Hello"] != 1 || payload.Vocabulary["world"] != 2 || payload.Vocabulary["Bye"] != 3 {
		t.Fatalf("unexpected vocabulary %v", payload.Vocabulary)
	}
}

func TestPreprocessManifestWritesOutput(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "sample.tsv")
	content := "client_id\tpath\tsentence\nc\ta.mp3\tHello, world!\nc\tb.mp3\tBye.\n"
	if err := os.WriteFile(manifest, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	outPath := filepath.Join(dir, "matrix.json")

	out, _, err := runCLI(t, []string{"preprocess", "--manifest", manifest, "--pad", "post", "--out", outPath, "--format", "table"}, "")
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	requireContains(t, out, "Vocabulary size: 3")
	requireContains(t, out, "Matrix shape:    2 x 2 (post-padded)")
	requireContains(t, out, "Hello world")

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var payload preprocessOutput
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode output file: %v", err)
	}
	if payload.Padded[1][0] != 3 || payload.Padded[1][1] != 0 {
		t.Fatalf("post padding = %v", payload.Padded)
	}
}

func TestPreprocessRejectsBadInput(t *testing.T) {
	if _, _, err := runCLI(t, []string{"preprocess"}, ""); err == nil {
		t.Fatal("expected error without sentences")
	}
	if _, _, err := runCLI(t, []string{"preprocess", "--pad", "middle", "a"}, ""); err == nil {
		t.Fatal("expected error for unknown padding side")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestRunsListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "No runs recorded")

	st := openTestStore(t, env)
	ctx := context.Background()
	run := testsupport.NewRun(t, st, "0f3c9a7e-run")
	for _, ev := range []store.Evaluation{
		{RunID: run.ID, Step: 1000, WER: 41.2, Checkpoint: "/out/checkpoint-1000"},
		{RunID: run.ID, Step: 2000, WER: 33.7, Checkpoint: "/out/checkpoint-2000"},
	} {
		if err := st.AddEvaluation(ctx, ev); err != nil {
			t.Fatalf("AddEvaluation: %v", err)
		}
	}
	if err := st.SetBest(ctx, run.ID, "/out/checkpoint-2000", 33.7); err != nil {
		t.Fatalf("SetBest: %v", err)
	}
	if err := st.SetRunStatus(ctx, run.ID, store.RunEvaluated); err != nil {
		t.Fatalf("SetRunStatus: %v", err)
	}

	out, _, err = runCLI(t, []string{"runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "0f3c9a7e")
	requireContains(t, out, "33.70")

	out, _, err = runCLI(t, []string{"runs", "show", "0f3c"}, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, "Status:          evaluated")
	requireContains(t, out, "checkpoint-2000")
	requireContains(t, out, "41.20")

	out, _, err = runCLI(t, []string{"evaluate", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	requireContains(t, out, "checkpoint-1000")

	if _, _, err := runCLI(t, []string{"runs", "show", "zzz"}, env.configPath); err == nil {
		t.Fatal("expected unknown run to fail")
	}
}

func TestEvaluateScoresTranscriptFiles(t *testing.T) {
	env := setupCLITestEnv(t)
	dir := t.TempDir()
	refs := filepath.Join(dir, "refs.txt")
	hyps := filepath.Join(dir, "hyps.txt")
	if err := os.WriteFile(refs, []byte("hello world\ngood morning\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(hyps, []byte("hello word\ngood morning\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"evaluate", "--references", refs, "--hypotheses", hyps}, env.configPath)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	requireContains(t, out, "Transcripts: 2")
	requireContains(t, out, "WER:         25.00")

	if _, _, err := runCLI(t, []string{"evaluate", "--references", refs}, env.configPath); err == nil {
		t.Fatal("expected error when --hypotheses is missing")
	}
}

func TestLoginVerifiesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/whoami-v2" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"name":"speech-lab","orgs":[{"name":"acme"}]}`))
	}))
	t.Cleanup(srv.Close)

	env := setupCLITestEnv(t, testsupport.WithHubEndpoint(srv.URL))
	t.Setenv("HF_TOKEN", "secret")

	out, _, err := runCLI(t, []string{"login"}, env.configPath)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	requireContains(t, out, "as speech-lab")
	requireContains(t, out, "Organizations: acme")

	t.Setenv("HF_TOKEN", "wrong")
	if _, _, err := runCLI(t, []string{"login"}, env.configPath); err == nil {
		t.Fatal("expected rejected token to fail")
	}
}

func TestConfigShowRedactsToken(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithHubToken("hf_secret"))

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hf_secret") {
		t.Fatalf("token leaked:\n%s", out)
	}
	var decoded config.Config
	if err := toml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not TOML: %v\n%s", err, out)
	}
	if decoded.Hub.Token != "redacted" || decoded.Dataset.LocalDir != env.cfg.Dataset.LocalDir {
		t.Fatalf("unexpected config: %+v", decoded.Hub)
	}
}

func TestStatusReportsSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	requireContains(t, out, "Dependencies\n============")
	requireContains(t, out, "Training runtime")
	requireContains(t, out, "Preflight\n=========")
	requireContains(t, out, "Latest run")
}

func TestPublishWithoutRunsFails(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"publish"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no runs recorded") {
		t.Fatalf("expected missing run error, got %v", err)
	}
}
