package hub_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"whispertune/internal/hub"
	"whispertune/internal/services"
)

const testToken = "hf_test"

type fakeHub struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	created  []map[string]any
	commits  [][]map[string]any
	lfsPuts  map[string][]byte
	existing bool
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	f := &fakeHub{t: t, lfsPuts: map[string][]byte{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/whoami-v2", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Error(w, `{"error":"Invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"name":"tess","fullname":"Tesseract","type":"user"}`)
	})
	mux.HandleFunc("GET /datasets/org/voices/resolve/main/", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "missing.tsv") {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "path\tsentence\na.mp3\thello\n")
	})
	mux.HandleFunc("POST /api/repos/create", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body)
		exists := f.existing
		f.mu.Unlock()
		if exists {
			http.Error(w, `{"error":"You already created this model repo"}`, http.StatusConflict)
			return
		}
		_, _ = io.WriteString(w, `{"url":"`+f.server.URL+`/tess/model"}`)
	})
	mux.HandleFunc("POST /tess/model.git/info/lfs/objects/batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Objects []struct {
				OID  string `json:"oid"`
				Size int64  `json:"size"`
			} `json:"objects"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		type action struct {
			Href string `json:"href"`
		}
		var objects []map[string]any
		for _, obj := range req.Objects {
			objects = append(objects, map[string]any{
				"oid":     obj.OID,
				"size":    obj.Size,
				"actions": map[string]action{"upload": {Href: f.server.URL + "/lfs/" + obj.OID}},
			})
		}
		w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
		_ = json.NewEncoder(w).Encode(map[string]any{"objects": objects})
	})
	mux.HandleFunc("PUT /lfs/{oid}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lfsPuts[r.PathValue("oid")] = data
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /api/models/tess/model/commit/main", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/x-ndjson" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		var lines []map[string]any
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
		for scanner.Scan() {
			var line map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			lines = append(lines, line)
		}
		f.mu.Lock()
		f.commits = append(f.commits, lines)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"commitUrl":"`+f.server.URL+`/tess/model/commit/abc","commitOid":"abc"}`)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeHub) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+testToken
}

func (f *fakeHub) client(tokens hub.TokenProvider) *hub.Client {
	return hub.NewClient(f.server.URL+"/", tokens)
}

func TestWhoAmI(t *testing.T) {
	fake := newFakeHub(t)

	account, err := fake.client(hub.StaticToken(testToken)).WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if account.Name != "tess" {
		t.Fatalf("account name = %q", account.Name)
	}
}

func TestWhoAmIRejectedToken(t *testing.T) {
	fake := newFakeHub(t)

	_, err := fake.client(hub.StaticToken("wrong")).WhoAmI(context.Background())
	if !errors.Is(err, services.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestWhoAmIWithoutToken(t *testing.T) {
	fake := newFakeHub(t)

	_, err := fake.client(hub.Chain{hub.StaticToken(""), hub.EnvToken{}}).WhoAmI(context.Background())
	if !errors.Is(err, services.ErrAuthentication) || !errors.Is(err, hub.ErrNoToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestDownloadWritesFileAtomically(t *testing.T) {
	fake := newFakeHub(t)
	dest := filepath.Join(t.TempDir(), "transcript", "en", "train.tsv")

	var calls int
	sum, err := fake.client(hub.StaticToken(testToken)).Download(context.Background(), hub.RepoDataset, "org/voices", "main", "transcript/en/train.tsv", dest, func(file string, written, total int64) {
		calls++
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !strings.HasPrefix(string(data), "path\tsentence") {
		t.Fatalf("unexpected content %q", data)
	}
	if len(sum) != 64 {
		t.Fatalf("unexpected sha256 %q", sum)
	}
	if calls == 0 {
		t.Fatal("progress callback not invoked")
	}
	if _, err := os.Stat(dest + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestDownloadNotFound(t *testing.T) {
	fake := newFakeHub(t)
	dest := filepath.Join(t.TempDir(), "missing.tsv")

	_, err := fake.client(hub.StaticToken(testToken)).Download(context.Background(), hub.RepoDataset, "org/voices", "main", "missing.tsv", dest, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("destination should not exist")
	}
}

func TestResolveURL(t *testing.T) {
	client := hub.NewClient("https://hub.example", nil)
	got := client.ResolveURL(hub.RepoDataset, "org/voices", "", "audio/en/train/en_train_0.tar")
	want := "https://hub.example/datasets/org/voices/resolve/main/audio/en/train/en_train_0.tar"
	if got != want {
		t.Fatalf("ResolveURL = %q, want %q", got, want)
	}
	got = client.ResolveURL(hub.RepoModel, "openai/whisper-base", "v1", "vocab.json")
	if got != "https://hub.example/openai/whisper-base/resolve/v1/vocab.json" {
		t.Fatalf("model ResolveURL = %q", got)
	}
}

func TestPublishUploadsDirectory(t *testing.T) {
	fake := newFakeHub(t)
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "config.json"), []byte(`{"model_type":"whisper"}`))
	mustWrite(t, filepath.Join(dir, "preprocessor_config.json"), []byte(`{}`))
	mustWrite(t, filepath.Join(dir, "checkpoint-1000", "model.safetensors"), []byte("ignored"))
	mustWrite(t, filepath.Join(dir, ".whispertune.lock"), nil)
	large := bytes.Repeat([]byte{7}, hub.LFSThreshold)
	mustWrite(t, filepath.Join(dir, "model.safetensors"), large)

	wer := 12.34567
	result, err := fake.client(hub.StaticToken(testToken)).Publish(context.Background(), hub.PublishRequest{
		RepoID: "tess/model",
		Dir:    dir,
		Card: hub.ModelCard{
			Metadata: hub.CardMetadata{ModelName: "Demo", FinetunedFrom: "openai/whisper-base", Tasks: "automatic-speech-recognition"},
			WER:      &wer,
		},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	wantFiles := []string{"README.md", "config.json", "model.safetensors", "preprocessor_config.json"}
	if strings.Join(result.Files, ",") != strings.Join(wantFiles, ",") {
		t.Fatalf("files = %v, want %v", result.Files, wantFiles)
	}
	if !strings.HasSuffix(result.CommitURL, "/commit/abc") {
		t.Fatalf("commit url = %q", result.CommitURL)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.created) != 1 || fake.created[0]["organization"] != "tess" || fake.created[0]["name"] != "model" {
		t.Fatalf("unexpected create payload %v", fake.created)
	}
	if len(fake.commits) != 1 {
		t.Fatalf("expected one commit, got %d", len(fake.commits))
	}
	lines := fake.commits[0]
	if lines[0]["key"] != "header" {
		t.Fatalf("first line should be the header, got %v", lines[0])
	}
	var lfsLines, inline int
	for _, line := range lines[1:] {
		value := line["value"].(map[string]any)
		switch line["key"] {
		case "lfsFile":
			lfsLines++
			if value["path"] != "model.safetensors" {
				t.Fatalf("unexpected lfs path %v", value["path"])
			}
		case "file":
			inline++
			if value["path"] == "config.json" {
				decoded, _ := base64.StdEncoding.DecodeString(value["content"].(string))
				if string(decoded) != `{"model_type":"whisper"}` {
					t.Fatalf("config content = %q", decoded)
				}
			}
		}
	}
	if lfsLines != 1 || inline != 3 {
		t.Fatalf("lfs=%d inline=%d", lfsLines, inline)
	}
	if len(fake.lfsPuts) != 1 {
		t.Fatalf("expected one lfs upload, got %d", len(fake.lfsPuts))
	}
	for _, data := range fake.lfsPuts {
		if len(data) != hub.LFSThreshold {
			t.Fatalf("lfs upload size = %d", len(data))
		}
	}
}

func TestPublishSendsSmallBinariesThroughLFS(t *testing.T) {
	fake := newFakeHub(t)
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "config.json"), []byte(`{}`))
	mustWrite(t, filepath.Join(dir, "training_args.bin"), []byte{0x80, 0x04, 0x95})
	mustWrite(t, filepath.Join(dir, "model.safetensors"), []byte("tiny weights"))

	_, err := fake.client(hub.StaticToken(testToken)).Publish(context.Background(), hub.PublishRequest{
		RepoID: "tess/model",
		Dir:    dir,
		Card:   hub.ModelCard{Metadata: hub.CardMetadata{ModelName: "Demo"}},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	kinds := map[string]string{}
	for _, line := range fake.commits[0][1:] {
		value := line["value"].(map[string]any)
		kinds[value["path"].(string)] = line["key"].(string)
	}
	want := map[string]string{
		"training_args.bin": "lfsFile",
		"model.safetensors": "lfsFile",
		"config.json":       "file",
		"README.md":         "file",
	}
	for path, key := range want {
		if kinds[path] != key {
			t.Fatalf("%s sent as %q, want %q (all: %v)", path, kinds[path], key, kinds)
		}
	}
	if len(fake.lfsPuts) != 2 {
		t.Fatalf("expected two lfs uploads, got %d", len(fake.lfsPuts))
	}
}

func TestCreateRepoExisting(t *testing.T) {
	fake := newFakeHub(t)
	fake.existing = true

	url, err := fake.client(hub.StaticToken(testToken)).CreateRepo(context.Background(), "tess/model", true)
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if !strings.HasSuffix(url, "/tess/model") {
		t.Fatalf("url = %q", url)
	}
}

func TestPublishRequiresRepoID(t *testing.T) {
	_, err := hub.NewClient("http://127.0.0.1:1", hub.StaticToken(testToken)).Publish(context.Background(), hub.PublishRequest{Dir: t.TempDir()})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
