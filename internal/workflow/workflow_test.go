package workflow_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"whispertune/internal/bridge"
	"whispertune/internal/config"
	"whispertune/internal/features"
	"whispertune/internal/hub"
	"whispertune/internal/services"
	"whispertune/internal/store"
	"whispertune/internal/testsupport"
	"whispertune/internal/training"
	"whispertune/internal/workflow"
)

// fakeRuntime plays the external runtime: it reads the plan, calls the
// bridge and reports a scripted series of evaluations.
type fakeRuntime struct {
	t       *testing.T
	wers    []float64
	fail    error
	plan    training.Plan
	batches int
	wer     float64
}

func (f *fakeRuntime) Run(ctx context.Context, planPath string, handle training.EventHandler) (training.Result, error) {
	plan, err := training.ReadPlan(planPath)
	if err != nil {
		return training.Result{}, err
	}
	f.plan = plan
	if f.fail != nil {
		return training.Result{}, f.fail
	}

	client := &http.Client{}
	call := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, _ := json.Marshal(body)
			reader = bytes.NewReader(data)
		}
		req, _ := http.NewRequestWithContext(ctx, method, plan.Callback.URL+path, reader)
		req.Header.Set("Authorization", "Bearer "+plan.Callback.Token)
		resp, err := client.Do(req)
		if err != nil {
			f.t.Fatalf("runtime %s %s: %v", method, path, err)
		}
		return resp
	}

	resp := call(http.MethodPost, "/v1/collate", bridge.CollateRequest{Split: plan.Datasets.TrainName, Indices: []int{0, 1}})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		f.batches++
	}

	resp = call(http.MethodPost, "/v1/metrics", bridge.MetricsRequest{
		Predictions: [][]int{{testsupport.TokenHello, testsupport.TokenWorld}},
		LabelIDs:    [][]int{{testsupport.TokenHello, testsupport.TokenWorld, -100}},
	})
	var scored struct {
		WER float64 `json:"wer"`
	}
	json.NewDecoder(resp.Body).Decode(&scored)
	resp.Body.Close()
	f.wer = scored.WER

	loss := 1.5
	if err := handle(ctx, training.Event{Type: training.EventLog, Step: 5, Loss: &loss}); err != nil {
		return training.Result{}, err
	}
	step := 0
	for _, wer := range f.wers {
		step += 10
		checkpoint := filepath.Join(plan.Arguments.OutputDir, fmt.Sprintf("checkpoint-%d", step))
		if err := os.MkdirAll(checkpoint, 0o755); err != nil {
			return training.Result{}, err
		}
		value := wer
		if err := handle(ctx, training.Event{Type: training.EventEval, Step: step, WER: &value, Checkpoint: checkpoint}); err != nil {
			return training.Result{}, err
		}
	}
	testsupport.WriteFile(f.t, filepath.Join(plan.Arguments.OutputDir, "model.safetensors"), 64)
	if err := handle(ctx, training.Event{Type: training.EventDone, Step: step, Checkpoint: plan.Arguments.OutputDir}); err != nil {
		return training.Result{}, err
	}
	return training.Result{FinalCheckpoint: plan.Arguments.OutputDir, Steps: step, Events: len(f.wers) + 2}, nil
}

func setup(t *testing.T, opts ...testsupport.ConfigOption) (*config.Config, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Dataset.TrainSplit = "train+validation"
	cfg.Dataset.TestSplit = "test"
	cfg.Preprocess.NumWorkers = 2
	cfg.Training.MaxSteps = 20
	cfg.Training.SaveSteps = 10
	cfg.Training.EvalSteps = 10
	testsupport.LocalDataset(t, cfg.Dataset.LocalDir, map[string][]string{
		"train": {"hello world", "hello"},
		"dev":   {"world"},
		"test":  {"hello world"},
	})
	testsupport.WriteTokenizer(t, cfg.Model.BaseCheckpoint)
	return cfg, testsupport.MustOpenStore(t, cfg)
}

func TestPrepareStoresAndReusesSplits(t *testing.T) {
	cfg, st := setup(t)
	var mu sync.Mutex
	progress := map[string]int{}
	wf := workflow.New(cfg, st, workflow.WithPrepareProgress(func(split string, done, total int) {
		mu.Lock()
		progress[split] = total
		mu.Unlock()
	}))
	ctx := context.Background()

	reports, err := wf.Prepare(ctx, false)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(reports) != 2 || reports[0].Split != "train+validation" || reports[0].Examples != 3 || reports[1].Examples != 1 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if progress["train+validation"] != 3 || progress["test"] != 1 {
		t.Fatalf("unexpected progress %v", progress)
	}

	examples, err := st.Examples(ctx, "train+validation", []int{2})
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}
	if examples[0].Sentence != "world" || len(examples[0].Features) != cfg.Features.NumMelBins {
		t.Fatalf("unexpected stored example %+v", examples[0].Sentence)
	}
	if got := len(examples[0].Features[0]); got != features.DefaultConfig().MaxFrames() {
		t.Fatalf("frames = %d", got)
	}
	labels := examples[0].Labels
	if labels[0] != testsupport.TokenStartOfTranscript || labels[len(labels)-1] != testsupport.TokenEndOfText {
		t.Fatalf("labels not framed: %v", labels)
	}

	reports, err = wf.Prepare(ctx, false)
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if !reports[0].Reused || !reports[1].Reused {
		t.Fatalf("expected reuse, got %+v", reports)
	}

	cfg.Dataset.Limit = 1
	reports, err = wf.Prepare(ctx, false)
	if err != nil {
		t.Fatalf("Prepare with limit: %v", err)
	}
	if reports[0].Reused || reports[0].Examples != 1 {
		t.Fatalf("changed limit should invalidate the split: %+v", reports)
	}
}

func TestPrepareMissingClipFails(t *testing.T) {
	cfg, st := setup(t)
	if err := os.Remove(filepath.Join(cfg.Dataset.LocalDir, "clips", "test_a.wav")); err != nil {
		t.Fatalf("remove clip: %v", err)
	}
	_, err := workflow.New(cfg, st).Prepare(context.Background(), false)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestTrainRecordsBestCheckpoint(t *testing.T) {
	cfg, st := setup(t)
	runtime := &fakeRuntime{t: t, wers: []float64{40, 25.5}}
	wf := workflow.New(cfg, st, workflow.WithRunner(runtime))

	result, err := wf.Train(context.Background())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if !result.HasBest || result.Best.WER != 25.5 || result.Best.Step != 20 {
		t.Fatalf("unexpected best %+v", result.Best)
	}
	if result.Run.Status != store.RunEvaluated || result.Run.BestWER == nil || *result.Run.BestWER != 25.5 {
		t.Fatalf("unexpected run %+v", result.Run)
	}
	if strings.Contains(result.Run.ConfigJSON, "hub-secret") {
		t.Fatal("config snapshot leaked the hub token")
	}

	plan := runtime.plan
	if plan.Datasets.Train != 3 || plan.Datasets.Eval != 1 || plan.Collator.IgnoreIndex != -100 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Collator.DecoderStartTokenID != testsupport.TokenStartOfTranscript || plan.Collator.PadTokenID != testsupport.TokenEndOfText {
		t.Fatalf("unexpected collator constants %+v", plan.Collator)
	}
	if plan.Overrides.ForcedDecoderIDs != nil || plan.Overrides.SuppressTokens == nil {
		t.Fatalf("unexpected overrides %+v", plan.Overrides)
	}
	if runtime.batches != 1 {
		t.Fatal("runtime could not collate a batch through the bridge")
	}
	if runtime.wer != 0 {
		t.Fatalf("bridge wer = %v, want 0", runtime.wer)
	}

	evals, err := st.ListEvaluations(context.Background(), result.Run.ID)
	if err != nil || len(evals) != 2 {
		t.Fatalf("ListEvaluations = %+v, %v", evals, err)
	}
	for _, name := range []string{features.ProcessorConfigFile, "vocab.json", "merges.txt", "added_tokens.json"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.OutputDir, name)); err != nil {
			t.Fatalf("expected %s in output dir: %v", name, err)
		}
	}
}

func TestTrainFailureMarksRun(t *testing.T) {
	cfg, st := setup(t)
	boom := services.Wrap(services.ErrExternalTool, "train", "runtime", "CUDA out of memory", nil)
	wf := workflow.New(cfg, st, workflow.WithRunner(&fakeRuntime{t: t, fail: boom}))

	result, err := wf.Train(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected runtime error, got %v", err)
	}
	run, _ := st.GetRun(context.Background(), result.Run.ID)
	if run.Status != store.RunFailed || run.FailureKind != "external_tool" || !strings.Contains(run.ErrorMessage, "CUDA") {
		t.Fatalf("unexpected failed run %+v", run)
	}
}

type fakeHub struct {
	mu      sync.Mutex
	created []string
	files   []string
	card    string
	// failCommits makes the next n commit requests fail with a server error.
	failCommits int
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer hub-secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case r.URL.Path == "/api/repos/create":
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		h.created = append(h.created, fmt.Sprint(payload["organization"], "/", payload["name"]))
		json.NewEncoder(w).Encode(map[string]string{"url": "http://hub/user/whisper-en"})
	case strings.HasSuffix(r.URL.Path, "/info/lfs/objects/batch"):
		var batch struct {
			Objects []map[string]any `json:"objects"`
		}
		json.NewDecoder(r.Body).Decode(&batch)
		// No upload actions: the objects count as already stored.
		json.NewEncoder(w).Encode(batch)
	case strings.HasSuffix(r.URL.Path, "/commit/main"):
		if h.failCommits > 0 {
			h.failCommits--
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		h.files = nil
		scanner := bufio.NewScanner(r.Body)
		scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
		for scanner.Scan() {
			var line struct {
				Key   string         `json:"key"`
				Value map[string]any `json:"value"`
			}
			json.Unmarshal(scanner.Bytes(), &line)
			if line.Key == "file" || line.Key == "lfsFile" {
				path := fmt.Sprint(line.Value["path"])
				h.files = append(h.files, path)
				if path == hub.ModelCardFile {
					h.card = fmt.Sprint(line.Value["content"])
				}
			}
		}
		json.NewEncoder(w).Encode(hub.CommitInfo{CommitURL: "http://hub/user/whisper-en/commit/abc", CommitOID: "abc"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRunTrainsAndPublishes(t *testing.T) {
	fh := &fakeHub{}
	srv := httptest.NewServer(fh)
	t.Cleanup(srv.Close)

	cfg, st := setup(t, testsupport.WithHubEndpoint(srv.URL), testsupport.WithHubToken("hub-secret"))
	cfg.Hub.RepoID = "user/whisper-en"
	cfg.Training.PushToHub = true
	wf := workflow.New(cfg, st, workflow.WithRunner(&fakeRuntime{t: t, wers: []float64{30, 35}}))

	trained, published, err := wf.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if published == nil || published.CommitURL != "http://hub/user/whisper-en/commit/abc" {
		t.Fatalf("unexpected publish result %+v", published)
	}
	if len(fh.created) != 1 || fh.created[0] != "user/whisper-en" {
		t.Fatalf("unexpected repo creation %v", fh.created)
	}
	joined := strings.Join(fh.files, ",")
	for _, want := range []string{"README.md", "model.safetensors", "preprocessor_config.json", "vocab.json"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in commit, got %s", want, joined)
		}
	}
	for _, unwanted := range []string{training.PlanFile, "checkpoint-10", ".whispertune.lock"} {
		if strings.Contains(joined, unwanted) {
			t.Fatalf("%s should not be uploaded: %s", unwanted, joined)
		}
	}
	if fh.card == "" {
		t.Fatal("model card not uploaded")
	}

	report, err := wf.Report(context.Background(), trained.Run.ID[:8])
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report.Run.Status != store.RunPublished || len(report.Publications) != 1 || len(report.Evaluations) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if *report.Run.BestWER != 30 {
		t.Fatalf("best wer = %v, want 30", *report.Run.BestWER)
	}
}

func TestPublishFailureKeepsRunPublishable(t *testing.T) {
	fh := &fakeHub{failCommits: 1}
	srv := httptest.NewServer(fh)
	t.Cleanup(srv.Close)

	cfg, st := setup(t, testsupport.WithHubEndpoint(srv.URL), testsupport.WithHubToken("hub-secret"))
	cfg.Hub.RepoID = "user/whisper-en"
	cfg.Training.PushToHub = true
	wf := workflow.New(cfg, st, workflow.WithRunner(&fakeRuntime{t: t, wers: []float64{30}}))
	ctx := context.Background()

	trained, published, err := wf.Run(ctx, nil)
	if err == nil || published != nil {
		t.Fatalf("expected publish failure, got %+v, %v", published, err)
	}
	run, _ := st.GetRun(ctx, trained.Run.ID)
	if run.Status != store.RunEvaluated || run.ErrorMessage == "" {
		t.Fatalf("trained run should stay evaluated with the error recorded: %+v", run)
	}

	result, err := wf.Publish(ctx, nil, trained.Run.ID)
	if err != nil {
		t.Fatalf("retry Publish: %v", err)
	}
	if result.CommitURL == "" || !strings.Contains(strings.Join(fh.files, ","), "model.safetensors") {
		t.Fatalf("unexpected retry result %+v files=%v", result, fh.files)
	}
	run, _ = st.GetRun(ctx, trained.Run.ID)
	if run.Status != store.RunPublished || run.ErrorMessage != "" {
		t.Fatalf("published run should clear the error: %+v", run)
	}
}

func TestPublishRejectsFailedRun(t *testing.T) {
	cfg, st := setup(t)
	run := testsupport.NewRun(t, st, "failed-run")
	if err := st.FailRun(context.Background(), run.ID, "boom", "failed"); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	_, err := workflow.New(cfg, st).Publish(context.Background(), nil, "failed")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveRunErrors(t *testing.T) {
	cfg, st := setup(t)
	wf := workflow.New(cfg, st)
	if _, err := wf.ResolveRun(context.Background(), ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for empty store, got %v", err)
	}
	if _, err := wf.ResolveRun(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrainRejectsLockedOutputDir(t *testing.T) {
	cfg, st := setup(t)
	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		t.Fatalf("mkdir output: %v", err)
	}
	held := flock.New(filepath.Join(cfg.Paths.OutputDir, ".whispertune.lock"))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	t.Cleanup(func() { _ = held.Unlock() })

	runtime := &fakeRuntime{t: t, wers: []float64{10}}
	_, err := workflow.New(cfg, st, workflow.WithRunner(runtime)).Train(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 0 {
		t.Fatalf("no run should be recorded, got %d (%v)", len(runs), err)
	}
}

func TestTrainRequiresRuntimeBinary(t *testing.T) {
	cfg, st := setup(t, testsupport.WithRuntime("whispertune-no-such-runtime"))

	_, err := workflow.New(cfg, st).Train(context.Background())
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "Training runtime") {
		t.Fatalf("expected configuration error, got %v", err)
	}
	runs, _ := st.ListRuns(context.Background(), 0)
	if len(runs) != 0 {
		t.Fatalf("no run should be recorded, got %d", len(runs))
	}
}
