package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"whispertune/internal/fileutil"
)

// PlanFile is the plan's name inside the output directory.
const PlanFile = "whispertune_plan.json"

// PlanVersion is bumped when the plan layout changes incompatibly.
const PlanVersion = 1

// ModelOverrides are applied to the base model's generation config before
// training. A nil ForcedDecoderIDs serializes as null, which clears the
// checkpoint's forced prompt.
type ModelOverrides struct {
	ForcedDecoderIDs [][]int `json:"forced_decoder_ids"`
	SuppressTokens   []int   `json:"suppress_tokens"`
}

// DefaultOverrides clears forced decoder ids and suppressed tokens.
func DefaultOverrides() ModelOverrides {
	return ModelOverrides{ForcedDecoderIDs: nil, SuppressTokens: []int{}}
}

// Callback tells the runtime where the collator and metric bridge listens.
type Callback struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// CollatorConstants let the runtime check batches it receives.
type CollatorConstants struct {
	PadTokenID          int   `json:"pad_token_id"`
	DecoderStartTokenID int   `json:"decoder_start_token_id"`
	IgnoreIndex         int   `json:"ignore_index"`
	NumMelBins          int   `json:"num_mel_bins"`
	MaxFrames           int   `json:"max_frames"`
	PrefixTokenIDs      []int `json:"prefix_token_ids"`
}

// DatasetSizes records how many prepared examples each split holds.
type DatasetSizes struct {
	Train     int    `json:"train"`
	Eval      int    `json:"eval"`
	TrainName string `json:"train_split"`
	EvalName  string `json:"eval_split"`
}

// Plan is the complete run description handed to the runtime.
type Plan struct {
	Version        int               `json:"version"`
	RunID          string            `json:"run_id"`
	BaseCheckpoint string            `json:"base_checkpoint"`
	Revision       string            `json:"revision,omitempty"`
	Language       string            `json:"language"`
	Task           string            `json:"task"`
	Arguments      Arguments         `json:"training_arguments"`
	Overrides      ModelOverrides    `json:"model_overrides"`
	Datasets       DatasetSizes      `json:"datasets"`
	Callback       Callback          `json:"callback"`
	Collator       CollatorConstants `json:"collator"`
}

// Validate checks the plan before it is written.
func (p Plan) Validate() error {
	if p.RunID == "" {
		return fmt.Errorf("plan: run id is required")
	}
	if p.BaseCheckpoint == "" {
		return fmt.Errorf("plan: base checkpoint is required")
	}
	if p.Callback.URL == "" {
		return fmt.Errorf("plan: callback url is required")
	}
	if p.Datasets.Train <= 0 {
		return fmt.Errorf("plan: training split is empty")
	}
	if p.Arguments.EvaluationStrategy != StrategyNo && p.Datasets.Eval <= 0 {
		return fmt.Errorf("plan: evaluation split is empty")
	}
	return p.Arguments.Validate()
}

// Path returns where the plan is written.
func (p Plan) Path() string {
	return filepath.Join(p.Arguments.OutputDir, PlanFile)
}

// Write validates the plan and stores it in the output directory.
func (p Plan) Write() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.Arguments.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := p.Path()
	if err := fileutil.WriteJSON(path, p); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	return path, nil
}

// ReadPlan loads a plan written by Write.
func ReadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if plan.Version != PlanVersion {
		return Plan{}, fmt.Errorf("plan version %d is not supported", plan.Version)
	}
	return plan, nil
}
