package hub

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelCardFile is the repository file holding the card.
const ModelCardFile = "README.md"

// CardMetadata is the fixed metadata record published with a checkpoint.
type CardMetadata struct {
	DatasetTags   string
	Dataset       string
	DatasetArgs   string
	Language      string
	ModelName     string
	FinetunedFrom string
	Tasks         string
	Tags          []string
}

// Hyperparameter is one row of the training table. Order is preserved.
type Hyperparameter struct {
	Name  string
	Value string
}

// ModelCard is rendered into README.md.
type ModelCard struct {
	Metadata        CardMetadata
	WER             *float64
	BestCheckpoint  string
	Steps           int
	Hyperparameters []Hyperparameter
}

type cardFrontMatter struct {
	Language   []string         `yaml:"language,omitempty"`
	Tags       []string         `yaml:"tags,omitempty"`
	Datasets   []string         `yaml:"datasets,omitempty"`
	Metrics    []string         `yaml:"metrics,omitempty"`
	BaseModel  string           `yaml:"base_model,omitempty"`
	ModelIndex []cardModelIndex `yaml:"model-index,omitempty"`
}

type cardModelIndex struct {
	Name    string       `yaml:"name"`
	Results []cardResult `yaml:"results"`
}

type cardResult struct {
	Task    cardTask     `yaml:"task"`
	Dataset cardDataset  `yaml:"dataset"`
	Metrics []cardMetric `yaml:"metrics,omitempty"`
}

type cardTask struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type cardDataset struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Config string `yaml:"config,omitempty"`
	Split  string `yaml:"split,omitempty"`
	Args   string `yaml:"args,omitempty"`
}

type cardMetric struct {
	Name  string  `yaml:"name"`
	Type  string  `yaml:"type"`
	Value float64 `yaml:"value"`
}

// Render produces the README.md content: YAML front matter followed by a
// short markdown body.
func (c ModelCard) Render() ([]byte, error) {
	meta := c.Metadata
	front := cardFrontMatter{
		BaseModel: meta.FinetunedFrom,
		Tags:      append(append([]string(nil), meta.Tags...), "generated_from_trainer"),
		Metrics:   []string{"wer"},
	}
	if meta.Language != "" {
		front.Language = []string{meta.Language}
	}
	if meta.DatasetTags != "" {
		front.Datasets = []string{meta.DatasetTags}
	}

	args := parseDatasetArgs(meta.DatasetArgs)
	result := cardResult{
		Task: cardTask{Name: taskDisplayName(meta.Tasks), Type: meta.Tasks},
		Dataset: cardDataset{
			Name:   meta.Dataset,
			Type:   meta.DatasetTags,
			Config: args["config"],
			Split:  args["split"],
			Args:   meta.DatasetArgs,
		},
	}
	if c.WER != nil {
		result.Metrics = []cardMetric{{Name: "Wer", Type: "wer", Value: round(*c.WER, 4)}}
	}
	front.ModelIndex = []cardModelIndex{{Name: meta.ModelName, Results: []cardResult{result}}}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(front); err != nil {
		return nil, fmt.Errorf("encode model card front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode model card front matter: %w", err)
	}
	buf.WriteString("---\n\n")

	fmt.Fprintf(&buf, "# %s\n\n", meta.ModelName)
	fmt.Fprintf(&buf, "This model is a fine-tuned version of [%s](https://huggingface.co/%s) on the %s dataset.\n",
		meta.FinetunedFrom, meta.FinetunedFrom, meta.Dataset)
	if c.WER != nil {
		fmt.Fprintf(&buf, "It achieves a word error rate of %s on the evaluation set", strconv.FormatFloat(round(*c.WER, 4), 'f', -1, 64))
		if c.Steps > 0 {
			fmt.Fprintf(&buf, " at step %d", c.Steps)
		}
		buf.WriteString(".\n")
	}
	if len(c.Hyperparameters) > 0 {
		buf.WriteString("\n## Training hyperparameters\n\n")
		buf.WriteString("| Parameter | Value |\n|---|---|\n")
		for _, hp := range c.Hyperparameters {
			fmt.Fprintf(&buf, "| %s | %s |\n", hp.Name, hp.Value)
		}
	}
	return buf.Bytes(), nil
}

// parseDatasetArgs splits "config: en, split: test" into a map.
func parseDatasetArgs(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func taskDisplayName(task string) string {
	words := strings.Fields(strings.ReplaceAll(task, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func round(v float64, places int) float64 {
	s := strconv.FormatFloat(v, 'f', places, 64)
	out, _ := strconv.ParseFloat(s, 64)
	return out
}
