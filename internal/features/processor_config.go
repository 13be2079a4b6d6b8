package features

import (
	"encoding/json"
	"fmt"
	"os"
)

// ProcessorConfigFile is the file name the runtime and hub expect.
const ProcessorConfigFile = "preprocessor_config.json"

// ProcessorConfig is the serialized feature extractor description saved next
// to a trained checkpoint.
type ProcessorConfig struct {
	ChunkLength          int     `json:"chunk_length"`
	FeatureExtractorType string  `json:"feature_extractor_type"`
	FeatureSize          int     `json:"feature_size"`
	HopLength            int     `json:"hop_length"`
	NFFT                 int     `json:"n_fft"`
	NSamples             int     `json:"n_samples"`
	NbMaxFrames          int     `json:"nb_max_frames"`
	PaddingSide          string  `json:"padding_side"`
	PaddingValue         float64 `json:"padding_value"`
	ProcessorClass       string  `json:"processor_class"`
	ReturnAttentionMask  bool    `json:"return_attention_mask"`
	SamplingRate         int     `json:"sampling_rate"`
}

// ProcessorConfigFor describes cfg in the layout the checkpoint format uses.
func ProcessorConfigFor(cfg Config) ProcessorConfig {
	return ProcessorConfig{
		ChunkLength:          cfg.ChunkLength,
		FeatureExtractorType: "WhisperFeatureExtractor",
		FeatureSize:          cfg.NumMelBins,
		HopLength:            cfg.HopLength,
		NFFT:                 cfg.NFFT,
		NSamples:             cfg.NumSamples(),
		NbMaxFrames:          cfg.MaxFrames(),
		PaddingSide:          "right",
		PaddingValue:         0.0,
		ProcessorClass:       "WhisperProcessor",
		ReturnAttentionMask:  false,
		SamplingRate:         cfg.SampleRate,
	}
}

// Config converts the serialized form back into extractor settings.
func (p ProcessorConfig) Config() Config {
	return Config{
		SampleRate:  p.SamplingRate,
		NumMelBins:  p.FeatureSize,
		NFFT:        p.NFFT,
		HopLength:   p.HopLength,
		ChunkLength: p.ChunkLength,
		PadToChunk:  true,
	}
}

// LoadProcessorConfig reads a preprocessor_config.json file.
func LoadProcessorConfig(path string) (ProcessorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessorConfig{}, err
	}
	var cfg ProcessorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ProcessorConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
