package config

const (
	defaultWorkDir          = "~/.local/share/whispertune"
	defaultCacheDirFallback = "~/.cache/whispertune"
	defaultLogDir           = "~/.local/share/whispertune/logs"
	defaultOutputDir        = "./LM-S2T-BASE-2"

	defaultDatasetSource     = DatasetSourceHub
	defaultDatasetName       = "mozilla-foundation/common_voice_13_0"
	defaultDatasetConfig     = "en"
	defaultDatasetRevision   = "main"
	defaultDatasetTrainSplit = "train+validation"
	defaultDatasetTestSplit  = "test"

	defaultBaseCheckpoint = "openai/whisper-base"
	defaultModelRevision  = "main"
	defaultModelLanguage  = "en"
	defaultModelTask      = "transcribe"

	defaultSampleRate  = 16000
	defaultNumMelBins  = 80
	defaultNFFT        = 400
	defaultHopLength   = 160
	defaultChunkLength = 30

	defaultNumWorkers = 2

	defaultRuntimeCommand = "whispertune-runtime"
	defaultCallbackBind   = "127.0.0.1:0"

	defaultHubEndpoint       = "https://huggingface.co"
	defaultHubTokenFile      = "~/.cache/huggingface/token"
	defaultHubTimeoutSeconds = 300
	defaultHubModelName      = "LM-S2T-BASE-2 - Tesseract3D"
	defaultHubDatasetName    = "Common Voice 13.0"
	defaultHubDatasetArgs    = "config: en, split: test"
	defaultHubTasks          = "automatic-speech-recognition"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Dataset source kinds.
const (
	DatasetSourceHub   = "hub"
	DatasetSourceLocal = "local"
)

// Default returns a Config populated with repository defaults. Training
// hyperparameters mirror the Whisper-base fine-tuning experiment this tool
// grew out of.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			CacheDir:  defaultCacheDir(),
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
		},
		Dataset: Dataset{
			Source:     defaultDatasetSource,
			Name:       defaultDatasetName,
			Config:     defaultDatasetConfig,
			Revision:   defaultDatasetRevision,
			TrainSplit: defaultDatasetTrainSplit,
			TestSplit:  defaultDatasetTestSplit,
		},
		Model: Model{
			BaseCheckpoint: defaultBaseCheckpoint,
			Revision:       defaultModelRevision,
			Language:       defaultModelLanguage,
			Task:           defaultModelTask,
		},
		Features: Features{
			SampleRate:  defaultSampleRate,
			NumMelBins:  defaultNumMelBins,
			NFFT:        defaultNFFT,
			HopLength:   defaultHopLength,
			ChunkLength: defaultChunkLength,
		},
		Preprocess: Preprocess{
			NumWorkers: defaultNumWorkers,
		},
		Training: Training{
			PerDeviceTrainBatchSize:   16,
			GradientAccumulationSteps: 1,
			LearningRate:              1e-5,
			WarmupSteps:               500,
			MaxSteps:                  4000,
			GradientCheckpointing:     true,
			FP16:                      true,
			EvaluationStrategy:        "steps",
			PerDeviceEvalBatchSize:    8,
			PredictWithGenerate:       true,
			GenerationMaxLength:       225,
			SaveSteps:                 1000,
			EvalSteps:                 1000,
			LoggingSteps:              25,
			ReportTo:                  []string{"tensorboard"},
			LoadBestModelAtEnd:        true,
			MetricForBestModel:        "wer",
			GreaterIsBetter:           false,
			PushToHub:                 true,
			RuntimeCommand:            defaultRuntimeCommand,
			CallbackBind:              defaultCallbackBind,
		},
		Hub: Hub{
			Endpoint:       defaultHubEndpoint,
			TokenFile:      defaultHubTokenFile,
			Interactive:    true,
			TimeoutSeconds: defaultHubTimeoutSeconds,
			ModelName:      defaultHubModelName,
			DatasetName:    defaultHubDatasetName,
			DatasetArgs:    defaultHubDatasetArgs,
			Tasks:          defaultHubTasks,
			Tags:           []string{"hf-asr-leaderboard"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
