package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all configuration for an experiment
type Config struct {
	// Dir is the experiment working directory. Checkpoints, run files,
	// telemetry and job outputs live underneath it.
	Dir string `mapstructure:"dir"`

	// Run names the training run inside Dir.
	Run string `mapstructure:"run"`

	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Data locations
	Data DataConfig `mapstructure:"data"`

	// Model configuration
	Model ModelConfig `mapstructure:"model"`

	// Baseline configuration (API-backed reranker)
	Baseline BaselineConfig `mapstructure:"baseline"`

	// Training configuration
	Training TrainingConfig `mapstructure:"training"`

	// Validation configuration
	Validation ValidationConfig `mapstructure:"validation"`

	// Retrieval configuration
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Monitor configuration
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Jobs configuration
	Jobs JobsConfig `mapstructure:"jobs"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig points at the prepared collection files
type DataConfig struct {
	// Corpus is a TSV of docid<TAB>text, optionally gzip-compressed.
	Corpus string `mapstructure:"corpus"`
	// Triples is the qid/positive-id/negative-id training file.
	Triples string `mapstructure:"triples"`
	// Topics and Qrels describe the evaluation fold.
	Topics string `mapstructure:"topics"`
	Qrels  string `mapstructure:"qrels"`
	// StorePath is the badger document store directory.
	StorePath string `mapstructure:"store_path"`
	// IndexPath is the bleve lexical index directory.
	IndexPath string `mapstructure:"index_path"`
	// CacheSize bounds the LRU cache placed in front of the store.
	CacheSize int `mapstructure:"cache_size"`
}

// ModelConfig sizes the trainable scorer
type ModelConfig struct {
	Kind       string  `mapstructure:"kind"`       // dual, cross
	VocabSize  int     `mapstructure:"vocab_size"` // hashed vocabulary size
	Dim        int     `mapstructure:"dim"`
	Hidden     int     `mapstructure:"hidden"`     // cross-encoder head width
	Similarity string  `mapstructure:"similarity"` // dot, cosine
	FlopsQ     float64 `mapstructure:"flops_q"`    // sparsity regularizer weights
	FlopsD     float64 `mapstructure:"flops_d"`
}

// BaselineConfig holds configuration for the inference-only reranker
type BaselineConfig struct {
	Provider       string `mapstructure:"provider"` // openai
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

// TrainingConfig holds the learner and optimizer settings
type TrainingConfig struct {
	Seed          int64   `mapstructure:"seed"`
	MaxEpochs     int64   `mapstructure:"max_epochs"`
	StepsPerEpoch int64   `mapstructure:"steps_per_epoch"`
	BatchSize     int     `mapstructure:"batch_size"`
	MicroBatch    int     `mapstructure:"micro_batch"` // 0 disables accumulation
	Loss          string  `mapstructure:"loss"`        // softmax, cross-entropy, hinge, pointwise, nogueira
	Margin        float64 `mapstructure:"margin"`      // hinge only
	Optimizer     string  `mapstructure:"optimizer"`   // sgd, adam, adamw
	LearningRate  float64 `mapstructure:"learning_rate"`
	WeightDecay   float64 `mapstructure:"weight_decay"`
	Schedule      string  `mapstructure:"schedule"` // constant, linear, cosine
	WarmupSteps   int64   `mapstructure:"warmup_steps"`
	TotalSteps    int64   `mapstructure:"total_steps"` // decay horizon; 0 = max_epochs*steps_per_epoch
	// Prefetch is the sampler read-ahead depth. 0 keeps sampling synchronous.
	Prefetch int `mapstructure:"prefetch"`
	// InBatchNegatives swaps each record's negative for another record's
	// positive inside the batch.
	InBatchNegatives bool `mapstructure:"in_batch_negatives"`
}

// ValidationConfig holds the held-out evaluation settings
type ValidationConfig struct {
	Interval int64 `mapstructure:"interval"` // epochs between validations
	// FoldSize carves this many topics out as the validation fold;
	// 0 validates on all topics.
	FoldSize    int `mapstructure:"fold_size"`
	Depth       int `mapstructure:"depth"` // documents ranked per topic
	Parallelism int `mapstructure:"parallelism"`
	// Measures lists the metrics to compute, e.g. ["RR@10", "AP"].
	Measures []string `mapstructure:"measures"`
	// KeepBest names the measures whose best-scoring model is retained.
	KeepBest []string `mapstructure:"keep_best"`
	// Evaluator picks the measure implementation: native or trec_eval.
	Evaluator    string `mapstructure:"evaluator"`
	TrecEvalPath string `mapstructure:"trec_eval_path"`
}

// RetrievalConfig holds first-stage retrieval settings
type RetrievalConfig struct {
	K     int `mapstructure:"k"`     // candidates per topic
	Batch int `mapstructure:"batch"` // reranker scoring batch
}

// MonitorConfig holds the progress endpoint settings
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"` // gin mode: debug, release, test
}

// TelemetryConfig holds the metric sink settings
type TelemetryConfig struct {
	// Dir receives the parquet metric files. Empty means <dir>/telemetry.
	Dir       string `mapstructure:"dir"`
	BatchSize int    `mapstructure:"batch_size"`
}

// JobsConfig holds the scheduler settings
type JobsConfig struct {
	// Dir is the scheduler working directory. Empty means the experiment Dir.
	Dir           string `mapstructure:"dir"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// AlertConfig holds the run-outcome email settings
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Experiment defaults
	viper.SetDefault("dir", "./ordino")
	viper.SetDefault("run", "train")

	// Data defaults
	viper.SetDefault("data.cache_size", 8192)

	// Model defaults
	viper.SetDefault("model.kind", "dual")
	viper.SetDefault("model.vocab_size", 65536)
	viper.SetDefault("model.dim", 64)
	viper.SetDefault("model.hidden", 32)
	viper.SetDefault("model.similarity", "dot")

	// Baseline defaults
	viper.SetDefault("baseline.provider", "openai")
	viper.SetDefault("baseline.model", "gpt-4o-mini")
	viper.SetDefault("baseline.max_concurrency", 10)

	// Training defaults
	viper.SetDefault("training.seed", 0)
	viper.SetDefault("training.max_epochs", 1000)
	viper.SetDefault("training.steps_per_epoch", 128)
	viper.SetDefault("training.batch_size", 16)
	viper.SetDefault("training.micro_batch", 0)
	viper.SetDefault("training.loss", "softmax")
	viper.SetDefault("training.margin", 1.0)
	viper.SetDefault("training.optimizer", "adam")
	viper.SetDefault("training.learning_rate", 1e-3)
	viper.SetDefault("training.schedule", "constant")
	viper.SetDefault("training.prefetch", 0)

	// Validation defaults
	viper.SetDefault("validation.interval", 1)
	viper.SetDefault("validation.depth", 100)
	viper.SetDefault("validation.parallelism", 4)
	viper.SetDefault("validation.measures", []string{"RR@10"})
	viper.SetDefault("validation.keep_best", []string{"RR@10"})
	viper.SetDefault("validation.evaluator", "native")
	viper.SetDefault("validation.trec_eval_path", "trec_eval")

	// Retrieval defaults
	viper.SetDefault("retrieval.k", 100)
	viper.SetDefault("retrieval.batch", 64)

	// Monitor defaults
	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.host", "localhost")
	viper.SetDefault("monitor.port", 8080)
	viper.SetDefault("monitor.mode", "release")

	// Telemetry defaults
	viper.SetDefault("telemetry.batch_size", 100)

	// Jobs defaults
	viper.SetDefault("jobs.max_concurrent", 1)

	// Alert defaults
	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if dir := os.Getenv("ORDINO_DIR"); dir != "" {
		config.Dir = dir
	}
	if run := os.Getenv("ORDINO_RUN"); run != "" {
		config.Run = run
	}
	if seed := os.Getenv("ORDINO_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			config.Training.Seed = v
		}
	}

	// Baseline credentials
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Baseline.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Baseline.BaseURL = baseURL
	}

	// External measure binary
	if path := os.Getenv("ORDINO_TREC_EVAL"); path != "" {
		config.Validation.TrecEvalPath = path
		config.Validation.Evaluator = "trec_eval"
	}

	// Monitor settings
	if host := os.Getenv("ORDINO_MONITOR_HOST"); host != "" {
		config.Monitor.Host = host
	}
	if port := os.Getenv("ORDINO_MONITOR_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			config.Monitor.Port = v
		}
	}

	// Telemetry settings
	if path := os.Getenv("ORDINO_TELEMETRY_DIR"); path != "" {
		config.Telemetry.Dir = path
	}

	// Alert credentials
	if password := os.Getenv("ORDINO_SMTP_PASSWORD"); password != "" {
		config.Alert.Password = password
	}
}
