package config

import "time"

type Config struct {
	Server      ServerConfig
	Ollama      OllamaConfig
	Storage     StorageConfig
	Interpreter InterpreterConfig
	Embedding   EmbeddingConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL      string
	CommandModel string
	EmbedModel   string
}

type StorageConfig struct {
	DataDir string
}

type InterpreterConfig struct {
	// ModelTimeout bounds a single model-backend call. After it elapses the
	// generator takes the template fallback path.
	ModelTimeout string
	// MinModelScore is the confidence floor below which model candidates are
	// discarded in favor of the fallback.
	MinModelScore float64
	MaxCandidates int
}

type EmbeddingConfig struct {
	Enabled      bool
	PollInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4311,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			CommandModel: "qwen2.5-coder",
			EmbedModel:   "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Interpreter: InterpreterConfig{
			ModelTimeout:  "10s",
			MinModelScore: 0.5,
			MaxCandidates: 3,
		},
		Embedding: EmbeddingConfig{
			Enabled:      true,
			PollInterval: "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/nlsh/config.json, then applies NLSH_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// ModelTimeoutDuration parses Interpreter.ModelTimeout, falling back to 10s
// on an invalid value.
func (c Config) ModelTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Interpreter.ModelTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// EmbedPollDuration parses Embedding.PollInterval, falling back to 500ms
// on an invalid value.
func (c Config) EmbedPollDuration() time.Duration {
	d, err := time.ParseDuration(c.Embedding.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}
