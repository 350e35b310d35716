package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NLSH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "NLSH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.command_model", typ: kString, env: "NLSH_OLLAMA_COMMAND_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.CommandModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.CommandModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "NLSH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NLSH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "interpreter.model_timeout", typ: kString, env: "NLSH_INTERPRETER_MODEL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Interpreter.ModelTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Interpreter.ModelTimeout },
	},
	{
		key: "interpreter.min_model_score", typ: kFloat, env: "NLSH_INTERPRETER_MIN_MODEL_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Interpreter.MinModelScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.Interpreter.MinModelScore },
	},
	{
		key: "interpreter.max_candidates", typ: kInt, env: "NLSH_INTERPRETER_MAX_CANDIDATES",
		apply:   func(cfg *Config, v any) { cfg.Interpreter.MaxCandidates = v.(int) },
		extract: func(cfg Config) any { return cfg.Interpreter.MaxCandidates },
	},
	{
		key: "embedding.enabled", typ: kBool, env: "NLSH_EMBEDDING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Embedding.Enabled },
	},
	{
		key: "embedding.poll_interval", typ: kString, env: "NLSH_EMBEDDING_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "NLSH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not read config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
