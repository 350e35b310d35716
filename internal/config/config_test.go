package config

import (
	"os"
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	data map[string]any
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", false, nil
	}
	return s, true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, isInt := v.(int)
	if !isInt {
		return 0, false, nil
	}
	return i, true, nil
}

func (m *mapBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *mapBackend) Delete(key string) error          { delete(m.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
			os.Unsetenv(s.env)
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4311 {
		t.Errorf("Server.Port = %d, want 4311", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.CommandModel != "qwen2.5-coder" {
		t.Errorf("Ollama.CommandModel = %q, want %q", cfg.Ollama.CommandModel, "qwen2.5-coder")
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q, want %q", cfg.Ollama.EmbedModel, "nomic-embed-text")
	}
	if cfg.Interpreter.MinModelScore != 0.5 {
		t.Errorf("Interpreter.MinModelScore = %v, want 0.5", cfg.Interpreter.MinModelScore)
	}
	if !cfg.Embedding.Enabled {
		t.Error("Embedding.Enabled = false, want true")
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	clearEnv(t)

	b := &mapBackend{data: map[string]any{
		"server.port":                 5000,
		"ollama.command_model":        "llama3.2",
		"interpreter.model_timeout":   "3s",
		"interpreter.min_model_score": "0.7",
		"embedding.enabled":           "false",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.CommandModel != "llama3.2" {
		t.Errorf("Ollama.CommandModel = %q, want llama3.2", cfg.Ollama.CommandModel)
	}
	if cfg.Interpreter.ModelTimeout != "3s" {
		t.Errorf("Interpreter.ModelTimeout = %q, want 3s", cfg.Interpreter.ModelTimeout)
	}
	if cfg.Interpreter.MinModelScore != 0.7 {
		t.Errorf("Interpreter.MinModelScore = %v, want 0.7", cfg.Interpreter.MinModelScore)
	}
	if cfg.Embedding.Enabled {
		t.Error("Embedding.Enabled = true, want false")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("NLSH_SERVER_PORT", "6001")
	t.Setenv("NLSH_OLLAMA_BASE_URL", "http://localhost:9999")

	b := &mapBackend{data: map[string]any{"server.port": 5000}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001 (env should win)", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:9999" {
		t.Errorf("Ollama.BaseURL = %q, want env value", cfg.Ollama.BaseURL)
	}
}

func TestModelTimeoutDuration(t *testing.T) {
	cfg := defaults()
	if got := cfg.ModelTimeoutDuration().Seconds(); got != 10 {
		t.Errorf("default ModelTimeoutDuration = %vs, want 10s", got)
	}

	cfg.Interpreter.ModelTimeout = "250ms"
	if got := cfg.ModelTimeoutDuration().Milliseconds(); got != 250 {
		t.Errorf("ModelTimeoutDuration = %vms, want 250ms", got)
	}

	cfg.Interpreter.ModelTimeout = "garbage"
	if got := cfg.ModelTimeoutDuration().Seconds(); got != 10 {
		t.Errorf("invalid timeout should fall back to 10s, got %vs", got)
	}
}

func TestSetKeyUnknown(t *testing.T) {
	if err := SetKey("no.such.key", "1"); err == nil {
		t.Error("SetKey with unknown key should fail")
	}
}

func TestValidKeysCoverSpecs(t *testing.T) {
	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Errorf("ValidKeys returned %d keys, want %d", len(keys), len(specs))
	}
}
