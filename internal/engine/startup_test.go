package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

// fakeEngine implements Engine for readiness tests.
type fakeEngine struct {
	running bool
	models  map[string]bool
	pulled  []string
	pullErr error
}

func (f *fakeEngine) Complete(ctx context.Context, model, system, prompt string, s *Schema) (string, error) {
	return "", nil
}
func (f *fakeEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return nil, nil
}
func (f *fakeEngine) IsRunning(ctx context.Context) bool { return f.running }
func (f *fakeEngine) ListModels(ctx context.Context) ([]string, error) {
	var out []string
	for m := range f.models {
		out = append(out, m)
	}
	return out, nil
}
func (f *fakeEngine) HasModel(ctx context.Context, name string) bool { return f.models[name] }
func (f *fakeEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	f.pulled = append(f.pulled, name)
	if f.models == nil {
		f.models = map[string]bool{}
	}
	f.models[name] = true
	return nil
}

func TestEnsureReady_BackendDownIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	up, err := EnsureReady(context.Background(), &fakeEngine{running: false}, "cmd-model", "embed-model", &buf)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if up {
		t.Error("up = true, want false")
	}
	if !strings.Contains(buf.String(), "fallback-only") {
		t.Errorf("output = %q, want fallback-only notice", buf.String())
	}
}

func TestEnsureReady_PullsMissingModels(t *testing.T) {
	f := &fakeEngine{running: true, models: map[string]bool{"cmd-model": true}}

	var buf bytes.Buffer
	up, err := EnsureReady(context.Background(), f, "cmd-model", "embed-model", &buf)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !up {
		t.Error("up = false, want true")
	}
	if len(f.pulled) != 1 || f.pulled[0] != "embed-model" {
		t.Errorf("pulled = %v, want [embed-model]", f.pulled)
	}
}

func TestEnsureReady_SkipsDuplicateModel(t *testing.T) {
	f := &fakeEngine{running: true, models: map[string]bool{}}

	var buf bytes.Buffer
	if _, err := EnsureReady(context.Background(), f, "same", "same", &buf); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 1 {
		t.Errorf("pulled %d models, want 1", len(f.pulled))
	}
}
