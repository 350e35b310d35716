package engine

import "context"

// Engine abstracts the local inference backend. Consumers such as candidate
// generation and embedding depend on this interface instead of a concrete
// client, so the backend can be swapped (or faked in tests).
type Engine interface {
	// Complete sends a single-prompt completion request and returns the raw
	// response text. When jsonSchema is non-nil, structured JSON output is
	// requested.
	Complete(ctx context.Context, model, system, prompt string, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
