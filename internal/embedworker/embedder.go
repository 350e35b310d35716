package embedworker

import (
	"context"
	"fmt"

	"github.com/evanhsu/nlsh/internal/engine"
)

// EngineEmbedder adapts an inference Engine and a fixed embedding model to
// the Embedder interface.
type EngineEmbedder struct {
	engine engine.Engine
	model  string
}

// NewEngineEmbedder creates an EngineEmbedder using the given Engine and
// model name.
func NewEngineEmbedder(e engine.Engine, model string) *EngineEmbedder {
	return &EngineEmbedder{engine: e, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *EngineEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
