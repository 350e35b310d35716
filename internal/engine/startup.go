package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and required models are
// available, pulling missing models with progress written to w.
//
// An unreachable backend is not an error: the daemon must come up and serve
// fallback-only results even with no model connectivity. The returned bool
// reports whether the backend was reachable.
func EnsureReady(ctx context.Context, e Engine, commandModel, embedModel string, w io.Writer) (bool, error) {
	if !e.IsRunning(ctx) {
		fmt.Fprintln(w, "inference backend unreachable; starting in fallback-only mode")
		return false, nil
	}

	models := make([]string, 0, 2)
	if commandModel != "" {
		models = append(models, commandModel)
	}
	if embedModel != "" && embedModel != commandModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return true, fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return true, nil
}
