// Package embedworker computes prompt embeddings in the background. The
// request path only enqueues work; embedding happens here, off the request
// path, so a slow or absent embedding model never delays a response.
package embedworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanhsu/nlsh/internal/storage"
)

// JobStore abstracts the queue and embedding operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	Get(id string) (storage.Interaction, error)
	SetEmbedding(id string, vec []float32) error
	MissingEmbeddings(limit int) ([]string, error)
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Worker processes embed_interaction jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder Embedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder Embedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_interaction job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{"embed_interaction"})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("embed job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	InteractionID string `json:"interaction_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	rec, err := w.store.Get(payload.InteractionID)
	if err != nil {
		return fmt.Errorf("loading interaction %s: %w", payload.InteractionID, err)
	}

	vec, err := w.embedder.Embed(ctx, rec.Prompt)
	if err != nil {
		return fmt.Errorf("embedding prompt: %w", err)
	}

	if err := w.store.SetEmbedding(rec.ID, vec); err != nil {
		return fmt.Errorf("storing embedding for %s: %w", rec.ID, err)
	}
	return nil
}

// Backfill embeds up to batch records that are missing embeddings. It runs
// on startup to catch records whose embed jobs were lost (queue purged,
// embedding previously disabled). Embeddings run concurrently with a small
// limit so a large backlog doesn't saturate the inference backend.
func (w *Worker) Backfill(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	ids, err := w.store.MissingEmbeddings(batch)
	if err != nil {
		return 0, fmt.Errorf("listing records without embeddings: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var done atomic.Int64
	for _, id := range ids {
		g.Go(func() error {
			rec, err := w.store.Get(id)
			if err != nil {
				return fmt.Errorf("loading interaction %s: %w", id, err)
			}
			vec, err := w.embedder.Embed(ctx, rec.Prompt)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", id, err)
			}
			if err := w.store.SetEmbedding(id, vec); err != nil {
				return fmt.Errorf("storing embedding for %s: %w", id, err)
			}
			done.Add(1)
			return nil
		})
	}

	err = g.Wait()
	n := int(done.Load())
	if n > 0 {
		w.logger.Info("backfilled embeddings", "count", n)
	}
	return n, err
}
