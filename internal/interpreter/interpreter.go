// Package interpreter orchestrates a single natural-language request:
// classify the intent, generate command candidates, and persist the
// interaction before returning. Every request leaves exactly one stored
// record, including requests that produce no candidates; the corpus records
// failures as well as successes.
package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evanhsu/nlsh/internal/generate"
	"github.com/evanhsu/nlsh/internal/intent"
	"github.com/evanhsu/nlsh/internal/storage"
)

// ErrEmptyPrompt is returned when a request carries no usable prompt text.
var ErrEmptyPrompt = errors.New("empty prompt")

// JobTypeEmbed is the queue type for background prompt embedding.
const JobTypeEmbed = "embed_interaction"

// EmbedPayload is the payload of an embed_interaction job.
type EmbedPayload struct {
	InteractionID string `json:"interaction_id"`
}

// Interpreter wires the classifier, generator, and store into the request
// path.
type Interpreter struct {
	classifier intent.Classifier
	generator  *generate.Generator
	store      *storage.Store
	embed      bool
}

// New creates an Interpreter. embed controls whether interpreted prompts are
// queued for background embedding.
func New(cls intent.Classifier, gen *generate.Generator, st *storage.Store, embed bool) *Interpreter {
	return &Interpreter{
		classifier: cls,
		generator:  gen,
		store:      st,
		embed:      embed,
	}
}

// Interpret runs the full request path:
//  1. Classify the prompt's intent (deterministic, never blocks)
//  2. Generate ranked candidates (model first, template fallback)
//  3. Persist the interaction with feedback = pending
//  4. Queue the prompt for background embedding
//
// A storage failure is the only hard error; candidate generation degrades
// to an empty list, which is still persisted and returned.
func (it *Interpreter) Interpret(ctx context.Context, prompt, cwd, sessionID string) (storage.Interaction, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return storage.Interaction{}, ErrEmptyPrompt
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	start := time.Now()

	res := it.classifier.Classify(prompt)
	cands := it.generator.Generate(ctx, prompt, res)

	rec := storage.Interaction{
		ID:         uuid.NewString(),
		CreatedAt:  float64(time.Now().UnixNano()) / 1e9,
		Prompt:     prompt,
		Candidates: make([]storage.Candidate, 0, len(cands)),
		Feedback:   storage.FeedbackPending,
		Cwd:        cwd,
		SessionID:  sessionID,
	}
	if res.Label != intent.Unknown {
		rec.Intent = res.Label
		conf := res.Confidence
		rec.IntentConfidence = &conf
	}
	for _, c := range cands {
		rec.Candidates = append(rec.Candidates, storage.Candidate{Command: c.Command, Score: c.Score})
	}

	if err := it.store.Insert(rec); err != nil {
		return storage.Interaction{}, err
	}

	it.queueEmbedding(rec.ID)

	slog.Debug("interpreted prompt",
		"id", rec.ID,
		"intent", rec.Intent,
		"candidates", len(rec.Candidates),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

// RecordFeedback applies a one-way feedback transition to a stored
// interaction. The store enforces the transition rules; callers see
// storage.ErrNotFound or storage.ErrInvalidTransition unchanged.
func (it *Interpreter) RecordFeedback(id string, fb storage.Feedback, selected, executed string, exitCode *int64) error {
	return it.store.UpdateFeedback(id, storage.FeedbackUpdate{
		Feedback:        fb,
		SelectedCommand: selected,
		ExecutedCommand: executed,
		ExitCode:        exitCode,
	})
}

// queueEmbedding enqueues a background embed job for the record. Failures
// are logged, not surfaced: embeddings are an enrichment, never a reason to
// fail the request that produced the record.
func (it *Interpreter) queueEmbedding(interactionID string) {
	if !it.embed {
		return
	}
	payload, err := json.Marshal(EmbedPayload{InteractionID: interactionID})
	if err != nil {
		slog.Warn("marshalling embed payload", "id", interactionID, "error", err)
		return
	}
	if err := it.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeEmbed,
		PayloadJSON: string(payload),
	}); err != nil {
		slog.Warn("queueing embed job", "id", interactionID, "error", err)
	}
}
