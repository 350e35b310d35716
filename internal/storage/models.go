package storage

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a feedback update targets a record
// that already left the pending state. Feedback transitions are one-way.
var ErrInvalidTransition = errors.New("invalid feedback transition")

// Feedback is the terminal label an interaction receives after the user acts.
type Feedback string

const (
	FeedbackPending  Feedback = "pending"
	FeedbackAccepted Feedback = "accepted"
	FeedbackRejected Feedback = "rejected"
	FeedbackModified Feedback = "modified"
)

// Valid reports whether f is a known feedback value.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackPending, FeedbackAccepted, FeedbackRejected, FeedbackModified:
		return true
	}
	return false
}

// Terminal reports whether f is a terminal (non-pending) state.
func (f Feedback) Terminal() bool {
	return f.Valid() && f != FeedbackPending
}

// Candidate is one stored command candidate with its confidence score.
// The candidates column holds an ordered JSON array of these; insertion
// order is rank order, never mutated after write.
type Candidate struct {
	Command string  `json:"command"`
	Score   float64 `json:"score"`
}

// Interaction is the atomic unit of the learning pipeline: one prompt, its
// candidates, and the user's eventual feedback.
type Interaction struct {
	ID               string      `json:"id"`
	CreatedAt        float64     `json:"created_at"` // unix seconds
	Prompt           string      `json:"prompt_text"`
	Intent           string      `json:"intent,omitempty"`
	IntentConfidence *float64    `json:"intent_confidence,omitempty"`
	Candidates       []Candidate `json:"candidates"`
	SelectedCommand  string      `json:"selected_command,omitempty"`
	ExecutedCommand  string      `json:"executed_command,omitempty"`
	ExitCode         *int64      `json:"exit_code,omitempty"`
	Feedback         Feedback    `json:"feedback"`
	Cwd              string      `json:"cwd"`
	SessionID        string      `json:"session_id"`
	HasEmbedding     bool        `json:"has_embedding"`
}

// CreatedTime converts the float timestamp back to a time.Time.
func (i Interaction) CreatedTime() time.Time {
	sec, frac := math.Modf(i.CreatedAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// FeedbackUpdate carries the mutable fields of a feedback report.
type FeedbackUpdate struct {
	Feedback        Feedback
	SelectedCommand string
	ExecutedCommand string
	ExitCode        *int64
}

// Filter narrows interaction queries. Zero values mean "no constraint".
type Filter struct {
	Since     time.Time
	Until     time.Time
	Feedback  Feedback
	SessionID string
	Intent    string
}

// TrainingExample is one exported fine-tuning pair.
type TrainingExample struct {
	Prompt     string           `json:"prompt"`
	Completion string           `json:"completion"`
	Metadata   TrainingMetadata `json:"metadata"`
}

// TrainingMetadata carries context recorded alongside an exported example.
type TrainingMetadata struct {
	Intent    string  `json:"intent,omitempty"`
	Cwd       string  `json:"cwd,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	CreatedAt float64 `json:"created_at"`
	ExitCode  *int64  `json:"exit_code,omitempty"`
}

// Job is one unit of asynchronous work in the embedded job queue.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// encodeVector serializes an embedding as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian float32 blob. Truncated blobs
// yield nil.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
