// Package generate turns a classified prompt into ranked shell command
// candidates. Generation is two-tier: model-first with a hard timeout, then
// deterministic host-template fallback for recognized intents. The fallback
// guarantees the user gets something for known intents even with no model
// connectivity.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanhsu/nlsh/internal/engine"
	"github.com/evanhsu/nlsh/internal/hostinfo"
	"github.com/evanhsu/nlsh/internal/intent"
)

// FallbackScore is the fixed confidence tier for template-derived candidates.
// It sits strictly below the model-score floor so model output always
// outranks templates.
const FallbackScore = 0.30

// Candidate is one proposed shell command with its confidence score.
type Candidate struct {
	Command string  `json:"command"`
	Score   float64 `json:"score"`
}

// Generator produces ranked command candidates for a prompt.
type Generator struct {
	engine        engine.Engine
	model         string
	host          hostinfo.Profile
	timeout       time.Duration
	minScore      float64
	maxCandidates int
}

// Options configures a Generator.
type Options struct {
	Model         string
	Host          hostinfo.Profile
	Timeout       time.Duration
	MinModelScore float64
	MaxCandidates int
}

// New creates a Generator. eng may be nil when no inference backend exists;
// every call then takes the fallback path.
func New(eng engine.Engine, opts Options) *Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MinModelScore <= 0 {
		opts.MinModelScore = 0.5
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 3
	}
	return &Generator{
		engine:        eng,
		model:         opts.Model,
		host:          opts.Host,
		timeout:       opts.Timeout,
		minScore:      opts.MinModelScore,
		maxCandidates: opts.MaxCandidates,
	}
}

// Generate returns ranked candidates for the prompt, best first. Model
// failures (unreachable, timeout, unparseable output) are soft: they are
// logged and the intent-template fallback is tried. An empty slice means
// both tiers produced nothing; that is a result, not an error.
func (g *Generator) Generate(ctx context.Context, prompt string, res intent.Result) []Candidate {
	if cands := g.fromModel(ctx, prompt); len(cands) > 0 {
		return cands
	}
	return g.fromTemplates(res)
}

// modelOutput is the structured completion requested from the model.
type modelOutput struct {
	Candidates []struct {
		Command    string  `json:"command"`
		Confidence float64 `json:"confidence"`
	} `json:"candidates"`
}

func (g *Generator) fromModel(ctx context.Context, prompt string) []Candidate {
	if g.engine == nil || g.model == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.engine.Complete(ctx, g.model, systemPrompt(g.host), prompt, candidateSchema())
	if err != nil {
		slog.Warn("model generation failed, falling back", "error", err)
		return nil
	}

	cands := g.parseStructured(raw)
	if cands == nil {
		// The model ignored the schema; salvage command-shaped lines.
		cands = g.parseFreeText(raw)
	}
	return cands
}

// parseStructured decodes the schema-conforming JSON response. Returns nil
// when the response is not valid JSON of the expected shape.
func (g *Generator) parseStructured(raw string) []Candidate {
	var out modelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}

	var cands []Candidate
	for _, c := range out.Candidates {
		cmd := cleanCommandLine(c.Command)
		if cmd == "" {
			continue
		}
		score := c.Confidence
		if score <= 0 || score > 1 {
			score = heuristicScore(cmd)
		}
		if score < g.minScore {
			continue
		}
		cands = append(cands, Candidate{Command: cmd, Score: score})
		if len(cands) == g.maxCandidates {
			break
		}
	}
	return rankStable(cands)
}

// parseFreeText extracts command-shaped lines from conversational output.
func (g *Generator) parseFreeText(raw string) []Candidate {
	var cands []Candidate
	for _, line := range commandLines(raw) {
		score := heuristicScore(line)
		if score < g.minScore {
			continue
		}
		cands = append(cands, Candidate{Command: line, Score: score})
		if len(cands) == g.maxCandidates {
			break
		}
	}
	return rankStable(cands)
}

// fromTemplates maps recognized intents onto host-capability templates.
// The result is deterministic for a fixed host profile and intent.
func (g *Generator) fromTemplates(res intent.Result) []Candidate {
	var cmd string
	switch res.Label {
	case intent.SystemUpdate:
		cmd = hostinfo.UpdateCommand(g.host)
	case intent.InstallPackage:
		if res.Package != "" {
			cmd = hostinfo.InstallCommand(g.host, res.Package)
		}
	}
	if cmd == "" {
		return nil
	}
	return []Candidate{{Command: cmd, Score: FallbackScore}}
}

func systemPrompt(host hostinfo.Profile) string {
	hint := ""
	if host.PackageManager != "" {
		hint = fmt.Sprintf(" The host is %s (%s) using the %s package manager; prefer its native tooling.",
			host.DistroID, host.OSFamily, host.PackageManager)
	}
	return "You translate a user's request into shell commands." + hint +
		" Respond with ONLY a JSON object of the form" +
		` {"candidates":[{"command":"...","confidence":0.0}]}` +
		" with up to 3 candidates ordered best first. Each command must be a" +
		" single runnable shell line with no commentary, no markdown and no placeholders."
}

func candidateSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"candidates": {
				Type:        "array",
				Description: "Ranked shell command candidates, best first",
				Items:       &engine.SchemaProperty{Type: "object"},
			},
		},
		Required: []string{"candidates"},
	}
}
