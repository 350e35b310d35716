package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/evanhsu/nlsh/internal/hostinfo"
	"github.com/evanhsu/nlsh/internal/interpreter"
	"github.com/evanhsu/nlsh/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Interpreter *interpreter.Interpreter
	Store       *storage.Store
	Host        hostinfo.Profile
}

// NewMCPServer creates an MCP server exposing the interpreter over stdio.
// Agent hosts use this instead of the loopback HTTP API; both transports
// share the same interpreter, so records and feedback rules are identical.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nlsh",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nlsh — translate natural-language requests into shell commands for this host, and record which suggestions worked."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("interpret_command",
			mcp.WithDescription("Translate a natural-language request into ranked shell command candidates for this host. Returns a record id for later feedback."),
			mcp.WithString("prompt", mcp.Description("The natural-language request"), mcp.Required()),
			mcp.WithString("cwd", mcp.Description("Working directory context for the request")),
			mcp.WithString("session_id", mcp.Description("Session identifier to group related requests")),
		),
		mcpInterpretCommand(deps),
	)

	s.AddTool(
		mcp.NewTool("report_feedback",
			mcp.WithDescription("Report what happened to a suggested command: accepted, rejected, or modified. One report per record; later reports are refused."),
			mcp.WithString("record_id", mcp.Description("The record id returned by interpret_command"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("One of: accepted, rejected, modified"), mcp.Required()),
			mcp.WithString("selected_command", mcp.Description("The candidate the user picked")),
			mcp.WithString("executed_command", mcp.Description("The command actually run, if edited before running")),
			mcp.WithNumber("exit_code", mcp.Description("Exit code of the executed command")),
		),
		mcpReportFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("query_history",
			mcp.WithDescription("List stored interactions, optionally filtered by feedback state, session, or intent."),
			mcp.WithString("feedback", mcp.Description("Filter by feedback: pending, accepted, rejected, modified")),
			mcp.WithString("session_id", mcp.Description("Filter by session")),
			mcp.WithString("intent", mcp.Description("Filter by classified intent")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpQueryHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"host://profile",
			"Host Profile",
			mcp.WithResourceDescription("Detected OS family, distribution and package manager"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHost(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 stored interactions (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpInterpretCommand(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		cwd := req.GetString("cwd", "")
		sessionID := req.GetString("session_id", "")

		rec, err := deps.Interpreter.Interpret(ctx, prompt, cwd, sessionID)
		if errors.Is(err, interpreter.ErrEmptyPrompt) {
			return mcpError("prompt is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("interpreting prompt: %v", err)), nil
		}

		b, err := json.Marshal(InterpretResponse{
			RecordID:         rec.ID,
			Intent:           rec.Intent,
			IntentConfidence: rec.IntentConfidence,
			Candidates:       rec.Candidates,
			SessionID:        rec.SessionID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReportFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordID, err := req.RequireString("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}
		fbStr, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		fb := storage.Feedback(fbStr)
		if !fb.Valid() {
			return mcpError(fmt.Sprintf("unknown feedback value %q", fbStr)), nil
		}

		var exitCode *int64
		if v := req.GetInt("exit_code", -1); v >= 0 {
			code := int64(v)
			exitCode = &code
		}

		err = deps.Interpreter.RecordFeedback(recordID, fb,
			req.GetString("selected_command", ""),
			req.GetString("executed_command", ""),
			exitCode,
		)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("no interaction with id %s", recordID)), nil
		case errors.Is(err, storage.ErrInvalidTransition):
			return mcpError(fmt.Sprintf("feedback refused: %v", err)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("recording feedback: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded %s for %s", fb, recordID)), nil
	}
}

func mcpQueryHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var f storage.Filter
		if s := req.GetString("feedback", ""); s != "" {
			fb := storage.Feedback(s)
			if !fb.Valid() {
				return mcpError(fmt.Sprintf("unknown feedback value %q", s)), nil
			}
			f.Feedback = fb
		}
		f.SessionID = req.GetString("session_id", "")
		f.Intent = req.GetString("intent", "")

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		interactions, err := deps.Store.Query(f, limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("querying history: %v", err)), nil
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}

		b, err := json.Marshal(interactions)
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHost(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Host)
		if err != nil {
			return nil, fmt.Errorf("marshalling host profile: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.Query(storage.Filter{}, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("loading interactions: %w", err)
		}
		if len(interactions) > 10 {
			interactions = interactions[len(interactions)-10:]
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Prompt    string `json:"prompt"`
			Feedback  string `json:"feedback"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			prompt := ix.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedTime().UTC().Format(time.RFC3339),
				Prompt:    prompt,
				Feedback:  string(ix.Feedback),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("marshalling interactions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
