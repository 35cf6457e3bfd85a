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

	"github.com/kalambet/opscribe/internal/storage"
	"github.com/kalambet/opscribe/internal/workflow"
)

// MCPAdvancer moves a meeting's workflow forward. *pipeline.Observer
// satisfies it and also forces the instruct-phase synthesis.
type MCPAdvancer interface {
	Advance(meetingID string) (storage.ObservationSession, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Workflow *workflow.Machine
	Advancer MCPAdvancer
}

// NewMCPServer creates an MCP server exposing meeting documents and the
// clarification workflow.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"opscribe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("opscribe turns observed meetings into procedure and role documents. Use these tools to read documents, review their history and answer open questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_document",
			mcp.WithDescription("Return the current content of a meeting document."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Document kind: procedure or role (default procedure)")),
		),
		mcpGetDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_versions",
			mcp.WithDescription("List the version history of a meeting document."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Document kind: procedure or role (default procedure)")),
		),
		mcpListVersions(deps),
	)

	s.AddTool(
		mcp.NewTool("rollback_document",
			mcp.WithDescription("Restore a document to an earlier version. Later versions are kept."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Document kind: procedure or role (default procedure)")),
			mcp.WithNumber("version", mcp.Description("Version to restore"), mcp.Required()),
		),
		mcpRollbackDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_clarifications",
			mcp.WithDescription("List clarification questions for a meeting."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("status", mcp.Description("Filter: pending, answered or skipped (default all)")),
		),
		mcpListClarifications(deps),
	)

	s.AddTool(
		mcp.NewTool("answer_clarification",
			mcp.WithDescription("Answer a pending clarification question. Answers feed the next document revision."),
			mcp.WithString("id", mcp.Description("Clarification identifier"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer"), mcp.Required()),
		),
		mcpAnswerClarification(deps),
	)

	s.AddTool(
		mcp.NewTool("advance_phase",
			mcp.WithDescription("Move a meeting to its next phase (observe, structure, instruct)."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
		),
		mcpAdvancePhase(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"opscribe://meetings",
			"Recent Meetings",
			mcp.WithResourceDescription("The 20 most recent meetings"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMeetings(deps),
	)

	return s
}

func mcpKind(req mcp.CallToolRequest) (storage.DocumentKind, bool) {
	kind := storage.DocumentKind(req.GetString("kind", string(storage.KindProcedure)))
	return kind, kind.Valid()
}

func mcpDocument(deps MCPDeps, req mcp.CallToolRequest) (storage.Document, *mcp.CallToolResult) {
	meetingID, err := req.RequireString("meeting_id")
	if err != nil {
		return storage.Document{}, mcpError("meeting_id is required")
	}
	kind, ok := mcpKind(req)
	if !ok {
		return storage.Document{}, mcpError(fmt.Sprintf("unknown document kind %q", kind))
	}
	doc, err := deps.Store.GetDocument(meetingID, kind)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Document{}, mcpError(fmt.Sprintf("no %s document for meeting %s", kind, meetingID))
	}
	if err != nil {
		return storage.Document{}, mcpError(fmt.Sprintf("failed to load document: %v", err))
	}
	return doc, nil
}

func mcpGetDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, res := mcpDocument(deps, req)
		if res != nil {
			return res, nil
		}
		return mcpText(fmt.Sprintf("%s (version %d, %s)\n\n%s", doc.Title, doc.Version, doc.Status, doc.Content)), nil
	}
}

func mcpListVersions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, res := mcpDocument(deps, req)
		if res != nil {
			return res, nil
		}
		versions, err := deps.Store.ListVersions(doc.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list versions: %v", err)), nil
		}

		type versionSummary struct {
			Version       int    `json:"version"`
			ChangeSummary string `json:"change_summary"`
			CreatedAt     string `json:"created_at"`
			Current       bool   `json:"current,omitempty"`
		}
		out := make([]versionSummary, len(versions))
		for i, v := range versions {
			out[i] = versionSummary{
				Version:       v.Version,
				ChangeSummary: v.ChangeSummary,
				CreatedAt:     v.CreatedAt.Format(time.RFC3339),
				Current:       v.Version == doc.Version,
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal versions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRollbackDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, res := mcpDocument(deps, req)
		if res != nil {
			return res, nil
		}
		version := req.GetInt("version", 0)
		if version < 1 {
			return mcpError("version must be a positive integer"), nil
		}
		doc, err := deps.Store.Rollback(doc.ID, version)
		if errors.Is(err, storage.ErrVersionNotFound) {
			return mcpError(fmt.Sprintf("document has no version %d", version)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("rollback failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Rolled %s back to version %d", doc.Kind, doc.Version)), nil
	}
}

func mcpListClarifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		status := storage.ClarificationStatus(req.GetString("status", ""))
		cs, err := deps.Workflow.List(meetingID, status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list clarifications: %v", err)), nil
		}
		if len(cs) == 0 {
			return mcpText("[]"), nil
		}

		type clarificationSummary struct {
			ID       string `json:"id"`
			Question string `json:"question"`
			Status   string `json:"status"`
			Answer   string `json:"answer,omitempty"`
		}
		out := make([]clarificationSummary, len(cs))
		for i, c := range cs {
			q := c.Question
			if utf8.RuneCountInString(q) > 300 {
				q = string([]rune(q)[:300]) + "..."
			}
			out[i] = clarificationSummary{ID: c.ID, Question: q, Status: string(c.Status), Answer: c.Answer}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal clarifications: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAnswerClarification(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}
		c, err := deps.Workflow.Answer(id, answer)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("clarification %s not found", id)), nil
		case err != nil:
			return mcpError(fmt.Sprintf("failed to answer: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Answered: %s", c.Question)), nil
	}
}

func mcpAdvancePhase(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		ws, err := deps.Advancer.Advance(meetingID)
		if err != nil {
			return mcpError(fmt.Sprintf("advance failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Meeting %s is in the %s phase", meetingID, ws.Phase)), nil
	}
}

func mcpResourceMeetings(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		meetings, err := deps.Store.ListMeetings(20)
		if err != nil {
			return nil, fmt.Errorf("failed to list meetings: %w", err)
		}
		out := make([]meetingView, len(meetings))
		for i, m := range meetings {
			out[i] = meetingView{ID: m.ID, Title: m.Title, CreatedAt: m.CreatedAt}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal meetings: %w", err)
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
