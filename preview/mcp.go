package preview

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vorschau/compiler"
	"github.com/hazyhaar/vorschau/render"
	"github.com/hazyhaar/vorschau/wire"
)

// RegisterMCP registers the preview tools on an MCP server. Tool failures
// are reported through the result, never as protocol errors.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerCompileTool(srv)
	e.registerRenderTool(srv)
	e.registerSourceTool(srv)
	e.registerThemeTool(srv)
	e.registerStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func schemaJSON(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("preview: marshal input schema: %v", err))
	}
	return data
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		var res mcp.CallToolResult
		res.SetError(err)
		return &res, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errResult(err error) (*mcp.CallToolResult, error) {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res, nil
}

// --- vorschau_compile ---

type compileReq struct {
	Source string `json:"source"`
}

func (e *Engine) registerCompileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vorschau_compile",
		Description: "Compile markdown source to a renderable program without touching the live preview session. Returns the outcome: compiled code and frontmatter on success, ordered diagnostics on failure.",
		InputSchema: schemaJSON(inputSchema(map[string]any{
			"source": map[string]any{"type": "string", "description": "Markdown source, optionally with YAML frontmatter"},
		}, []string{"source"})),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r compileReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return errResult(fmt.Errorf("vorschau_compile: invalid arguments: %w", err))
		}
		return textResult(compiler.Compile(e.cfg.NewID(), r.Source))
	})
}

// --- vorschau_render ---

type renderReq struct {
	Source string `json:"source"`
	Theme  string `json:"theme"`
}

func (e *Engine) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vorschau_render",
		Description: "Compile and render markdown source to a standalone sandboxed HTML document. Returns the page and its measured content height.",
		InputSchema: schemaJSON(inputSchema(map[string]any{
			"source": map[string]any{"type": "string", "description": "Markdown source, optionally with YAML frontmatter"},
			"theme":  map[string]any{"type": "string", "enum": []string{wire.ThemeLight, wire.ThemeDark}, "description": "Display theme, default light"},
		}, []string{"source"})),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r renderReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return errResult(fmt.Errorf("vorschau_render: invalid arguments: %w", err))
		}
		theme := r.Theme
		if theme == "" {
			theme = wire.ThemeLight
		}

		out := compiler.Compile(e.cfg.NewID(), r.Source)
		if !out.OK {
			return errResult(fmt.Errorf("vorschau_render: compile failed: %s", out.Errors[0].Message))
		}
		p, err := wire.ParseProgram(out.Code)
		if err != nil {
			return errResult(fmt.Errorf("vorschau_render: %w", err))
		}
		rr := render.New(render.Config{})
		doc, err := rr.Render(p, theme, out.Frontmatter)
		if err != nil {
			return errResult(fmt.Errorf("vorschau_render: %w", err))
		}
		return textResult(map[string]any{
			"html":   render.Shell(doc, theme),
			"height": doc.Height,
		})
	})
}

// --- vorschau_source ---

type sourceReq struct {
	Source string `json:"source"`
}

func (e *Engine) registerSourceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vorschau_source",
		Description: "Replace the live preview session's source. The previous revision is superseded; compilation runs asynchronously. Returns the request id.",
		InputSchema: schemaJSON(inputSchema(map[string]any{
			"source": map[string]any{"type": "string", "description": "Markdown source, optionally with YAML frontmatter"},
		}, []string{"source"})),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r sourceReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return errResult(fmt.Errorf("vorschau_source: invalid arguments: %w", err))
		}
		id := e.SetSource(r.Source)
		if id == "" {
			return errResult(fmt.Errorf("vorschau_source: session closed"))
		}
		return textResult(map[string]any{"request_id": id})
	})
}

// --- vorschau_theme ---

type themeReq struct {
	Theme string `json:"theme"`
}

func (e *Engine) registerThemeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vorschau_theme",
		Description: "Switch the live preview session's display theme.",
		InputSchema: schemaJSON(inputSchema(map[string]any{
			"theme": map[string]any{"type": "string", "enum": []string{wire.ThemeLight, wire.ThemeDark}},
		}, []string{"theme"})),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r themeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return errResult(fmt.Errorf("vorschau_theme: invalid arguments: %w", err))
		}
		if r.Theme != wire.ThemeLight && r.Theme != wire.ThemeDark {
			return errResult(fmt.Errorf("vorschau_theme: unknown theme %q", r.Theme))
		}
		e.SetTheme(r.Theme)
		return textResult(map[string]any{"theme": r.Theme})
	})
}

// --- vorschau_status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vorschau_status",
		Description: "Report the live preview session's state: display phase, theme, current diagnostics, content height, and whether a compile is in flight.",
		InputSchema: schemaJSON(inputSchema(map[string]any{}, nil)),
	}

	srv.AddTool(tool, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult(e.Snapshot())
	})
}
