package timeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapline/kit"
)

// RegisterMCP registers snapline tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCompareTool(srv)
	s.registerTimelinesTool(srv)
	s.registerTimelineGetTool(srv)
	s.registerExtendTool(srv)
	s.registerConvertTool(srv)
	s.registerDeleteTool(srv)
}

// registerTool wraps a tool endpoint with the instrumentation middleware
// before handing it to the MCP adapter.
func (s *Service) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(s.instrument(tool.Name))(endpoint), decode)
}

// instrument tags each tool call with a request id and logs its outcome.
func (s *Service) instrument(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if kit.GetRequestID(ctx) == "" {
				ctx = kit.WithRequestID(ctx, s.mgr.ids())
			}
			start := time.Now()
			resp, err := next(ctx, req)
			s.logger.Debug("tool call",
				"tool", tool,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			return resp, err
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

// --- compare ---

type compareReq struct {
	ImageA  string `json:"imageA"`
	ImageB  string `json:"imageB"`
	Context string `json:"context,omitempty"`
}

func (s *Service) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_compare",
		Description: "Compare two screenshots and return a persisted change summary with grounded insights.",
		InputSchema: inputSchema(map[string]any{
			"imageA":  map[string]any{"type": "string", "description": "First screenshot, base64 or data-URI"},
			"imageB":  map[string]any{"type": "string", "description": "Second screenshot, base64 or data-URI"},
			"context": map[string]any{"type": "string", "description": "Optional free-text context"},
		}, []string{"imageA", "imageB"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*compareReq)
		return s.Compare(ctx, r.ImageA, r.ImageB, r.Context)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r compareReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- timelines ---

func (s *Service) registerTimelinesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_timelines",
		Description: "List all timelines, newest update first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		tls, err := s.mgr.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"timelines": tls}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- timeline get ---

type timelineGetReq struct {
	ID string `json:"id"`
}

func (s *Service) registerTimelineGetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_timeline_get",
		Description: "Fetch a single timeline by id.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Timeline id"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*timelineGetReq)
		tl, err := s.mgr.Get(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"timeline": tl, "found": tl != nil}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r timelineGetReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- extend ---

type extendReq struct {
	TimelineID string `json:"timelineId"`
	Name       string `json:"name,omitempty"`
	Data       string `json:"data"`
}

func (s *Service) registerExtendTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_extend",
		Description: "Append a screenshot to a timeline and report the changes against the previous one.",
		InputSchema: inputSchema(map[string]any{
			"timelineId": map[string]any{"type": "string", "description": "Timeline id"},
			"name":       map[string]any{"type": "string", "description": "Optional screenshot name"},
			"data":       map[string]any{"type": "string", "description": "Screenshot, base64 or data-URI"},
		}, []string{"timelineId", "data"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extendReq)
		tl, rep, err := s.ExtendTimeline(ctx, r.TimelineID, RawScreenshot{Name: r.Name, Data: r.Data})
		if err != nil {
			return nil, err
		}
		return map[string]any{"timeline": tl, "report": rep, "found": tl != nil}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extendReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- convert ---

type convertReq struct {
	ComparisonID string `json:"comparisonId"`
	Title        string `json:"title,omitempty"`
}

func (s *Service) registerConvertTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_convert",
		Description: "Convert a stored comparison into a new timeline (the comparison is kept).",
		InputSchema: inputSchema(map[string]any{
			"comparisonId": map[string]any{"type": "string", "description": "Comparison id"},
			"title":        map[string]any{"type": "string", "description": "Optional timeline title"},
		}, []string{"comparisonId"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*convertReq)
		tl, err := s.mgr.ConvertComparisonToTimeline(ctx, r.ComparisonID, r.Title)
		if err != nil {
			return nil, err
		}
		return map[string]any{"timeline": tl, "found": tl != nil}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r convertReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}

// --- delete ---

type deleteReq struct {
	TimelineID   string `json:"timelineId,omitempty"`
	ComparisonID string `json:"comparisonId,omitempty"`
}

func (s *Service) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "snapline_delete",
		Description: "Delete a timeline or a comparison by id. Idempotent.",
		InputSchema: inputSchema(map[string]any{
			"timelineId":   map[string]any{"type": "string", "description": "Timeline id to delete"},
			"comparisonId": map[string]any{"type": "string", "description": "Comparison id to delete"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteReq)
		out := map[string]any{}
		if r.TimelineID != "" {
			out["timelineDeleted"] = s.mgr.Delete(ctx, r.TimelineID)
		}
		if r.ComparisonID != "" {
			out["comparisonDeleted"] = s.mgr.DeleteComparison(ctx, r.ComparisonID)
		}
		return out, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r deleteReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	s.registerTool(srv, tool, endpoint, decode)
}
