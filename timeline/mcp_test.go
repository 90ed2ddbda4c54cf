package timeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapline/kit"
	"github.com/hazyhaar/snapline/vision"
)

var testMCPImpl = &mcp.Implementation{Name: "snapline-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_CompareAndConvert(t *testing.T) {
	mock := &vision.Mock{Summary: &vision.ChangeSummary{
		Changes:     []string{"sidebar removed"},
		Implication: "More reading room.",
	}}
	svc := testService(t, mock)
	session := mcpSession(t, svc)

	text := mcpCallTool(t, session, "snapline_compare", map[string]any{
		"imageA": pngDataURI(t, 20, 20),
		"imageB": pngDataURI(t, 20, 20),
	})
	var cmp Comparison
	if err := json.Unmarshal([]byte(text), &cmp); err != nil {
		t.Fatalf("unmarshal comparison: %v", err)
	}
	if cmp.ID == "" || len(cmp.Changes) != 1 {
		t.Fatalf("comparison: %+v", cmp)
	}

	text = mcpCallTool(t, session, "snapline_convert", map[string]any{
		"comparisonId": cmp.ID,
		"title":        "from mcp",
	})
	var conv struct {
		Timeline *Timeline `json:"timeline"`
		Found    bool      `json:"found"`
	}
	if err := json.Unmarshal([]byte(text), &conv); err != nil {
		t.Fatalf("unmarshal convert: %v", err)
	}
	if !conv.Found || conv.Timeline == nil || conv.Timeline.Title != "from mcp" {
		t.Fatalf("convert result: %+v", conv)
	}

	text = mcpCallTool(t, session, "snapline_timelines", map[string]any{})
	var list struct {
		Timelines []*Timeline `json:"timelines"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Timelines) != 1 {
		t.Fatalf("timelines: %d", len(list.Timelines))
	}
}

func TestMCP_GetAndDelete(t *testing.T) {
	svc := testService(t, &vision.Mock{})
	session := mcpSession(t, svc)

	text := mcpCallTool(t, session, "snapline_timeline_get", map[string]any{"id": "nope"})
	var get struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal([]byte(text), &get); err != nil {
		t.Fatalf("unmarshal get: %v", err)
	}
	if get.Found {
		t.Error("found=true for a missing timeline")
	}

	// Idempotent delete over MCP.
	text = mcpCallTool(t, session, "snapline_delete", map[string]any{"timelineId": "nope"})
	var del struct {
		TimelineDeleted bool `json:"timelineDeleted"`
	}
	if err := json.Unmarshal([]byte(text), &del); err != nil {
		t.Fatalf("unmarshal delete: %v", err)
	}
	if !del.TimelineDeleted {
		t.Error("deleting an absent timeline should report success")
	}
}

func TestInstrument_AssignsRequestID(t *testing.T) {
	svc := testService(t, &vision.Mock{})

	var gotID, gotTransport string
	ep := kit.Chain(svc.instrument("snapline_timelines"))(func(ctx context.Context, _ any) (any, error) {
		gotID = kit.GetRequestID(ctx)
		gotTransport = kit.GetTransport(ctx)
		return "ok", nil
	})

	if _, err := ep(kit.WithTransport(context.Background(), "mcp"), nil); err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if gotID == "" {
		t.Error("no request id assigned")
	}
	if gotTransport != "mcp" {
		t.Errorf("transport = %q, want mcp", gotTransport)
	}

	// A caller-supplied id is kept, not overwritten.
	if _, err := ep(kit.WithRequestID(context.Background(), "req-7"), nil); err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if gotID != "req-7" {
		t.Errorf("request id = %q, want req-7", gotID)
	}
}
