package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/xiy/petpulse/internal/orchestrator"
	"github.com/xiy/petpulse/internal/rhythm"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

type fakeEngine struct {
	events      []types.MoodEvent
	interaction orchestrator.Interaction
}

func (f *fakeEngine) Context(_ context.Context, botID string) (orchestrator.BotContext, error) {
	if botID != "mochi" {
		return orchestrator.BotContext{}, store.ErrNotFound
	}
	return orchestrator.BotContext{Bot: types.Bot{ID: botID}, MoodPrompt: "You're feeling content."}, nil
}

func (f *fakeEngine) RecordEvents(_ context.Context, _ string, events []types.MoodEvent) (int, error) {
	f.events = append(f.events, events...)
	return len(events), nil
}

func (f *fakeEngine) RecordEngagement(_ context.Context, _ string, likes, _, _ int, _ bool) (int, error) {
	return likes, nil
}

func (f *fakeEngine) RecordInteraction(_ context.Context, in orchestrator.Interaction) (types.RelationshipData, error) {
	f.interaction = in
	return types.RelationshipData{PetIDA: "biscuit", PetIDB: "mochi", InteractionCount: 1, Version: 1}, nil
}

func (f *fakeEngine) RelationshipContext(_ context.Context, _, other string) (string, error) {
	return "You haven't interacted with " + other + " before.", nil
}

func (f *fakeEngine) Decide(_ context.Context, _ string) (rhythm.Decision, error) {
	return rhythm.Decision{ShouldPost: true, Reason: "due and active"}, nil
}

type captureSink struct {
	rows []store.MCPRequestLog
}

func (c *captureSink) InsertMCPRequestLog(_ context.Context, rec store.MCPRequestLog) error {
	c.rows = append(c.rows, rec)
	return nil
}

func newTestServer(engine Engine, sink RequestLogSink) *Server {
	return NewServer(engine, "petpulse", "test", log.NewWithOptions(io.Discard, log.Options{}), sink)
}

func callTool(t *testing.T, srv *Server, name string, args any) map[string]any {
	t.Helper()
	rawArgs, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("json.Marshal(args) error = %v", err)
	}
	params, _ := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(rawArgs)})
	resp, ok := srv.handle(context.Background(), request{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "tools/call", Params: params})
	if !ok {
		t.Fatal("expected response")
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	return result
}

func TestHandle_ToolsList(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeEngine{}, nil)

	resp, ok := srv.handle(context.Background(), request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	if !ok {
		t.Fatal("expected response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	tools, ok := result["tools"].([]ToolDefinition)
	if !ok || len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %v", result["tools"])
	}
}

func TestHandle_NotificationGetsNoResponse(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeEngine{}, nil)
	if _, ok := srv.handle(context.Background(), request{Method: "notifications/initialized"}); ok {
		t.Fatal("expected no response for notification")
	}
	resp, ok := srv.handle(context.Background(), request{ID: json.RawMessage(`2`), Method: "nope"})
	if !ok || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp)
	}
}

func TestToolCall_RecordEventsValidatesNames(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	srv := newTestServer(eng, nil)

	res := callTool(t, srv, "bot_record_events", map[string]any{"bot_id": "mochi", "events": []string{"hype_received", "morning"}})
	if res["isError"] != false {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(eng.events) != 2 || eng.events[0].Type != types.EventHypeReceived {
		t.Fatalf("unexpected queued events: %+v", eng.events)
	}

	res = callTool(t, srv, "bot_record_events", map[string]any{"bot_id": "mochi", "events": []string{"sneezed"}})
	if res["isError"] != true {
		t.Fatalf("expected unknown event to fail, got %+v", res)
	}
	if got, errs := srv.requests.Load(), srv.errors.Load(); got != 2 || errs != 1 {
		t.Fatalf("expected 2 requests and 1 tool error counted, got %d and %d", got, errs)
	}
}

func TestToolCall_RecordEngagementCountsAreIntegers(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeEngine{}, nil)

	var schema map[string]any
	for _, tool := range toolDefinitions() {
		if tool.Name == "bot_record_engagement" {
			schema = tool.InputSchema
		}
	}
	props := schema["properties"].(map[string]any)
	for _, field := range []string{"likes", "replies", "mentions"} {
		if got := props[field].(map[string]any)["type"]; got != "integer" {
			t.Fatalf("expected %s to be an integer, got %v", field, got)
		}
	}

	res := callTool(t, srv, "bot_record_engagement", map[string]any{"bot_id": "mochi", "likes": 3})
	if res["isError"] != false {
		t.Fatalf("expected success, got %+v", res)
	}
	res = callTool(t, srv, "bot_record_engagement", map[string]any{"bot_id": "mochi", "likes": 2.5})
	if res["isError"] != true {
		t.Fatalf("expected fractional likes to fail, got %+v", res)
	}
}

func TestToolCall_RelationshipRecord(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	srv := newTestServer(eng, nil)

	res := callTool(t, srv, "relationship_record", map[string]any{"from": "mochi", "to": "biscuit", "type": "beef", "delta": -0.3, "message": "grr"})
	if res["isError"] != false {
		t.Fatalf("expected success, got %+v", res)
	}
	if eng.interaction.Type != types.InteractionBeef || eng.interaction.Delta == nil || *eng.interaction.Delta != -0.3 {
		t.Fatalf("unexpected interaction: %+v", eng.interaction)
	}

	res = callTool(t, srv, "relationship_record", map[string]any{"from": "mochi", "type": "beef"})
	if res["isError"] != true {
		t.Fatalf("expected missing target to fail, got %+v", res)
	}
}

func TestToolCall_ContextAndDecide(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeEngine{}, nil)

	res := callTool(t, srv, "bot_context", map[string]any{"bot_id": "mochi"})
	content := res["content"].([]map[string]any)
	if !strings.Contains(content[0]["text"].(string), "feeling content") {
		t.Fatalf("expected mood prompt in output, got %v", content[0]["text"])
	}

	res = callTool(t, srv, "bot_context", map[string]any{"bot_id": "ghost"})
	if res["isError"] != true {
		t.Fatalf("expected unknown bot to fail, got %+v", res)
	}

	res = callTool(t, srv, "bot_decide", map[string]any{"bot_id": "mochi"})
	if dec, ok := res["structuredContent"].(rhythm.Decision); !ok || !dec.ShouldPost {
		t.Fatalf("unexpected decision: %+v", res["structuredContent"])
	}
}

func TestReadWriteFramedMessage(t *testing.T) {
	t.Parallel()
	resp := response{JSONRPC: "2.0", ID: 1, Result: map[string]any{"ok": true}}
	var buf bytes.Buffer
	if err := writeMessage(bufio.NewWriter(&buf), resp, wireModeFramed); err != nil {
		t.Fatalf("writeMessage() error = %v", err)
	}
	payload, mode, err := readMessage(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if mode != wireModeFramed {
		t.Fatalf("expected framed mode, got %v", mode)
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", got["jsonrpc"])
	}
}

func TestReadMessage_JSONLine(t *testing.T) {
	t.Parallel()
	raw := []byte("\n{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n")
	payload, mode, err := readMessage(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		t.Fatalf("readMessage() error = %v", err)
	}
	if mode != wireModeJSONLine {
		t.Fatalf("expected JSON-line mode, got %v", mode)
	}
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("json.Unmarshal(payload) error = %v", err)
	}
	if req.Method != "ping" {
		t.Fatalf("expected method ping, got %q", req.Method)
	}
}

func TestServe_JSONLineInitialize(t *testing.T) {
	t.Parallel()
	srv := newTestServer(&fakeEngine{}, nil)

	in := bytes.NewBufferString("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\",\"params\":{\"protocolVersion\":\"2024-11-05\"}}\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	line := bytes.TrimSpace(out.Bytes())
	if bytes.Contains(line, []byte("Content-Length:")) {
		t.Fatalf("expected JSON-line response, got framed output: %q", string(line))
	}
	var resp struct {
		Result struct {
			ServerInfo map[string]string `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("json.Unmarshal(response) error = %v", err)
	}
	if resp.Result.ServerInfo["name"] != "petpulse" {
		t.Fatalf("expected server name petpulse, got %v", resp.Result.ServerInfo)
	}
}

func TestServe_LogsRequestEvents(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	srv := newTestServer(&fakeEngine{}, sink)

	in := bytes.NewBufferString(
		"{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/call\",\"params\":{\"name\":\"bot_decide\",\"arguments\":{}}}\n" +
			"not json\n")
	var out bytes.Buffer
	if err := srv.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 request log rows, got %d", len(sink.rows))
	}
	got := sink.rows[0]
	if got.Method != "tools/call" || got.ToolName != "bot_decide" {
		t.Fatalf("unexpected log row: %+v", got)
	}
	if got.Success || !strings.Contains(got.ErrorText, "bot_id is required") {
		t.Fatalf("expected failed request for missing bot_id, got %+v", got)
	}
	if sink.rows[1].Method != "parse_error" || sink.rows[1].Success {
		t.Fatalf("expected parse error row, got %+v", sink.rows[1])
	}
}
