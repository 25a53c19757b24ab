// Package mcp exposes the engine to agent collaborators as MCP tools over
// stdio JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/petpulse/internal/orchestrator"
	"github.com/xiy/petpulse/internal/rhythm"
	"github.com/xiy/petpulse/internal/store"
	"github.com/xiy/petpulse/pkg/types"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"
)

// Engine is the subset of the orchestrator the tools call.
type Engine interface {
	Context(ctx context.Context, botID string) (orchestrator.BotContext, error)
	RecordEvents(ctx context.Context, botID string, events []types.MoodEvent) (int, error)
	RecordEngagement(ctx context.Context, botID string, likes, replies, mentions int, postedWithoutResponse bool) (int, error)
	RecordInteraction(ctx context.Context, in orchestrator.Interaction) (types.RelationshipData, error)
	RelationshipContext(ctx context.Context, selfID, otherID string) (string, error)
	Decide(ctx context.Context, botID string) (rhythm.Decision, error)
}

// RequestLogSink receives summarized MCP request events.
type RequestLogSink interface {
	InsertMCPRequestLog(ctx context.Context, rec store.MCPRequestLog) error
}

// Server handles MCP JSON-RPC messages over stdio.
type Server struct {
	engine  Engine
	name    string
	version string
	logger  *log.Logger
	sink    RequestLogSink

	requests atomic.Uint64
	errors   atomic.Uint64
}

// NewServer creates an MCP server. sink may be nil.
func NewServer(engine Engine, name, version string, logger *log.Logger, sink RequestLogSink) *Server {
	return &Server{engine: engine, name: name, version: version, logger: logger, sink: sink}
}

// Serve reads requests from in until EOF or ctx is done.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	br := bufio.NewReader(in)
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	defer func() {
		s.logger.Info("MCP server stopped", "requests", s.requests.Load(), "tool_errors", s.errors.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, mode, err := readMessage(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("invalid JSON-RPC request", "error", err)
			resp := errorResponse(nil, codeParseError, "parse error", err.Error())
			s.recordRequest(ctx, request{Method: "parse_error"}, resp, 0)
			if err := writeMessage(bw, resp, mode); err != nil {
				return err
			}
			continue
		}

		started := time.Now()
		resp, shouldRespond := s.handle(ctx, req)
		s.recordRequest(ctx, req, resp, time.Since(started))
		if !shouldRespond {
			continue
		}
		if err := writeMessage(bw, resp, mode); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) (response, bool) {
	s.requests.Add(1)

	hasID := len(req.ID) > 0
	id := decodeID(req.ID)

	switch req.Method {
	case "notifications/initialized":
		return response{}, false
	case "initialize":
		var p struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		_ = json.Unmarshal(req.Params, &p)
		pv := strings.TrimSpace(p.ProtocolVersion)
		if pv == "" {
			pv = protocolVersion
		}
		return response{JSONRPC: jsonRPCVersion, ID: id, Result: map[string]any{
			"protocolVersion": pv,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}}, hasID
	case "ping":
		return response{JSONRPC: jsonRPCVersion, ID: id, Result: map[string]any{}}, hasID
	case "tools/list":
		return response{JSONRPC: jsonRPCVersion, ID: id, Result: map[string]any{"tools": toolDefinitions()}}, hasID
	case "tools/call":
		res, err := s.handleToolCall(ctx, req.Params)
		if err != nil {
			s.errors.Add(1)
			return response{JSONRPC: jsonRPCVersion, ID: id, Result: map[string]any{
				"content": []map[string]any{{"type": "text", "text": err.Error()}},
				"isError": true,
			}}, hasID
		}
		return response{JSONRPC: jsonRPCVersion, ID: id, Result: res}, hasID
	default:
		if !hasID {
			return response{}, false
		}
		return errorResponse(id, codeMethodNotFound, "method not found", req.Method), true
	}
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (map[string]any, error) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}
	if len(p.Arguments) == 0 {
		p.Arguments = json.RawMessage(`{}`)
	}

	switch p.Name {
	case "bot_context":
		var in botArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "bot_id", in.BotID); err != nil {
			return nil, err
		}
		bc, err := s.engine.Context(ctx, in.BotID)
		if err != nil {
			return nil, err
		}
		return toolSuccess(bc)
	case "bot_record_events":
		var in recordEventsArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "bot_id", in.BotID); err != nil {
			return nil, err
		}
		events := make([]types.MoodEvent, 0, len(in.Events))
		for _, raw := range in.Events {
			t, err := types.ParseMoodEventType(raw)
			if err != nil {
				return nil, err
			}
			events = append(events, types.MoodEvent{Type: t})
		}
		n, err := s.engine.RecordEvents(ctx, in.BotID, events)
		if err != nil {
			return nil, err
		}
		return toolSuccess(map[string]any{"bot_id": in.BotID, "queued": n})
	case "bot_record_engagement":
		var in engagementArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "bot_id", in.BotID); err != nil {
			return nil, err
		}
		n, err := s.engine.RecordEngagement(ctx, in.BotID, in.Likes, in.Replies, in.Mentions, in.PostedWithoutResponse)
		if err != nil {
			return nil, err
		}
		return toolSuccess(map[string]any{"bot_id": in.BotID, "queued": n})
	case "relationship_record":
		var in relationshipRecordArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "from", in.From); err != nil {
			return nil, err
		}
		if err := required(p.Name, "to", in.To); err != nil {
			return nil, err
		}
		t, err := types.ParseInteractionType(in.Type)
		if err != nil {
			return nil, err
		}
		rel, err := s.engine.RecordInteraction(ctx, orchestrator.Interaction{
			From:    in.From,
			To:      in.To,
			Type:    t,
			Delta:   in.Delta,
			Message: in.Message,
		})
		if err != nil {
			return nil, err
		}
		return toolSuccess(rel)
	case "relationship_context":
		var in relationshipContextArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "self", in.Self); err != nil {
			return nil, err
		}
		if err := required(p.Name, "other", in.Other); err != nil {
			return nil, err
		}
		text, err := s.engine.RelationshipContext(ctx, in.Self, in.Other)
		if err != nil {
			return nil, err
		}
		return toolSuccess(map[string]any{"self": in.Self, "other": in.Other, "context": text})
	case "bot_decide":
		var in botArgs
		if err := decodeArgs(p.Name, p.Arguments, &in); err != nil {
			return nil, err
		}
		if err := required(p.Name, "bot_id", in.BotID); err != nil {
			return nil, err
		}
		dec, err := s.engine.Decide(ctx, in.BotID)
		if err != nil {
			return nil, err
		}
		return toolSuccess(dec)
	default:
		return nil, fmt.Errorf("unknown tool %q", p.Name)
	}
}

type botArgs struct {
	BotID string `json:"bot_id"`
}

type recordEventsArgs struct {
	BotID  string   `json:"bot_id"`
	Events []string `json:"events"`
}

type engagementArgs struct {
	BotID                 string `json:"bot_id"`
	Likes                 int    `json:"likes"`
	Replies               int    `json:"replies"`
	Mentions              int    `json:"mentions"`
	PostedWithoutResponse bool   `json:"posted_without_response"`
}

type relationshipRecordArgs struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Type    string   `json:"type"`
	Delta   *float64 `json:"delta,omitempty"`
	Message string   `json:"message"`
}

type relationshipContextArgs struct {
	Self  string `json:"self"`
	Other string `json:"other"`
}

func decodeArgs(tool string, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", tool, err)
	}
	return nil
}

func required(tool, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s: %s is required", tool, field)
	}
	return nil
}

func toolSuccess(v any) (map[string]any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":           []map[string]any{{"type": "text", "text": string(b)}},
		"structuredContent": v,
		"isError":           false,
	}, nil
}

func (s *Server) recordRequest(ctx context.Context, req request, resp response, duration time.Duration) {
	if s.sink == nil {
		return
	}
	rec := store.MCPRequestLog{
		Method:     strings.TrimSpace(req.Method),
		ToolName:   toolNameFromParams(req.Method, req.Params),
		Success:    responseSuccessful(resp),
		ErrorText:  responseErrorText(resp),
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if rec.Method == "" {
		rec.Method = "unknown"
	}
	if err := s.sink.InsertMCPRequestLog(ctx, rec); err != nil {
		s.logger.Warn("failed to persist MCP request log", "error", err)
	}
}

func toolNameFromParams(method string, params json.RawMessage) string {
	if method != "tools/call" || len(params) == 0 {
		return ""
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return ""
	}
	return strings.TrimSpace(in.Name)
}

func responseSuccessful(resp response) bool {
	return responseErrorText(resp) == ""
}

func responseErrorText(resp response) string {
	if resp.Error != nil {
		return strings.TrimSpace(resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return ""
	}
	if isError, _ := result["isError"].(bool); !isError {
		return ""
	}
	content, _ := result["content"].([]map[string]any)
	if len(content) > 0 {
		if text, _ := content[0]["text"].(string); strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return "tool call failed"
}
