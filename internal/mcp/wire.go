package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Clients either frame messages LSP-style with a Content-Length header or
// send one JSON object per line. Replies mirror the request's framing.
type wireMode int

const (
	wireModeFramed wireMode = iota
	wireModeJSONLine
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

func errorResponse(id any, code int, msg string, data any) response {
	return response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

func decodeID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func writeMessage(w *bufio.Writer, msg response, mode wireMode) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if mode == wireModeJSONLine {
		payload = append(payload, '\n')
	} else if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func readMessage(r *bufio.Reader) ([]byte, wireMode, error) {
	mode, err := detectWireMode(r)
	if err != nil {
		return nil, wireModeFramed, err
	}
	if mode == wireModeJSONLine {
		payload, err := readJSONLine(r)
		return payload, mode, err
	}
	payload, err := readFramed(r)
	return payload, mode, err
}

func detectWireMode(r *bufio.Reader) (wireMode, error) {
	for {
		b, err := r.Peek(1)
		if err != nil {
			return wireModeFramed, err
		}
		if !unicode.IsSpace(rune(b[0])) {
			break
		}
		_, _ = r.ReadByte()
	}
	peek, err := r.Peek(len("content-length:"))
	if err != nil && !errors.Is(err, io.EOF) {
		return wireModeFramed, err
	}
	if strings.EqualFold(string(peek), "content-length:") {
		return wireModeFramed, nil
	}
	return wireModeJSONLine, nil
}

func readJSONLine(r *bufio.Reader) ([]byte, error) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
	}
}

func readFramed(r *bufio.Reader) ([]byte, error) {
	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length: %w", err)
		}
		contentLength = n
	}
	if contentLength <= 0 {
		return nil, errors.New("missing or invalid Content-Length")
	}
	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
