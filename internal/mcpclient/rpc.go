package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

func (e *rpcError) callerError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}

type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type     string  `json:"type"`
	Text     *string `json:"text"`
	MimeType *string `json:"mimeType"`
}

func (c contentItem) text() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

func decodeToolCallResult(raw json.RawMessage) (CallResponse, error) {
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallResponse{}, err
	}
	return normalizeToolResult(result)
}

// normalizeToolResult flattens an MCP tools/call result's first content
// block into a single JSON payload, tagging it Structured when the server
// marked it application/json (spec.md §6.1's callTool primitive returns an
// opaque JSON result; this is where that normalization happens).
func normalizeToolResult(result toolsCallResult) (CallResponse, error) {
	if len(result.Content) == 0 {
		return CallResponse{}, errors.New("empty MCP response")
	}
	item := result.Content[0]
	var payload json.RawMessage
	var structured json.RawMessage
	if item.Text != nil {
		textBytes := []byte(*item.Text)
		if json.Valid(textBytes) {
			payload = append(json.RawMessage(nil), textBytes...)
		} else {
			marshaled, err := json.Marshal(*item.Text)
			if err != nil {
				return CallResponse{}, err
			}
			payload = marshaled
		}
		if item.MimeType != nil && *item.MimeType == "application/json" && json.Valid(textBytes) {
			structured = append(json.RawMessage(nil), textBytes...)
		}
	}
	if len(payload) == 0 {
		text := item.text()
		if text == "" {
			return CallResponse{}, errors.New("tool returned no content")
		}
		marshaled, err := json.Marshal(text)
		if err != nil {
			return CallResponse{}, err
		}
		payload = marshaled
	}
	if structured == nil && json.Valid(payload) {
		structured = append(json.RawMessage(nil), payload...)
	}
	return CallResponse{Result: payload, Structured: structured}, nil
}

// readFrame reads one LSP-style Content-Length framed JSON-RPC message.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			val := strings.TrimSpace(after)
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	if length < 0 {
		return nil, errors.New("content-length header missing")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

// ToolInfo describes one tool an MCP server advertises via tools/list, the
// second assumed external primitive alongside callTool (spec.md §1, §6).
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

// injectTraceContext propagates the active OpenTelemetry trace context into
// carrier, whether that's an HTTP header set or a JSON-RPC params map, so a
// tool call proxied to an MCP server can be correlated with the
// tool_start/tool_end pair the gateway records for it.
func injectTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	if ctx == nil || carrier == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// injectTraceHeaders carries trace context over HTTP transports, which have
// a native header channel.
func injectTraceHeaders(ctx context.Context, header http.Header) {
	injectTraceContext(ctx, propagation.HeaderCarrier(header))
}

// addTraceMeta carries trace context inside the request by stamping it onto
// the tools/call params as "_meta". Both callers use it: the stdio
// transport, which has no header channel, and the HTTP transport, which
// also sends the same context as headers.
func addTraceMeta(ctx context.Context, params map[string]any) {
	if params == nil {
		return
	}
	carrier := propagation.MapCarrier{}
	injectTraceContext(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	meta := make(map[string]string, len(carrier))
	for k, v := range carrier {
		meta[k] = v
	}
	params["_meta"] = meta
}
