// Package stdio implements the line-delimited stdio transport: one JSON-RPC
// message per line on stdin, one response per line on stdout. Processing is
// strictly serial — one in-flight request at a time — and all diagnostics go
// to stderr so stdout stays a clean protocol channel.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/odatamcp/bridge/internal/debug"
	"github.com/odatamcp/bridge/internal/transport"
)

// Transport reads NDJSON requests from stdin and writes responses to stdout.
type Transport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	handler transport.Handler
	tracer  *debug.TraceLogger
}

// New creates a stdio transport bound to the process streams.
func New(handler transport.Handler) *Transport {
	return &Transport{
		reader:  bufio.NewReader(os.Stdin),
		writer:  os.Stdout,
		handler: handler,
	}
}

// SetTracer attaches the --trace-mcp logger.
func (t *Transport) SetTracer(tracer *debug.TraceLogger) {
	t.tracer = tracer
}

// Start blocks reading requests until EOF or context cancellation.
func (t *Transport) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			// Malformed line; skip it rather than dying mid-session.
			continue
		}

		if msg.Method == "" || t.handler == nil {
			continue
		}

		response, err := t.handler(ctx, msg)
		if err != nil {
			response = &transport.Message{
				JSONRPC: "2.0",
				ID:      nonNullID(msg.ID),
				Error:   &transport.Error{Code: -32603, Message: err.Error()},
			}
		}
		if response != nil {
			t.WriteMessage(response)
		}
	}
}

func (t *Transport) readMessage() (*transport.Message, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	if t.tracer != nil {
		t.tracer.Log("TRANSPORT_IN", "raw message", map[string]interface{}{
			"raw": string(line), "size": len(line),
		})
	}

	var msg transport.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		if t.tracer != nil {
			t.tracer.LogError("unmarshal failed", err, string(line))
		}
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// WriteMessage writes one message as a single line. The mutex keeps each
// line atomic should a notification race a response.
func (t *Transport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if t.tracer != nil {
		t.tracer.Log("TRANSPORT_OUT", "raw message", map[string]interface{}{
			"raw": string(data), "size": len(data),
		})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close is a no-op; the process streams outlive the transport.
func (t *Transport) Close() error {
	return nil
}

func nonNullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}
