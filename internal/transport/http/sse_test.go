package http

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odatamcp/bridge/internal/transport"
)

func TestIsLocalhostAddr(t *testing.T) {
	tests := []struct {
		addr     string
		expected bool
	}{
		{"localhost:8080", true},
		{"127.0.0.1:8080", true},
		{"[::1]:8080", true},
		{":8080", false}, // all interfaces
		{"0.0.0.0:8080", false},
		{"192.168.1.5:8080", false},
		{"example.com:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhostAddr(tt.addr))
		})
	}
}

func echoHandler(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	result, _ := json.Marshal(map[string]string{"method": msg.Method})
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}, nil
}

func TestRPCEndpoint(t *testing.T) {
	tr := New("localhost:0", echoHandler, false)
	server := httptest.NewServer(nethttp.HandlerFunc(tr.handleRPC))
	defer server.Close()

	body := `{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`
	resp, err := nethttp.Post(server.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var msg transport.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Nil(t, msg.Error)
	assert.Contains(t, string(msg.Result), "tools/list")
}

func TestRPCRejectsGet(t *testing.T) {
	tr := New("localhost:0", echoHandler, false)
	server := httptest.NewServer(nethttp.HandlerFunc(tr.handleRPC))
	defer server.Close()

	resp, err := nethttp.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, nethttp.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	tr := New("localhost:0", echoHandler, false)
	server := httptest.NewServer(nethttp.HandlerFunc(tr.handleHealth))
	defer server.Close()

	resp, err := nethttp.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ok")
}

func TestSSEConnectionEvent(t *testing.T) {
	tr := New("localhost:0", echoHandler, false)
	server := httptest.NewServer(nethttp.HandlerFunc(tr.handleSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// first frame is the connection event with the client id
	buf := make([]byte, 1024)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	frame := string(buf[:n])
	assert.Contains(t, frame, "event: connection")
	assert.Contains(t, frame, "clientId")
}
