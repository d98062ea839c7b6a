// Package http implements the HTTP+SSE transport: GET /health for liveness,
// GET /sse for the server-push event stream, POST /rpc for synchronous
// JSON-RPC exchanges. Unlike stdio, handlers here run in parallel — each
// /rpc request is served on its own goroutine, and a client disconnect
// cancels the request context so in-flight upstream calls are aborted.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/odatamcp/bridge/internal/transport"
)

const (
	clientBufferSize  = 16
	keepaliveInterval = 15 * time.Second
)

// Transport serves the three HTTP endpoints on a single bind address.
type Transport struct {
	addr    string
	handler transport.Handler
	server  *http.Server
	verbose bool

	mu      sync.RWMutex
	clients map[string]*sseClient
	nextID  uint64
}

type sseClient struct {
	id     string
	events chan []byte
}

// New creates an HTTP+SSE transport bound to addr.
func New(addr string, handler transport.Handler, verbose bool) *Transport {
	return &Transport{
		addr:    addr,
		handler: handler,
		verbose: verbose,
		clients: make(map[string]*sseClient),
	}
}

// IsLocalhostAddr reports whether a bind address resolves to loopback only.
// Addresses like ":8080" bind every interface and are not local.
func IsLocalhostAddr(addr string) bool {
	if strings.HasPrefix(addr, ":") {
		return false
	}
	host := addr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		host = strings.Trim(addr[:idx], "[]")
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Start runs the HTTP server until the context is canceled.
func (t *Transport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/sse", t.handleSSE)
	mux.HandleFunc("/rpc", t.handleRPC)

	t.server = &http.Server{
		Addr:        t.addr,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return t.Close()
	case err := <-errChan:
		return err
	}
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSSE registers an event-stream client: a connection event carrying
// the client id first, then server-pushed messages, with keepalive pings in
// between so proxies do not reap the idle stream.
func (t *Transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := t.register()
	defer t.unregister(client.id)

	payload, _ := json.Marshal(map[string]string{"clientId": client.id})
	fmt.Fprintf(w, "event: connection\ndata: %s\n\n", payload)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-client.events:
			fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleRPC serves one synchronous JSON-RPC request. The request context is
// the client connection's: a disconnect propagates cancellation into the
// handler and from there into any upstream HTTP call.
func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg transport.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response, err := t.handler(r.Context(), &msg)
	if err != nil {
		response = &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &transport.Error{Code: -32603, Message: err.Error()},
		}
	}
	if response == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (t *Transport) register() *sseClient {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	client := &sseClient{
		id:     fmt.Sprintf("client-%d-%d", os.Getpid(), t.nextID),
		events: make(chan []byte, clientBufferSize),
	}
	t.clients[client.id] = client
	return client
}

func (t *Transport) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// WriteMessage broadcasts a server-initiated message to every connected SSE
// client. Clients with a full buffer miss the message; this channel is
// advisory (notifications), responses travel on /rpc.
func (t *Transport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, client := range t.clients {
		select {
		case client.events <- data:
		default:
			if t.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] SSE client %s buffer full, message dropped\n", id)
			}
		}
	}
	return nil
}

// Close shuts the HTTP server down gracefully.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}
