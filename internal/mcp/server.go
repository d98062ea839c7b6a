// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/odatamcp/bridge/internal/client"
	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/transport"
)

// Tool is one registered MCP tool.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler executes one tool call with validated arguments.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Server is the JSON-RPC dispatcher. The tool table is filled during
// startup and immutable once a transport starts; per-call state lives on
// the stack of each handler invocation.
type Server struct {
	name      string
	version   string
	sortTools bool

	mu          sync.RWMutex
	tools       map[string]*Tool
	toolOrder   []string
	handlers    map[string]ToolHandler
	schemas     map[string]*jsonschema.Schema
	transport   transport.Transport
	initialized bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a dispatcher. sortTools controls tools/list ordering.
func NewServer(name, version string, sortTools bool) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		name:      name,
		version:   version,
		sortTools: sortTools,
		tools:     make(map[string]*Tool),
		handlers:  make(map[string]ToolHandler),
		schemas:   make(map[string]*jsonschema.Schema),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddTool registers a tool with its handler. The input schema is compiled
// once here; a schema that does not compile is returned as an error and the
// tool is not registered.
func (s *Server) AddTool(tool *Tool, handler ToolHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("duplicate tool name: %s", tool.Name)
	}

	schema, err := compileSchema(tool.Name, tool.InputSchema)
	if err != nil {
		return err
	}

	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	s.schemas[tool.Name] = schema
	s.toolOrder = append(s.toolOrder, tool.Name)
	return nil
}

// Tools returns the registered tools in list order: alphabetical when
// sorting is on, registration order otherwise.
func (s *Server) Tools() []*Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := make([]string, len(s.toolOrder))
	copy(order, s.toolOrder)
	if s.sortTools {
		sort.Strings(order)
	}

	tools := make([]*Tool, 0, len(order))
	for _, name := range order {
		tools = append(tools, s.tools[name])
	}
	return tools
}

// SetTransport attaches the transport before Run.
func (s *Server) SetTransport(t transport.Transport) {
	s.transport = t
}

// Run starts the attached transport and blocks until it finishes.
func (s *Server) Run() error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	return s.transport.Start(s.ctx)
}

// Stop cancels the dispatcher context, which stops the transport.
func (s *Server) Stop() {
	s.cancel()
}

// HandleMessage dispatches one JSON-RPC message. The initialized notification
// returns a nil response; every other method gets a response.
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.JSONRPC != "2.0" {
		return s.errorResponse(msg.ID, -32600, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	var params map[string]interface{}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.errorResponse(msg.ID, -32700, "Parse error", err.Error()), nil
		}
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg.ID)
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	case "tools/list":
		return s.handleToolsList(msg.ID)
	case "tools/call":
		return s.handleToolsCall(ctx, msg.ID, params)
	case "ping":
		return s.response(msg.ID, map[string]interface{}{})
	case "resources/list":
		return s.response(msg.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return s.response(msg.ID, map[string]interface{}{"prompts": []interface{}{}})
	default:
		return s.errorResponse(msg.ID, -32601, "Method not found", msg.Method), nil
	}
}

func (s *Server) handleInitialize(id json.RawMessage) (*transport.Message, error) {
	return s.response(id, map[string]interface{}{
		"protocolVersion": constants.MCPProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false, "subscribe": false},
			"prompts":   map[string]interface{}{"listChanged": false},
		},
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	})
}

func (s *Server) handleToolsList(id json.RawMessage) (*transport.Message, error) {
	return s.response(id, map[string]interface{}{"tools": s.Tools()})
}

func (s *Server) handleToolsCall(ctx context.Context, id json.RawMessage, params map[string]interface{}) (*transport.Message, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return s.errorResponse(id, -32602, "Invalid params", "missing tool name"), nil
	}

	args, _ := params["arguments"].(map[string]interface{})

	s.mu.RLock()
	handler, exists := s.handlers[name]
	schema := s.schemas[name]
	s.mu.RUnlock()

	if !exists {
		return s.errorResponse(id, -32602, "Invalid params", fmt.Sprintf("tool not found: %s", name)), nil
	}

	if err := validateArgs(name, schema, args); err != nil {
		return s.errorResponse(id, -32602, "Invalid params", err.Error()), nil
	}

	result, err := handler(ctx, args)
	if err != nil {
		code, message := classifyError(name, err)
		return s.errorResponse(id, code, message, ""), nil
	}

	return s.response(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": result},
		},
	})
}

// classifyError maps handler errors to the stable JSON-RPC code space:
// argument problems and upstream 400/404/422 rejections are -32602; every
// other upstream or internal failure is -32603.
func classifyError(toolName string, err error) (int, string) {
	message := fmt.Sprintf("tool '%s' failed: %s", toolName, err.Error())

	switch e := err.(type) {
	case *ArgumentError:
		return -32602, message
	case *client.UpstreamError:
		if e.StatusCode == 400 || e.StatusCode == 404 || e.StatusCode == 422 {
			return -32602, message
		}
		return -32603, message
	default:
		return -32603, message
	}
}

// SendNotification pushes a server-initiated notification to the client.
func (s *Server) SendNotification(method string, params interface{}) error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.transport.WriteMessage(&transport.Message{
		JSONRPC: "2.0",
		Method:  method,
		Params:  data,
	})
}

func (s *Server) response(id json.RawMessage, result interface{}) (*transport.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Result:  data,
	}, nil
}

func (s *Server) errorResponse(id json.RawMessage, code int, message, detail string) *transport.Message {
	e := &transport.Error{Code: code, Message: message}
	if detail != "" {
		data, _ := json.Marshal(detail)
		e.Data = data
	}
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   e,
	}
}

// normalizeID maps a null or absent id to 0; some clients reject responses
// with a null id.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}
