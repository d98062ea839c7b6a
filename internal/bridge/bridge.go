// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

// Package bridge wires the pieces together: it loads service metadata,
// projects the tool catalog, and hands tool calls to the request engine and
// response normalizer.
package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/odatamcp/bridge/internal/client"
	"github.com/odatamcp/bridge/internal/config"
	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/hint"
	"github.com/odatamcp/bridge/internal/mcp"
	"github.com/odatamcp/bridge/internal/models"
	"github.com/odatamcp/bridge/internal/normalize"
)

// Bridge owns the immutable post-init state: metadata, tool table, the HTTP
// session and the normalizer configuration.
type Bridge struct {
	config     *config.Config
	client     *client.Client
	server     *mcp.Server
	metadata   *models.ServiceMetadata
	normalizer *normalize.Normalizer
	hints      *hint.Manager
	serviceID  string
	tools      map[string]*models.ToolInfo

	mu      sync.Mutex
	running bool
}

// New builds a bridge: client from the configured auth variant, metadata
// load (fatal on failure), hint loading, and tool projection.
func New(cfg *config.Config) (*Bridge, error) {
	var auth client.Auth
	switch {
	case cfg.HasBasicAuth():
		auth = client.BasicAuth{User: cfg.Username, Pass: cfg.Password}
	case cfg.HasCookieAuth():
		auth = client.CookieAuth{Cookies: cfg.Cookies}
	}

	odataClient := client.New(cfg.ServiceURL, auth, client.Options{
		Verbose:       cfg.Verbose,
		VerboseErrors: cfg.VerboseErrors,
		Timeout:       constants.DefaultTimeout * time.Second,
	})

	hints := hint.NewManager()
	if err := hints.LoadFile(cfg.HintsFile); err != nil {
		if cfg.HintsFile != "" {
			return nil, err
		}
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Hints not loaded: %v\n", err)
		}
	}
	if cfg.Hint != "" {
		if err := hints.SetCLIHint(cfg.Hint); err != nil {
			return nil, fmt.Errorf("invalid --hint value: %w", err)
		}
	}

	b := &Bridge{
		config:    cfg,
		client:    odataClient,
		server:    mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion, cfg.SortTools),
		hints:     hints,
		serviceID: DeriveServiceID(cfg.ServiceURL),
		tools:     make(map[string]*models.ToolInfo),
	}

	meta, err := odataClient.FetchMetadata(context.Background())
	if err != nil {
		return nil, err
	}
	b.metadata = meta

	b.normalizer = &normalize.Normalizer{
		Meta: meta,
		Opts: normalize.Options{
			MaxItems:        cfg.MaxItems,
			MaxResponseSize: cfg.MaxResponseSize,
			LegacyDates:     cfg.LegacyDates,
			KeepMetadata:    cfg.ResponseMetadata,
			PaginationHints: cfg.PaginationHints,
		},
	}

	if err := b.generateTools(); err != nil {
		return nil, fmt.Errorf("failed to project tools: %w", err)
	}

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Projected %d tools for %s (service id %s)\n",
			len(b.tools), cfg.ServiceURL, b.serviceID)
	}

	return b, nil
}

// Server exposes the dispatcher so the command layer can attach a transport.
func (b *Bridge) Server() *mcp.Server {
	return b.server
}

// Run starts the dispatcher on its transport and blocks.
func (b *Bridge) Run() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bridge is already running")
	}
	b.running = true
	b.mu.Unlock()

	return b.server.Run()
}

// Stop shuts the dispatcher down.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	b.server.Stop()
}

// TraceInfo assembles everything --trace prints.
func (b *Bridge) TraceInfo() *models.TraceInfo {
	naming := "Postfix"
	if !b.config.UsePostfix() {
		naming = "Prefix"
	}

	readOnlyMode := ""
	if b.config.ReadOnly {
		readOnlyMode = "Full read-only (no modifying operations)"
	} else if b.config.ReadOnlyButFunctions {
		readOnlyMode = "Read-only except function imports"
	}

	registered := make([]models.ToolInfo, 0, len(b.tools))
	for _, tool := range b.server.Tools() {
		if info, ok := b.tools[tool.Name]; ok {
			registered = append(registered, *info)
		}
	}

	return &models.TraceInfo{
		ServiceURL:      b.config.ServiceURL,
		MCPName:         constants.MCPServerName,
		ToolNaming:      naming,
		ToolPrefix:      b.config.ToolPrefix,
		ToolPostfix:     b.config.ToolPostfix,
		ToolShrink:      b.config.ToolShrink,
		SortTools:       b.config.SortTools,
		EntityFilter:    b.config.AllowedEntities,
		FunctionFilter:  b.config.AllowedFunctions,
		OperationFilter: b.config.OperationFilterSummary(),
		Authentication:  b.client.AuthDescription(),
		ReadOnlyMode:    readOnlyMode,
		MetadataSummary: models.MetadataSummary{
			EntityTypes:     len(b.metadata.EntityTypes),
			EntitySets:      len(b.metadata.EntitySets),
			FunctionImports: len(b.metadata.FunctionImports),
		},
		RegisteredTools: registered,
		TotalTools:      len(registered),
	}
}
