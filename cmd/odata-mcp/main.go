// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/odatamcp/bridge/internal/bridge"
	"github.com/odatamcp/bridge/internal/config"
	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/debug"
	"github.com/odatamcp/bridge/internal/transport"
	httptransport "github.com/odatamcp/bridge/internal/transport/http"
	"github.com/odatamcp/bridge/internal/transport/stdio"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "odata-mcp [service-url]",
	Short: "Bridge an OData v2 service into MCP tools",
	Long: `Bridge an OData v2 service into MCP tools.

Reads the service $metadata, projects one tool per entity-set capability and
per function import, and serves them over stdio (default) or HTTP+SSE.

Examples:
  odata-mcp https://services.odata.org/V2/Northwind/Northwind.svc/
  odata-mcp --service https://host/sap/opu/odata/sap/ZEXAMPLE_SRV/ --user admin --password secret
  odata-mcp --cookie-file cookies.txt https://host/odata/Service/
  odata-mcp --read-only https://host/odata/Service/
  odata-mcp --disable cud https://host/odata/Service/     # drop create/update/delete
  odata-mcp --enable r https://host/odata/Service/        # reads only (search, filter, get)`,
	Args: cobra.MaximumNArgs(1),
	RunE: run,
}

func init() {
	godotenv.Load()

	cfg = &config.Config{}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ServiceURL, "service", "", "OData service URL (overrides positional argument and ODATA_SERVICE_URL)")

	flags.StringVarP(&cfg.Username, "user", "u", "", "Username for basic authentication (ODATA_USERNAME)")
	flags.StringVarP(&cfg.Password, "password", "p", "", "Password for basic authentication (ODATA_PASSWORD)")
	flags.StringVar(&cfg.CookieFile, "cookie-file", "", "Path to a cookie file (Netscape format or key=value lines)")
	flags.StringVar(&cfg.CookieString, "cookie-string", "", "Cookie string: key1=val1; key2=val2")

	flags.StringVar(&cfg.ToolPrefix, "tool-prefix", "", "Custom tool name prefix (used with --no-postfix)")
	flags.StringVar(&cfg.ToolPostfix, "tool-postfix", "", "Custom tool name postfix (default: _for_<service-id>)")
	flags.BoolVar(&cfg.NoPostfix, "no-postfix", false, "Place the service identifier before the tool name instead of after")
	flags.BoolVar(&cfg.ToolShrink, "tool-shrink", false, "Shorten long tool names deterministically")

	flags.StringVar(&cfg.Entities, "entities", "", "Comma-separated entity set allowlist, supports * and ? wildcards")
	flags.StringVar(&cfg.Functions, "functions", "", "Comma-separated function import allowlist, supports * and ? wildcards")

	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose diagnostics on stderr")
	flags.BoolVar(&cfg.SortTools, "sort-tools", true, "List tools alphabetically")
	flags.Bool("no-sort-tools", false, "Keep tools in registration order")
	flags.BoolVar(&cfg.Trace, "trace", false, "Print the tool table and exit")
	flags.BoolVar(&cfg.TraceMCP, "trace-mcp", false, "Append RPC messages to a trace file in the temp directory")

	flags.BoolVar(&cfg.PaginationHints, "pagination-hints", false, "Attach suggested_next_call blocks to paged results")
	flags.BoolVar(&cfg.LegacyDates, "legacy-dates", true, "Convert /Date(ms)/ values to ISO 8601 and back")
	flags.BoolVar(&cfg.NoLegacyDates, "no-legacy-dates", false, "Disable legacy date conversion")
	flags.BoolVar(&cfg.VerboseErrors, "verbose-errors", false, "Include request URL, method and masked headers in errors")
	flags.BoolVar(&cfg.ResponseMetadata, "response-metadata", false, "Keep __metadata blocks in responses")
	flags.IntVar(&cfg.MaxResponseSize, "max-response-size", constants.DefaultMaxResponseSize, "Maximum serialized response size in bytes")
	flags.IntVar(&cfg.MaxItems, "max-items", constants.DefaultMaxItems, "Maximum number of items per response")

	flags.BoolVar(&cfg.ReadOnly, "read-only", false, "Hide all modifying operations including function imports")
	flags.BoolVar(&cfg.ReadOnly, "ro", false, "Shorthand for --read-only")
	flags.BoolVar(&cfg.ReadOnlyButFunctions, "read-only-but-functions", false, "Hide create/update/delete but keep function imports")
	flags.BoolVar(&cfg.ReadOnlyButFunctions, "robf", false, "Shorthand for --read-only-but-functions")

	flags.StringVar(&cfg.EnableOps, "enable", "", "Enable only these operation codes (C,S,F,G,U,D,A; R expands to SFG)")
	flags.StringVar(&cfg.DisableOps, "disable", "", "Disable these operation codes (C,S,F,G,U,D,A; R expands to SFG)")

	flags.StringVar(&cfg.HintsFile, "hints-file", "", "Path to a hints JSON file (default: hints.json next to the binary)")
	flags.StringVar(&cfg.Hint, "hint", "", "Hint JSON or note injected into the service info response")
	flags.StringVar(&cfg.InfoToolName, "info-tool-name", "", "Base name for the service info tool")

	flags.StringVar(&cfg.Transport, "transport", "stdio", "Transport: stdio or http")
	flags.StringVar(&cfg.HTTPAddr, "http-addr", "localhost:8080", "HTTP bind address (localhost-only unless overridden)")
	flags.BoolVar(&cfg.AllowUnsafeBind, "i-am-security-expert-i-know-what-i-am-doing", false, "DANGEROUS: allow binding the unauthenticated HTTP transport to non-localhost addresses")

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("ODATA")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	if noSort, _ := cmd.Flags().GetBool("no-sort-tools"); noSort {
		cfg.SortTools = false
	}
	if cfg.NoLegacyDates {
		cfg.LegacyDates = false
	}

	// Priority: --service flag, positional argument, environment.
	if cfg.ServiceURL == "" && len(args) > 0 {
		cfg.ServiceURL = args[0]
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = firstEnv("SERVICE_URL", "URL")
	}
	if cfg.ServiceURL == "" {
		return fmt.Errorf("no OData service URL: use --service, a positional argument, or ODATA_SERVICE_URL/ODATA_URL")
	}

	if err := resolveAuth(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cfg.AllowedEntities = splitCSV(cfg.Entities)
	cfg.AllowedFunctions = splitCSV(cfg.Functions)

	if cfg.Verbose {
		if summary := cfg.OperationFilterSummary(); summary != "" {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Operation filter: %s\n", summary)
		}
		if cfg.IsReadOnly() {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Read-only mode active\n")
		}
	}

	b, err := bridge.New(cfg)
	if err != nil {
		return err
	}

	if cfg.Trace {
		return printTrace(b)
	}

	var tracer *debug.TraceLogger
	if cfg.TraceMCP {
		tracer, err = debug.NewTraceLogger()
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] Trace logger unavailable: %v\n", err)
		} else {
			defer tracer.Close()
			fmt.Fprintf(os.Stderr, "[TRACE] RPC trace file: %s\n", tracer.Filename())
		}
	}

	server := b.Server()
	handler := func(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
		return server.HandleMessage(ctx, msg)
	}

	var trans transport.Transport
	switch cfg.Transport {
	case "http", "sse":
		if !httptransport.IsLocalhostAddr(cfg.HTTPAddr) {
			if !cfg.AllowUnsafeBind {
				fmt.Fprintf(os.Stderr, "The HTTP transport has no authentication and is restricted to localhost.\n")
				fmt.Fprintf(os.Stderr, "Address %q is not localhost; use --http-addr localhost:8080, or pass\n", cfg.HTTPAddr)
				fmt.Fprintf(os.Stderr, "--i-am-security-expert-i-know-what-i-am-doing to bind it anyway.\n")
				return fmt.Errorf("refusing to bind unauthenticated HTTP transport to %s", cfg.HTTPAddr)
			}
			fmt.Fprintf(os.Stderr, "[WARN] Binding the unauthenticated HTTP transport to %s; anyone who can reach it has full access to %s\n",
				cfg.HTTPAddr, cfg.ServiceURL)
		}
		if cfg.Verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] HTTP/SSE transport on %s\n", cfg.HTTPAddr)
		}
		trans = httptransport.New(cfg.HTTPAddr, handler, cfg.Verbose)
	case "stdio":
		fallthrough
	default:
		stdioTrans := stdio.New(handler)
		if tracer != nil {
			stdioTrans.SetTracer(tracer)
		}
		trans = stdioTrans
	}

	server.SetTransport(trans)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- b.Run()
	}()

	select {
	case sig := <-sigChan:
		fmt.Fprintf(os.Stderr, "\n%s received, shutting down\n", sig)
		b.Stop()
		return nil
	case err := <-errChan:
		return err
	}
}

// resolveAuth fills credentials from the environment where flags left gaps
// and loads cookie material. Flag-level mutual exclusion is checked by
// Config.Validate.
func resolveAuth(cfg *config.Config) error {
	if cfg.Username == "" && cfg.CookieFile == "" && cfg.CookieString == "" {
		cfg.Username = firstEnv("USERNAME", "USER")
		cfg.Password = firstEnv("PASSWORD", "PASS")
		if cfg.Username == "" {
			cfg.CookieFile = firstEnv("COOKIE_FILE")
			if cfg.CookieFile == "" {
				cfg.CookieString = firstEnv("COOKIE_STRING")
			}
		}
	}

	if cfg.CookieFile != "" {
		cookies, err := loadCookieFile(cfg.CookieFile)
		if err != nil {
			return fmt.Errorf("failed to load cookie file: %w", err)
		}
		cfg.Cookies = cookies
	} else if cfg.CookieString != "" {
		cfg.Cookies = parseCookieString(cfg.CookieString)
		if len(cfg.Cookies) == 0 {
			return fmt.Errorf("no cookies parsed from --cookie-string")
		}
	}

	if cfg.Verbose {
		switch {
		case cfg.HasBasicAuth():
			fmt.Fprintf(os.Stderr, "[VERBOSE] Basic authentication as %s\n", cfg.Username)
		case cfg.HasCookieAuth():
			fmt.Fprintf(os.Stderr, "[VERBOSE] Cookie authentication with %d cookies (TLS verification disabled)\n", len(cfg.Cookies))
		default:
			fmt.Fprintf(os.Stderr, "[VERBOSE] No credentials configured, attempting anonymous access\n")
		}
	}

	return nil
}

// loadCookieFile reads Netscape-format cookie files, falling back to plain
// key=value lines.
func loadCookieFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cookies := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Split(line, "\t"); len(fields) >= 7 {
			cookies[fields[5]] = fields[6]
			continue
		}
		if name, value, found := strings.Cut(line, "="); found {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies found in %s", path)
	}
	return cookies, nil
}

func parseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		if name, value, found := strings.Cut(strings.TrimSpace(pair), "="); found {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := viper.GetString(key); value != "" {
			return value
		}
	}
	return ""
}

func printTrace(b *bridge.Bridge) error {
	data, err := json.MarshalIndent(b.TraceInfo(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace info: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
