package config

import (
	"fmt"
	"strings"
)

// Config holds every option of the bridge, populated from flags and
// environment by the command layer.
type Config struct {
	// Service
	ServiceURL string `mapstructure:"service_url"`

	// Authentication
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	CookieFile   string `mapstructure:"cookie_file"`
	CookieString string `mapstructure:"cookie_string"`
	Cookies      map[string]string

	// Tool naming
	ToolPrefix  string `mapstructure:"tool_prefix"`
	ToolPostfix string `mapstructure:"tool_postfix"`
	NoPostfix   bool   `mapstructure:"no_postfix"`
	ToolShrink  bool   `mapstructure:"tool_shrink"`

	// Entity and function filtering
	Entities         string `mapstructure:"entities"`
	Functions        string `mapstructure:"functions"`
	AllowedEntities  []string
	AllowedFunctions []string

	// Output and debugging
	Verbose   bool `mapstructure:"verbose"`
	SortTools bool `mapstructure:"sort_tools"`
	Trace     bool `mapstructure:"trace"`
	TraceMCP  bool `mapstructure:"trace_mcp"`

	// Response shaping
	PaginationHints  bool `mapstructure:"pagination_hints"`
	LegacyDates      bool `mapstructure:"legacy_dates"`
	NoLegacyDates    bool `mapstructure:"no_legacy_dates"`
	VerboseErrors    bool `mapstructure:"verbose_errors"`
	ResponseMetadata bool `mapstructure:"response_metadata"`
	MaxResponseSize  int  `mapstructure:"max_response_size"`
	MaxItems         int  `mapstructure:"max_items"`

	// Read-only modes
	ReadOnly             bool `mapstructure:"read_only"`
	ReadOnlyButFunctions bool `mapstructure:"read_only_but_functions"`

	// Operation filtering over the C/S/F/G/U/D/A alphabet (R expands to SFG)
	EnableOps  string `mapstructure:"enable"`
	DisableOps string `mapstructure:"disable"`
	enabledOps map[rune]bool

	// Hints
	HintsFile string `mapstructure:"hints_file"`
	Hint      string `mapstructure:"hint"`

	// Info tool
	InfoToolName string `mapstructure:"info_tool_name"`

	// Transport
	Transport       string `mapstructure:"transport"`
	HTTPAddr        string `mapstructure:"http_addr"`
	AllowUnsafeBind bool   `mapstructure:"allow_unsafe_bind"`
}

// HasBasicAuth reports whether username/password credentials are configured.
func (c *Config) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// HasCookieAuth reports whether cookie material is configured.
func (c *Config) HasCookieAuth() bool {
	return len(c.Cookies) > 0
}

// UsePostfix reports whether the service identifier lands after the base
// name (the default) instead of before it.
func (c *Config) UsePostfix() bool {
	return !c.NoPostfix
}

// IsReadOnly reports whether either read-only mode is active.
func (c *Config) IsReadOnly() bool {
	return c.ReadOnly || c.ReadOnlyButFunctions
}

// Validate checks the mutually exclusive option pairs and compiles the
// operation filter. Call once after flags and environment are resolved.
func (c *Config) Validate() error {
	if c.ReadOnly && c.ReadOnlyButFunctions {
		return fmt.Errorf("--read-only and --read-only-but-functions are mutually exclusive")
	}
	if c.EnableOps != "" && c.DisableOps != "" {
		return fmt.Errorf("--enable and --disable are mutually exclusive")
	}
	if (c.CookieFile != "" || c.CookieString != "") && c.Username != "" {
		return fmt.Errorf("cookie authentication and basic authentication are mutually exclusive")
	}
	if c.CookieFile != "" && c.CookieString != "" {
		return fmt.Errorf("--cookie-file and --cookie-string are mutually exclusive")
	}
	return c.compileOps()
}

// compileOps builds the effective operation set from --enable/--disable.
func (c *Config) compileOps() error {
	all := "CSFGUDA"

	expand := func(codes string) (map[rune]bool, error) {
		set := make(map[rune]bool)
		for _, r := range strings.ToUpper(codes) {
			switch r {
			case 'C', 'S', 'F', 'G', 'U', 'D', 'A':
				set[r] = true
			case 'R':
				set['S'] = true
				set['F'] = true
				set['G'] = true
			case ',', ' ':
				// separators are tolerated
			default:
				return nil, fmt.Errorf("unknown operation code %q (valid: C,S,F,G,U,D,A,R)", string(r))
			}
		}
		return set, nil
	}

	c.enabledOps = make(map[rune]bool, len(all))

	if c.EnableOps != "" {
		set, err := expand(c.EnableOps)
		if err != nil {
			return err
		}
		for _, r := range all {
			c.enabledOps[r] = set[r]
		}
		return nil
	}

	for _, r := range all {
		c.enabledOps[r] = true
	}
	if c.DisableOps != "" {
		set, err := expand(c.DisableOps)
		if err != nil {
			return err
		}
		for r := range set {
			c.enabledOps[r] = false
		}
	}
	return nil
}

// IsOperationEnabled reports whether an operation code survives the
// --enable/--disable filter. Read-only modes are applied separately by the
// tool projector, before this filter.
func (c *Config) IsOperationEnabled(op rune) bool {
	if c.enabledOps == nil {
		return true
	}
	return c.enabledOps[op]
}

// OperationFilterSummary is a loggable description of the active filter.
func (c *Config) OperationFilterSummary() string {
	if c.EnableOps != "" {
		return "Enabled: " + strings.ToUpper(c.EnableOps)
	}
	if c.DisableOps != "" {
		return "Disabled: " + strings.ToUpper(c.DisableOps)
	}
	return ""
}
