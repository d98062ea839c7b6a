// Package hint loads advisory service hints and merges the entries matching
// a service URL. Hint data is payload, never behavior: the merged document
// is embedded verbatim in the service-info tool response and the bridge does
// not interpret it.
package hint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/odatamcp/bridge/internal/utils"
)

// ServiceHint is one entry in the hints file. Pattern supports '*' and '?'
// wildcards against the service URL.
type ServiceHint struct {
	Pattern     string                 `json:"pattern"`
	Priority    int                    `json:"priority,omitempty"`
	ServiceType string                 `json:"service_type,omitempty"`
	KnownIssues []string               `json:"known_issues,omitempty"`
	Workarounds []string               `json:"workarounds,omitempty"`
	FieldHints  map[string]interface{} `json:"field_hints,omitempty"`
	EntityHints map[string]interface{} `json:"entity_hints,omitempty"`
	Examples    []interface{}          `json:"examples,omitempty"`
	Notes       []string               `json:"notes,omitempty"`
}

// File is the on-disk hints document.
type File struct {
	Version string        `json:"version"`
	Hints   []ServiceHint `json:"hints"`
}

// Manager holds loaded hints plus an optional CLI-injected entry.
type Manager struct {
	hints     []ServiceHint
	cliHint   *ServiceHint
	hintsFile string
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFile reads a hints JSON file. With an empty path it probes the binary
// directory and the working directory for hints.json; absence is not an
// error.
func (m *Manager) LoadFile(path string) error {
	if path == "" {
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "hints.json")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
		if path == "" {
			if _, err := os.Stat("hints.json"); err == nil {
				path = "hints.json"
			}
		}
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read hints file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse hints file: %w", err)
	}

	m.hints = file.Hints
	m.hintsFile = path
	return nil
}

// SetCLIHint injects a hint from the --hint flag. Valid JSON becomes a full
// entry; anything else is kept as a note. CLI hints outrank file entries.
func (m *Manager) SetCLIHint(raw string) error {
	var h ServiceHint
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		h = ServiceHint{Pattern: "*", Notes: []string{raw}}
	}
	if h.Pattern == "" {
		h.Pattern = "*"
	}
	h.Priority = 1000
	m.cliHint = &h
	return nil
}

// Merged returns the combined hint document for a service URL, or nil when
// nothing matches. Matching entries merge in ascending priority order:
// scalar and map keys are overwritten by later (higher-priority) entries,
// string arrays concatenate with duplicates removed, examples concatenate
// as-is. A matching CLI hint merges last.
func (m *Manager) Merged(serviceURL string) map[string]interface{} {
	var matching []ServiceHint
	for _, h := range m.hints {
		if utils.WildcardMatch(serviceURL, h.Pattern) {
			matching = append(matching, h)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority < matching[j].Priority
	})

	if m.cliHint != nil && utils.WildcardMatch(serviceURL, m.cliHint.Pattern) {
		matching = append(matching, *m.cliHint)
	}
	if len(matching) == 0 {
		return nil
	}

	result := make(map[string]interface{})
	for _, h := range matching {
		if h.ServiceType != "" {
			result["service_type"] = h.ServiceType
		}
		mergeStrings(result, "known_issues", h.KnownIssues)
		mergeStrings(result, "workarounds", h.Workarounds)
		mergeStrings(result, "notes", h.Notes)
		mergeMap(result, "field_hints", h.FieldHints)
		mergeMap(result, "entity_hints", h.EntityHints)
		if len(h.Examples) > 0 {
			existing, _ := result["examples"].([]interface{})
			result["examples"] = append(existing, h.Examples...)
		}
	}

	if m.cliHint != nil {
		result["hint_source"] = "CLI argument"
	} else if m.hintsFile != "" {
		result["hint_source"] = "Hints file: " + m.hintsFile
	}

	return result
}

func mergeStrings(result map[string]interface{}, key string, values []string) {
	if len(values) == 0 {
		return
	}
	existing, _ := result[key].([]string)
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range values {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	result[key] = existing
}

func mergeMap(result map[string]interface{}, key string, values map[string]interface{}) {
	if len(values) == 0 {
		return
	}
	existing, _ := result[key].(map[string]interface{})
	if existing == nil {
		existing = make(map[string]interface{}, len(values))
	}
	for k, v := range values {
		existing[k] = v
	}
	result[key] = existing
}
