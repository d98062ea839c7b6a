// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

// Package normalize rewrites raw OData response documents into the bounded,
// type-normalized payloads tools return. Every step is a pure transformation
// over decoded JSON values, so the passes compose and test in isolation.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/odatamcp/bridge/internal/models"
	"github.com/odatamcp/bridge/internal/utils"
)

// Options controls the normalization passes.
type Options struct {
	MaxItems        int
	MaxResponseSize int
	LegacyDates     bool // convert /Date(ms)/ values to ISO 8601
	KeepMetadata    bool // retain __metadata blocks
	PaginationHints bool
}

// Normalizer applies the passes with knowledge of the service metadata, so
// GUID-shaped properties are recognized by declared type rather than guessed.
type Normalizer struct {
	Meta *models.ServiceMetadata
	Opts Options
}

// ListResult is the shape handed back for collection reads.
type ListResult struct {
	Results    []interface{}          `json:"results"`
	TotalCount *int64                 `json:"total_count,omitempty"`
	NextLink   string                 `json:"next_link,omitempty"`
	Truncated  bool                   `json:"truncated,omitempty"`
	Pagination map[string]interface{} `json:"pagination,omitempty"`
}

// Unwrapped is the envelope-free view of one response document.
type Unwrapped struct {
	Items      []interface{} // nil when the document holds a single value
	Single     interface{}
	IsList     bool
	TotalCount *int64
	NextLink   string
}

// Unwrap strips the OData v2 envelope: the outer {"d": ...} wrapper, and for
// collections the {"results": [...], "__count": "N", "__next": "..."} block.
func Unwrap(doc interface{}) Unwrapped {
	if m, ok := doc.(map[string]interface{}); ok {
		if inner, ok := m["d"]; ok {
			doc = inner
		}
	}

	switch v := doc.(type) {
	case map[string]interface{}:
		if rawResults, ok := v["results"]; ok {
			if items, ok := rawResults.([]interface{}); ok {
				out := Unwrapped{Items: items, IsList: true}
				if count, ok := parseCount(v["__count"]); ok {
					out.TotalCount = &count
				}
				if next, ok := v["__next"].(string); ok {
					out.NextLink = next
				}
				return out
			}
		}
		return Unwrapped{Single: v}
	case []interface{}:
		return Unwrapped{Items: v, IsList: true}
	default:
		return Unwrapped{Single: v}
	}
}

func parseCount(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	case float64:
		return int64(v), true
	}
	return 0, false
}

// List normalizes a collection response for the given entity set: unwrap,
// walk, bound, and attach pagination hints. skip/top describe the query that
// produced the page and feed the hint block.
func (n *Normalizer) List(entitySetName string, doc interface{}, skip, top int) (interface{}, error) {
	entityType := n.entityTypeFor(entitySetName)
	unwrapped := Unwrap(doc)

	items := unwrapped.Items
	if !unwrapped.IsList {
		if unwrapped.Single == nil {
			items = []interface{}{}
		} else {
			items = []interface{}{unwrapped.Single}
		}
	}

	walked := make([]interface{}, len(items))
	for i, item := range items {
		walked[i] = n.walk(item, entityType)
	}

	result := &ListResult{
		Results:    walked,
		TotalCount: unwrapped.TotalCount,
		NextLink:   unwrapped.NextLink,
	}

	originalLen := len(result.Results)
	if n.Opts.MaxItems > 0 && originalLen > n.Opts.MaxItems {
		result.Results = result.Results[:n.Opts.MaxItems]
		result.Truncated = true
	}

	if n.Opts.PaginationHints {
		result.Pagination = n.paginationHints(result, originalLen, skip, top)
	}

	return n.boundBytes(result, len(result.Results))
}

// Single normalizes a single-entity response.
func (n *Normalizer) Single(entitySetName string, doc interface{}) (interface{}, error) {
	entityType := n.entityTypeFor(entitySetName)
	unwrapped := Unwrap(doc)

	var value interface{}
	if unwrapped.IsList {
		// Some servers answer keyed reads with a one-element collection.
		if len(unwrapped.Items) > 0 {
			value = n.walk(unwrapped.Items[0], entityType)
		}
	} else {
		value = n.walk(unwrapped.Single, entityType)
	}

	return n.boundBytes(value, 1)
}

// FunctionResult normalizes a function import response. Collection returns
// are always wrapped as {"results": [...]}, matching every other list shape
// this bridge emits.
func (n *Normalizer) FunctionResult(doc interface{}) (interface{}, error) {
	unwrapped := Unwrap(doc)
	if unwrapped.IsList {
		walked := make([]interface{}, len(unwrapped.Items))
		for i, item := range unwrapped.Items {
			walked[i] = n.walk(item, nil)
		}
		result := &ListResult{Results: walked}
		if n.Opts.MaxItems > 0 && len(result.Results) > n.Opts.MaxItems {
			result.Results = result.Results[:n.Opts.MaxItems]
			result.Truncated = true
		}
		return n.boundBytes(result, len(result.Results))
	}
	return n.boundBytes(n.walk(unwrapped.Single, nil), 1)
}

// walk recursively rewrites one JSON value: __metadata stripping, GUID
// normalization and legacy date conversion. entityType informs the GUID
// predicate for declared properties; nested values past a navigation
// property fall back to the name-only heuristic.
func (n *Normalizer) walk(value interface{}, entityType *models.EntityType) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, inner := range v {
			if key == "__metadata" && !n.Opts.KeepMetadata {
				continue
			}
			result[key] = n.walkField(key, inner, entityType)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = n.walk(item, entityType)
		}
		return result
	case string:
		if n.Opts.LegacyDates && utils.IsLegacyDate(v) {
			return utils.LegacyToISO(v)
		}
		return v
	default:
		return value
	}
}

func (n *Normalizer) walkField(name string, value interface{}, entityType *models.EntityType) interface{} {
	if s, ok := value.(string); ok {
		if n.isGUIDField(name, entityType) {
			if guid, ok := utils.Base64ToGUID(s); ok {
				return guid
			}
		}
		if n.Opts.LegacyDates && utils.IsLegacyDate(s) {
			return utils.LegacyToISO(s)
		}
		return s
	}

	// Past a navigation property the declared type no longer applies.
	if _, isNested := value.(map[string]interface{}); isNested && entityType != nil && entityType.Property(name) == nil {
		return n.walk(value, nil)
	}
	if _, isNested := value.([]interface{}); isNested && entityType != nil && entityType.Property(name) == nil {
		return n.walk(value, nil)
	}
	return n.walk(value, entityType)
}

// isGUIDField decides whether a field holds binary GUID material: by the
// declared property when the type is known, by naming convention otherwise.
func (n *Normalizer) isGUIDField(name string, entityType *models.EntityType) bool {
	if entityType != nil {
		if prop := entityType.Property(name); prop != nil {
			return utils.IsGUIDShaped(prop)
		}
	}
	return utils.NameSuggestsGUID(name)
}

// boundBytes enforces the serialized-size budget. Oversized payloads are
// replaced wholesale with an abbreviated summary; a partial-object prefix is
// never returned.
func (n *Normalizer) boundBytes(value interface{}, itemCount int) (interface{}, error) {
	if n.Opts.MaxResponseSize <= 0 {
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	if len(data) <= n.Opts.MaxResponseSize {
		return value, nil
	}

	return map[string]interface{}{
		"truncated":           true,
		"item_count":          itemCount,
		"original_size_bytes": len(data),
		"message": fmt.Sprintf(
			"Response of %d bytes exceeds the %d byte limit. Narrow the query with $select, $filter or $top.",
			len(data), n.Opts.MaxResponseSize),
	}, nil
}

// paginationHints builds the advisory block describing how to fetch the next
// page of the same query.
func (n *Normalizer) paginationHints(result *ListResult, originalLen, skip, top int) map[string]interface{} {
	current := len(result.Results)
	hints := map[string]interface{}{
		"current_count": current,
		"skip":          skip,
	}
	if top > 0 {
		hints["top"] = top
	}

	hasMore := result.Truncated || result.NextLink != ""
	if result.TotalCount != nil {
		hints["total_count"] = *result.TotalCount
		if int64(skip+originalLen) < *result.TotalCount {
			hasMore = true
		}
	}
	hints["has_more"] = hasMore

	if hasMore {
		if token := skipTokenFromLink(result.NextLink); token != "" {
			hints["suggested_next_call"] = map[string]interface{}{"skiptoken": token}
		} else {
			hints["suggested_next_call"] = map[string]interface{}{"skip": skip + current}
		}
	}

	return hints
}

// skipTokenFromLink pulls a server-issued $skiptoken out of a __next link.
func skipTokenFromLink(link string) string {
	if link == "" {
		return ""
	}
	const marker = "$skiptoken="
	idx := strings.Index(link, marker)
	if idx < 0 {
		return ""
	}
	token := link[idx+len(marker):]
	if amp := strings.IndexByte(token, '&'); amp >= 0 {
		return token[:amp]
	}
	return token
}

func (n *Normalizer) entityTypeFor(entitySetName string) *models.EntityType {
	if n.Meta == nil {
		return nil
	}
	set, ok := n.Meta.EntitySets[entitySetName]
	if !ok {
		return nil
	}
	return n.Meta.EntityTypeFor(set)
}
