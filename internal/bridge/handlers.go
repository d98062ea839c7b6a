// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/models"
	"github.com/odatamcp/bridge/internal/utils"
)

// marshalResult renders a handler result as the JSON text the dispatcher
// wraps into the MCP content envelope.
func marshalResult(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result: %w", err)
	}
	return string(data), nil
}

func intArg(args map[string]interface{}, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func stringArg(args map[string]interface{}, name string) (string, bool) {
	s, ok := args[name].(string)
	return s, ok && s != ""
}

// handleFilter serves filter_* tools: GET <set>?<query> with the $select
// guardrail and optional inline count.
func (b *Bridge) handleFilter(ctx context.Context, entitySetName string, args map[string]interface{}) (interface{}, error) {
	options := make(map[string]string)

	if filter, ok := stringArg(args, "filter"); ok {
		options[constants.QueryFilter] = filter
	}
	if sel, ok := stringArg(args, "select"); ok {
		options[constants.QuerySelect] = sel
	} else if def := b.defaultSelect(entitySetName); def != "" {
		options[constants.QuerySelect] = def
	}
	if expand, ok := stringArg(args, "expand"); ok {
		options[constants.QueryExpand] = expand
	}
	if orderby, ok := stringArg(args, "orderby"); ok {
		options[constants.QueryOrderBy] = orderby
	}
	if skiptoken, ok := stringArg(args, "skiptoken"); ok {
		options[constants.QuerySkipToken] = skiptoken
	}

	skip, top := 0, 0
	if n, ok := intArg(args, "top"); ok {
		top = n
		options[constants.QueryTop] = strconv.Itoa(n)
	}
	if n, ok := intArg(args, "skip"); ok {
		skip = n
		options[constants.QuerySkip] = strconv.Itoa(n)
	}
	if wantCount, ok := args["count"].(bool); ok && wantCount {
		options[constants.QueryInlineCount] = "allpages"
	}

	doc, err := b.client.List(ctx, entitySetName, options)
	if err != nil {
		return nil, err
	}

	result, err := b.normalizer.List(entitySetName, doc, skip, top)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleCount serves count_* tools via GET <set>/$count.
func (b *Bridge) handleCount(ctx context.Context, entitySetName string, args map[string]interface{}) (interface{}, error) {
	filter, _ := stringArg(args, "filter")

	count, err := b.client.Count(ctx, entitySetName, filter)
	if err != nil {
		return nil, err
	}
	return marshalResult(map[string]int64{"count": count})
}

// handleSearch serves search_* tools; projection already guaranteed the set
// is searchable.
func (b *Bridge) handleSearch(ctx context.Context, entitySetName string, args map[string]interface{}) (interface{}, error) {
	term, ok := stringArg(args, "search_term")
	if !ok {
		return nil, fmt.Errorf("missing required parameter: search_term")
	}

	options := map[string]string{constants.QuerySearch: term}
	skip, top := 0, 0
	if n, ok := intArg(args, "top"); ok {
		top = n
		options[constants.QueryTop] = strconv.Itoa(n)
	}
	if n, ok := intArg(args, "skip"); ok {
		skip = n
		options[constants.QuerySkip] = strconv.Itoa(n)
	}

	doc, err := b.client.List(ctx, entitySetName, options)
	if err != nil {
		return nil, err
	}

	result, err := b.normalizer.List(entitySetName, doc, skip, top)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleGet serves get_* tools. Missing key components fail here, before
// any request is issued.
func (b *Bridge) handleGet(ctx context.Context, entitySetName string, entityType *models.EntityType, args map[string]interface{}) (interface{}, error) {
	predicate, err := utils.FormatKeyPredicate(entityType, args)
	if err != nil {
		return nil, err
	}

	options := make(map[string]string)
	if sel, ok := stringArg(args, "select"); ok {
		options[constants.QuerySelect] = sel
	}
	if expand, ok := stringArg(args, "expand"); ok {
		options[constants.QueryExpand] = expand
	}

	doc, err := b.client.Get(ctx, entitySetName, predicate, options)
	if err != nil {
		return nil, err
	}

	result, err := b.normalizer.Single(entitySetName, doc)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleCreate serves create_* tools: the payload is restricted to declared
// properties and coerced (decimal-as-string, legacy dates, GUID-to-base64)
// before the POST.
func (b *Bridge) handleCreate(ctx context.Context, entitySetName string, entityType *models.EntityType, args map[string]interface{}) (interface{}, error) {
	payload := utils.CoerceWritePayload(entityType, args, b.config.LegacyDates)

	doc, err := b.client.Create(ctx, entitySetName, payload)
	if err != nil {
		return nil, err
	}

	result, err := b.normalizer.Single(entitySetName, doc)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleUpdate serves update_* tools: keys route into the predicate, the
// rest becomes the MERGE body.
func (b *Bridge) handleUpdate(ctx context.Context, entitySetName string, entityType *models.EntityType, args map[string]interface{}) (interface{}, error) {
	predicate, err := utils.FormatKeyPredicate(entityType, args)
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{})
	for name, value := range args {
		prop := entityType.Property(name)
		if prop == nil || prop.IsKey {
			continue
		}
		data[name] = value
	}
	payload := utils.CoerceWritePayload(entityType, data, b.config.LegacyDates)

	doc, err := b.client.Update(ctx, entitySetName, predicate, payload)
	if err != nil {
		return nil, err
	}

	if doc == nil {
		return marshalResult(map[string]string{"status": "updated"})
	}
	result, err := b.normalizer.Single(entitySetName, doc)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleDelete serves delete_* tools; empty 2xx bodies are success.
func (b *Bridge) handleDelete(ctx context.Context, entitySetName string, entityType *models.EntityType, args map[string]interface{}) (interface{}, error) {
	predicate, err := utils.FormatKeyPredicate(entityType, args)
	if err != nil {
		return nil, err
	}

	if err := b.client.Delete(ctx, entitySetName, predicate); err != nil {
		return nil, err
	}
	return marshalResult(map[string]string{"status": "deleted"})
}

// handleFunction serves function import tools.
func (b *Bridge) handleFunction(ctx context.Context, function *models.FunctionImport, args map[string]interface{}) (interface{}, error) {
	params := make(map[string]interface{})
	for _, p := range function.Parameters {
		if p.Mode != "" && p.Mode != "In" && p.Mode != "InOut" {
			continue
		}
		if value, exists := args[p.Name]; exists {
			params[p.Name] = value
		} else if !p.Nullable {
			return nil, fmt.Errorf("missing required parameter: %s", p.Name)
		}
	}

	doc, err := b.client.CallFunction(ctx, function, params)
	if err != nil {
		return nil, err
	}

	result, err := b.normalizer.FunctionResult(doc)
	if err != nil {
		return nil, err
	}
	return marshalResult(result)
}

// handleServiceInfo serves the info tool and its readme alias: a structured
// service summary with the merged hint document embedded verbatim.
func (b *Bridge) handleServiceInfo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sets := make(map[string]interface{}, len(b.metadata.EntitySets))
	for name, set := range b.metadata.EntitySets {
		sets[name] = map[string]interface{}{
			"entity_type": set.EntityType,
			"creatable":   set.Creatable,
			"updatable":   set.Updatable,
			"deletable":   set.Deletable,
			"searchable":  set.Searchable,
		}
	}

	functions := make([]string, 0, len(b.metadata.FunctionImports))
	for name := range b.metadata.FunctionImports {
		functions = append(functions, name)
	}

	info := map[string]interface{}{
		"service_url":      b.config.ServiceURL,
		"schema_namespace": b.metadata.SchemaNamespace,
		"container_name":   b.metadata.ContainerName,
		"entity_sets":      sets,
		"function_imports": functions,
		"tool_count":       len(b.tools),
		"metadata_source":  "metadata",
	}
	if b.metadata.Fallback {
		info["metadata_source"] = "service_document_fallback"
	}

	if hints := b.hints.Merged(b.config.ServiceURL); hints != nil {
		info["implementation_hints"] = hints
	}

	if include, ok := args["include_metadata"].(bool); ok && include {
		info["entity_types_detail"] = b.metadata.EntityTypes
		info["entity_sets_detail"] = b.metadata.EntitySets
		info["function_imports_detail"] = b.metadata.FunctionImports
	}

	return marshalResult(info)
}
