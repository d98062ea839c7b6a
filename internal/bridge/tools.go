// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/mcp"
	"github.com/odatamcp/bridge/internal/models"
	"github.com/odatamcp/bridge/internal/utils"
)

// generateTools projects the tool catalog from the loaded metadata: the
// service-info tool and its readme alias first, then entity-set tools and
// function tools in alphabetical order.
func (b *Bridge) generateTools() error {
	if err := b.generateInfoTools(); err != nil {
		return err
	}

	setNames := make([]string, 0, len(b.metadata.EntitySets))
	for name := range b.metadata.EntitySets {
		if utils.MatchesAny(name, b.config.AllowedEntities) {
			setNames = append(setNames, name)
		}
	}
	sort.Strings(setNames)

	for _, name := range setNames {
		entitySet := b.metadata.EntitySets[name]
		entityType := b.metadata.EntityTypeFor(entitySet)
		if entityType == nil {
			fmt.Fprintf(os.Stderr, "[WARN] Entity set %s references unknown type %s, skipping\n", name, entitySet.EntityType)
			continue
		}
		if len(entityType.KeyProperties) == 0 {
			fmt.Fprintf(os.Stderr, "[WARN] Entity type %s has no key, keyed operations unavailable\n", entityType.Name)
		}
		if err := b.generateEntitySetTools(entitySet, entityType); err != nil {
			return err
		}
	}

	funcNames := make([]string, 0, len(b.metadata.FunctionImports))
	for name := range b.metadata.FunctionImports {
		if utils.MatchesAny(name, b.config.AllowedFunctions) {
			funcNames = append(funcNames, name)
		}
	}
	sort.Strings(funcNames)

	for _, name := range funcNames {
		if !b.operationAllowed(constants.OpAction, true) {
			if b.config.Verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] Skipping function %s: actions disabled\n", name)
			}
			continue
		}
		if err := b.generateFunctionTool(b.metadata.FunctionImports[name]); err != nil {
			return err
		}
	}

	return nil
}

// operationAllowed applies the policy ladder for one operation code:
// read-only modes first, then the --enable/--disable filter. capable is the
// entity set's own capability verdict.
func (b *Bridge) operationAllowed(op rune, capable bool) bool {
	if !capable {
		return false
	}
	switch op {
	case constants.OpCreate, constants.OpUpdate, constants.OpDelete:
		if b.config.IsReadOnly() {
			return false
		}
	case constants.OpAction:
		if b.config.ReadOnly {
			return false
		}
	}
	return b.config.IsOperationEnabled(op)
}

func (b *Bridge) generateEntitySetTools(entitySet *models.EntitySet, entityType *models.EntityType) error {
	type projection struct {
		op      rune
		capable bool
		build   func(*models.EntitySet, *models.EntityType) error
	}

	projections := []projection{
		{constants.OpFilter, true, b.generateFilterTool},
		{constants.OpFilter, true, b.generateCountTool}, // count rides with filter
		{constants.OpSearch, entitySet.Searchable, b.generateSearchTool},
		{constants.OpGet, len(entityType.KeyProperties) > 0, b.generateGetTool},
		{constants.OpCreate, entitySet.Creatable, b.generateCreateTool},
		{constants.OpUpdate, entitySet.Updatable && len(entityType.KeyProperties) > 0, b.generateUpdateTool},
		{constants.OpDelete, entitySet.Deletable && len(entityType.KeyProperties) > 0, b.generateDeleteTool},
	}

	for _, p := range projections {
		if !b.operationAllowed(p.op, p.capable) {
			continue
		}
		if err := p.build(entitySet, entityType); err != nil {
			return err
		}
	}
	return nil
}

// schemaDoc assembles a tool input schema. Unknown arguments are rejected at
// dispatch time, so every schema closes additionalProperties.
func schemaDoc(properties map[string]interface{}, required []string) map[string]interface{} {
	doc := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func paramSchema(jsonType, description string) map[string]interface{} {
	return map[string]interface{}{"type": jsonType, "description": description}
}

// propertyParam describes one entity property as a tool argument, carrying
// the OData type and key marker in the description.
func propertyParam(prop *models.Property) map[string]interface{} {
	desc := prop.Type
	if prop.IsKey {
		desc += " (key)"
	}
	return paramSchema(utils.JSONSchemaType(prop.Type), desc)
}

func queryOptionParams() map[string]interface{} {
	return map[string]interface{}{
		"filter":    paramSchema("string", "OData $filter expression"),
		"select":    paramSchema("string", "Comma-separated list of properties to return ($select)"),
		"expand":    paramSchema("string", "Navigation properties to expand ($expand)"),
		"orderby":   paramSchema("string", "Sort order ($orderby)"),
		"top":       paramSchema("integer", "Maximum number of entities to return ($top)"),
		"skip":      paramSchema("integer", "Number of entities to skip ($skip)"),
		"skiptoken": paramSchema("string", "Server paging token ($skiptoken)"),
		"count":     paramSchema("boolean", "Include the total count of matching entities"),
	}
}

func (b *Bridge) generateFilterTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameFilter, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("List/filter %s entities with OData query options", entitySet.Name)

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(queryOptionParams(), nil),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleFilter(ctx, setName, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameFilter,
	})
}

func (b *Bridge) generateCountTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameCount, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Count %s entities, optionally filtered", entitySet.Name)

	properties := map[string]interface{}{
		"filter": paramSchema("string", "OData $filter expression"),
	}

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, nil),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleCount(ctx, setName, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameCount,
	})
}

func (b *Bridge) generateSearchTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameSearch, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Full-text search %s entities", entitySet.Name)

	properties := map[string]interface{}{
		"search_term": paramSchema("string", "Search term"),
		"top":         paramSchema("integer", "Maximum number of entities to return ($top)"),
		"skip":        paramSchema("integer", "Number of entities to skip ($skip)"),
	}

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, []string{"search_term"}),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleSearch(ctx, setName, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameSearch,
	})
}

func (b *Bridge) generateGetTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameGet, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Get a single %s entity by key", entitySet.Name)

	properties := make(map[string]interface{})
	required := make([]string, 0, len(entityType.KeyProperties))
	for _, prop := range entityType.KeyProps() {
		properties[prop.Name] = propertyParam(prop)
		required = append(required, prop.Name)
	}
	properties["select"] = paramSchema("string", "Comma-separated list of properties to return ($select)")
	properties["expand"] = paramSchema("string", "Navigation properties to expand ($expand)")

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, required),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleGet(ctx, setName, entityType, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameGet,
	})
}

func (b *Bridge) generateCreateTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameCreate, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Create a new %s entity", entitySet.Name)

	properties := make(map[string]interface{})
	required := make([]string, 0)
	for _, prop := range entityType.Properties {
		properties[prop.Name] = propertyParam(prop)
		if prop.IsKey || !prop.Nullable {
			required = append(required, prop.Name)
		}
	}

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, required),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleCreate(ctx, setName, entityType, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameCreate,
	})
}

func (b *Bridge) generateUpdateTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameUpdate, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Update an existing %s entity", entitySet.Name)

	properties := make(map[string]interface{})
	required := make([]string, 0, len(entityType.KeyProperties))
	for _, prop := range entityType.Properties {
		properties[prop.Name] = propertyParam(prop)
		if prop.IsKey {
			required = append(required, prop.Name)
		}
	}

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, required),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleUpdate(ctx, setName, entityType, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameUpdate,
	})
}

func (b *Bridge) generateDeleteTool(entitySet *models.EntitySet, entityType *models.EntityType) error {
	opName := constants.OperationName(constants.OpNameDelete, b.config.ToolShrink)
	toolName := b.formatToolName(opName, entitySet.Name)
	description := fmt.Sprintf("Delete a %s entity", entitySet.Name)

	properties := make(map[string]interface{})
	required := make([]string, 0, len(entityType.KeyProperties))
	for _, prop := range entityType.KeyProps() {
		properties[prop.Name] = propertyParam(prop)
		required = append(required, prop.Name)
	}

	setName := entitySet.Name
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, required),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleDelete(ctx, setName, entityType, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description,
		EntitySet: setName, Operation: constants.OpNameDelete,
	})
}

func (b *Bridge) generateFunctionTool(function *models.FunctionImport) error {
	toolName := b.formatToolName(function.Name, "")
	description := fmt.Sprintf("Call function import %s (%s)", function.Name, function.HTTPMethod)

	properties := make(map[string]interface{})
	required := make([]string, 0)
	for _, param := range function.Parameters {
		if param.Mode != "" && param.Mode != "In" && param.Mode != "InOut" {
			continue
		}
		properties[param.Name] = paramSchema(utils.JSONSchemaType(param.Type), param.Type)
		if !param.Nullable {
			required = append(required, param.Name)
		}
	}

	fn := function
	return b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schemaDoc(properties, required),
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleFunction(ctx, fn, args)
	}, &models.ToolInfo{
		Name: toolName, Description: description, Function: fn.Name,
	})
}

// generateInfoTools registers the service-info tool plus its readme alias.
func (b *Bridge) generateInfoTools() error {
	baseName := b.config.InfoToolName
	if baseName == "" {
		baseName = constants.DefaultInfoToolName
	}
	toolName := b.formatToolName(baseName, "")

	description := "Service summary: entity sets, capabilities, function imports and usage hints"
	schema := schemaDoc(map[string]interface{}{
		"include_metadata": paramSchema("boolean", "Include full entity type and set detail"),
	}, nil)

	handler := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return b.handleServiceInfo(ctx, args)
	}

	if err := b.registerTool(&mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: schema,
	}, handler, &models.ToolInfo{
		Name: toolName, Description: description, Operation: constants.OpNameInfo,
	}); err != nil {
		return err
	}

	return b.registerTool(&mcp.Tool{
		Name:        constants.ReadmeToolName,
		Description: description,
		InputSchema: schema,
	}, handler, &models.ToolInfo{
		Name: constants.ReadmeToolName, Description: description, Operation: constants.OpNameInfo,
	})
}

func (b *Bridge) registerTool(tool *mcp.Tool, handler mcp.ToolHandler, info *models.ToolInfo) error {
	if err := b.server.AddTool(tool, handler); err != nil {
		return err
	}
	info.Schema = tool.InputSchema
	b.tools[tool.Name] = info
	return nil
}

// defaultSelect names every non-binary declared property, the guardrail
// applied when a filter call supplies no $select; wide SAP entities with
// embedded binaries are painful otherwise. Fallback shell metadata carries
// made-up properties, so no default is applied there.
func (b *Bridge) defaultSelect(entitySetName string) string {
	if b.metadata.Fallback {
		return ""
	}
	set, ok := b.metadata.EntitySets[entitySetName]
	if !ok {
		return ""
	}
	entityType := b.metadata.EntityTypeFor(set)
	if entityType == nil {
		return ""
	}

	names := make([]string, 0, len(entityType.Properties))
	for _, prop := range entityType.Properties {
		if prop.Type == "Edm.Binary" {
			continue
		}
		names = append(names, prop.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, ",")
}
