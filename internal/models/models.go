package models

// Property describes one declared property of an entity type.
type Property struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // OData primitive, e.g. "Edm.String"
	Nullable  bool   `json:"nullable"`
	IsKey     bool   `json:"is_key"`
	MaxLength int    `json:"max_length,omitempty"` // 0 when unspecified
}

// EntityType is an OData entity type definition. Immutable after metadata load.
type EntityType struct {
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualified_name"`
	Properties    []*Property `json:"properties"`
	KeyProperties []string    `json:"key_properties"`
}

// Property returns the declared property with the given name, or nil.
func (t *EntityType) Property(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// KeyProps returns the key properties in declaration order.
func (t *EntityType) KeyProps() []*Property {
	props := make([]*Property, 0, len(t.KeyProperties))
	for _, name := range t.KeyProperties {
		if p := t.Property(name); p != nil {
			props = append(props, p)
		}
	}
	return props
}

// EntitySet is a named collection of one entity type, with the SAP
// capability flags that gate which tools are projected for it.
type EntitySet struct {
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Creatable   bool   `json:"creatable"`
	Updatable   bool   `json:"updatable"`
	Deletable   bool   `json:"deletable"`
	Searchable  bool   `json:"searchable"`
	Pageable    bool   `json:"pageable"`
	Addressable bool   `json:"addressable"`
}

// FunctionParameter is one declared parameter of a function import.
type FunctionParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mode     string `json:"mode,omitempty"` // In, Out, InOut
	Nullable bool   `json:"nullable"`
}

// FunctionImport is a server-defined callable not bound to an entity.
type FunctionImport struct {
	Name       string               `json:"name"`
	HTTPMethod string               `json:"http_method"`
	ReturnType string               `json:"return_type,omitempty"`
	Parameters []*FunctionParameter `json:"parameters"`
}

// ServiceMetadata is the parsed shape of one OData service. Built once at
// startup and never mutated afterwards.
type ServiceMetadata struct {
	ServiceRoot     string                     `json:"service_root"`
	SchemaNamespace string                     `json:"schema_namespace"`
	ContainerName   string                     `json:"container_name"`
	EntityTypes     map[string]*EntityType     `json:"entity_types"`
	EntitySets      map[string]*EntitySet      `json:"entity_sets"`
	FunctionImports map[string]*FunctionImport `json:"function_imports"`
	Fallback        bool                       `json:"fallback,omitempty"` // built from the service document, not $metadata
}

// EntityTypeFor resolves the entity type backing an entity set.
func (m *ServiceMetadata) EntityTypeFor(set *EntitySet) *EntityType {
	if set == nil {
		return nil
	}
	return m.EntityTypes[set.EntityType]
}

// ToolInfo records a projected tool for the trace surface.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	EntitySet   string                 `json:"entity_set,omitempty"`
	Function    string                 `json:"function,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
}

// MetadataSummary is the headline count block in trace output.
type MetadataSummary struct {
	EntityTypes     int `json:"entity_types"`
	EntitySets      int `json:"entity_sets"`
	FunctionImports int `json:"function_imports"`
}

// TraceInfo is everything --trace prints before exiting.
type TraceInfo struct {
	ServiceURL      string          `json:"service_url"`
	MCPName         string          `json:"mcp_name"`
	ToolNaming      string          `json:"tool_naming"`
	ToolPrefix      string          `json:"tool_prefix,omitempty"`
	ToolPostfix     string          `json:"tool_postfix,omitempty"`
	ToolShrink      bool            `json:"tool_shrink"`
	SortTools       bool            `json:"sort_tools"`
	EntityFilter    []string        `json:"entity_filter,omitempty"`
	FunctionFilter  []string        `json:"function_filter,omitempty"`
	OperationFilter string          `json:"operation_filter,omitempty"`
	Authentication  string          `json:"authentication"`
	ReadOnlyMode    string          `json:"read_only_mode,omitempty"`
	MetadataSummary MetadataSummary `json:"metadata_summary"`
	RegisteredTools []ToolInfo      `json:"registered_tools"`
	TotalTools      int             `json:"total_tools"`
}
