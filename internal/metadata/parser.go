// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package metadata

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/models"
)

// edmx is the root of the $metadata document.
type edmx struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices dataServices `xml:"DataServices"`
}

type dataServices struct {
	Schemas []schema `xml:"Schema"`
}

// schema holds entity types and, usually in a separate Schema element for
// SAP services, the entity container.
type schema struct {
	Namespace       string            `xml:"Namespace,attr"`
	EntityTypes     []entityTypeXML   `xml:"EntityType"`
	EntityContainer []entityContainer `xml:"EntityContainer"`
}

type entityTypeXML struct {
	Name       string        `xml:"Name,attr"`
	Key        keyXML        `xml:"Key"`
	Properties []propertyXML `xml:"Property"`
}

type keyXML struct {
	PropertyRefs []propertyRef `xml:"PropertyRef"`
}

type propertyRef struct {
	Name string `xml:"Name,attr"`
}

type propertyXML struct {
	Name      string `xml:"Name,attr"`
	Type      string `xml:"Type,attr"`
	Nullable  string `xml:"Nullable,attr"`
	MaxLength string `xml:"MaxLength,attr"`
}

type entityContainer struct {
	Name            string              `xml:"Name,attr"`
	EntitySets      []entitySetXML      `xml:"EntitySet"`
	FunctionImports []functionImportXML `xml:"FunctionImport"`
}

type entitySetXML struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
	// SAP capability annotations; absent means permitted.
	Creatable   string `xml:"creatable,attr"`
	Updatable   string `xml:"updatable,attr"`
	Deletable   string `xml:"deletable,attr"`
	Searchable  string `xml:"searchable,attr"`
	Pageable    string `xml:"pageable,attr"`
	Addressable string `xml:"addressable,attr"`
}

type functionImportXML struct {
	Name       string         `xml:"Name,attr"`
	ReturnType string         `xml:"ReturnType,attr"`
	HTTPMethod string         `xml:"HttpMethod,attr"`
	Parameters []parameterXML `xml:"Parameter"`
}

type parameterXML struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Mode     string `xml:"Mode,attr"`
	Nullable string `xml:"Nullable,attr"`
}

// Parse turns a $metadata document into ServiceMetadata. Individual entity
// types that cannot be parsed (no name) are skipped with a warning instead of
// failing the whole load; types without key properties are kept.
func Parse(data []byte, serviceRoot string) (*models.ServiceMetadata, error) {
	var doc edmx
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}

	meta := &models.ServiceMetadata{
		ServiceRoot:     serviceRoot,
		EntityTypes:     make(map[string]*models.EntityType),
		EntitySets:      make(map[string]*models.EntitySet),
		FunctionImports: make(map[string]*models.FunctionImport),
	}

	for _, s := range doc.DataServices.Schemas {
		if meta.SchemaNamespace == "" {
			meta.SchemaNamespace = s.Namespace
		}
		for _, et := range s.EntityTypes {
			parsed, err := parseEntityType(s.Namespace, et)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Skipping entity type %s: %v\n", et.Name, err)
				continue
			}
			meta.EntityTypes[et.Name] = parsed
		}
		for _, container := range s.EntityContainer {
			if meta.ContainerName == "" {
				meta.ContainerName = container.Name
			}
			for _, es := range container.EntitySets {
				meta.EntitySets[es.Name] = parseEntitySet(es)
			}
			for _, fi := range container.FunctionImports {
				meta.FunctionImports[fi.Name] = parseFunctionImport(fi)
			}
		}
	}

	if len(meta.EntityTypes) == 0 && len(meta.EntitySets) == 0 && len(meta.FunctionImports) == 0 {
		return nil, fmt.Errorf("metadata document contains no schema content")
	}

	return meta, nil
}

func parseEntityType(namespace string, et entityTypeXML) (*models.EntityType, error) {
	if et.Name == "" {
		return nil, fmt.Errorf("entity type without a name")
	}

	entityType := &models.EntityType{
		Name:          et.Name,
		QualifiedName: namespace + "." + et.Name,
		Properties:    make([]*models.Property, 0, len(et.Properties)),
		KeyProperties: make([]string, 0, len(et.Key.PropertyRefs)),
	}

	for _, ref := range et.Key.PropertyRefs {
		entityType.KeyProperties = append(entityType.KeyProperties, ref.Name)
	}

	for _, p := range et.Properties {
		maxLength := 0
		if p.MaxLength != "" && p.MaxLength != "Max" {
			if n, err := strconv.Atoi(p.MaxLength); err == nil {
				maxLength = n
			}
		}
		entityType.Properties = append(entityType.Properties, &models.Property{
			Name:      p.Name,
			Type:      p.Type,
			Nullable:  p.Nullable != "false", // absent means nullable
			IsKey:     containsString(entityType.KeyProperties, p.Name),
			MaxLength: maxLength,
		})
	}

	return entityType, nil
}

func parseEntitySet(es entitySetXML) *models.EntitySet {
	// Strip the namespace qualifier from the entity type reference.
	typeName := es.EntityType
	if idx := strings.LastIndex(typeName, "."); idx >= 0 {
		typeName = typeName[idx+1:]
	}

	return &models.EntitySet{
		Name:        es.Name,
		EntityType:  typeName,
		Creatable:   es.Creatable != "false",
		Updatable:   es.Updatable != "false",
		Deletable:   es.Deletable != "false",
		Searchable:  es.Searchable != "false",
		Pageable:    es.Pageable != "false",
		Addressable: es.Addressable != "false",
	}
}

func parseFunctionImport(fi functionImportXML) *models.FunctionImport {
	function := &models.FunctionImport{
		Name:       fi.Name,
		HTTPMethod: fi.HTTPMethod,
		ReturnType: fi.ReturnType,
		Parameters: make([]*models.FunctionParameter, 0, len(fi.Parameters)),
	}
	if function.HTTPMethod == "" {
		function.HTTPMethod = constants.GET
	}

	for _, p := range fi.Parameters {
		mode := p.Mode
		if mode == "" {
			mode = "In"
		}
		function.Parameters = append(function.Parameters, &models.FunctionParameter{
			Name:     p.Name,
			Type:     p.Type,
			Mode:     mode,
			Nullable: p.Nullable != "false",
		})
	}

	return function
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
