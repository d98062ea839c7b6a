package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/odatamcp/bridge/internal/models"
)

// FromServiceDocument synthesizes minimal metadata from the JSON service
// document when $metadata cannot be fetched or parsed. Each listed entity
// set gets a shell entity type with a single string-typed ID key, so filter
// and count tools stay callable. Capabilities are conservative: reads only.
func FromServiceDocument(data []byte, serviceRoot string) (*models.ServiceMetadata, error) {
	names, err := entitySetNames(data)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("service document lists no entity sets")
	}

	meta := &models.ServiceMetadata{
		ServiceRoot:     serviceRoot,
		EntityTypes:     make(map[string]*models.EntityType, len(names)),
		EntitySets:      make(map[string]*models.EntitySet, len(names)),
		FunctionImports: make(map[string]*models.FunctionImport),
		Fallback:        true,
	}

	for _, name := range names {
		typeName := name + "Type"
		meta.EntityTypes[typeName] = &models.EntityType{
			Name:          typeName,
			QualifiedName: typeName,
			Properties: []*models.Property{
				{Name: "ID", Type: "Edm.String", Nullable: false, IsKey: true},
			},
			KeyProperties: []string{"ID"},
		}
		meta.EntitySets[name] = &models.EntitySet{
			Name:        name,
			EntityType:  typeName,
			Creatable:   false,
			Updatable:   false,
			Deletable:   false,
			Searchable:  false,
			Pageable:    true,
			Addressable: true,
		}
	}

	return meta, nil
}

// entitySetNames handles the two service document shapes seen in the wild:
// OData v2 {"d":{"EntitySets":["A","B"]}} and the flat
// {"value":[{"name":"A","url":"A"}]} form.
func entitySetNames(data []byte) ([]string, error) {
	var v2 struct {
		D struct {
			EntitySets []string `json:"EntitySets"`
		} `json:"d"`
	}
	if err := json.Unmarshal(data, &v2); err == nil && len(v2.D.EntitySets) > 0 {
		return v2.D.EntitySets, nil
	}

	var flat struct {
		Value []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && len(flat.Value) > 0 {
		names := make([]string, 0, len(flat.Value))
		for _, entry := range flat.Value {
			name := entry.Name
			if name == "" {
				name = entry.URL
			}
			if name != "" {
				names = append(names, name)
			}
		}
		return names, nil
	}

	return nil, fmt.Errorf("unrecognized service document format")
}
