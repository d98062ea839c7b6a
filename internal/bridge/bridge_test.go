package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odatamcp/bridge/internal/config"
	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/transport"
)

const testMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"
           xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
           xmlns:sap="http://www.sap.com/Protocols/SAPData">
  <edmx:DataServices m:DataServiceVersion="2.0">
    <Schema Namespace="DEMO" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type="Edm.String" Nullable="false"/>
        <Property Name="Price" Type="Edm.Decimal"/>
        <Property Name="Picture" Type="Edm.Binary"/>
      </EntityType>
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Label" Type="Edm.String"/>
      </EntityType>
      <EntityContainer Name="DEMO_Entities">
        <EntitySet Name="Products" EntityType="DEMO.Product" sap:searchable="true"/>
        <EntitySet Name="Categories" EntityType="DEMO.Category" sap:creatable="false" sap:deletable="false"/>
        <FunctionImport Name="Recalculate" ReturnType="Edm.String" m:HttpMethod="POST">
          <Parameter Name="Scope" Type="Edm.String" Mode="In" Nullable="false"/>
        </FunctionImport>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// fakeService serves metadata plus canned entity responses.
func fakeService(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "$metadata"):
			w.Header().Set("Content-Type", "application/xml")
			w.Write([]byte(testMetadata))
		case r.Method == http.MethodHead:
			w.Header().Set("X-CSRF-Token", "tok")
		case strings.Contains(r.URL.Path, "/$count"):
			w.Write([]byte("7"))
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"d": map[string]interface{}{
					"results": []interface{}{
						map[string]interface{}{"ProductID": 1.0, "Name": "Chai", "Price": "18.00"},
					},
				},
			})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestBridge(t *testing.T, mutate func(*config.Config)) *Bridge {
	t.Helper()
	server := fakeService(t)

	cfg := &config.Config{
		ServiceURL:      server.URL + "/",
		SortTools:       true,
		MaxItems:        constants.DefaultMaxItems,
		MaxResponseSize: constants.DefaultMaxResponseSize,
		LegacyDates:     true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func toolNames(b *Bridge) []string {
	tools := b.Server().Tools()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func hasPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func TestProjectionDefault(t *testing.T) {
	b := newTestBridge(t, nil)
	names := toolNames(b)

	assert.True(t, hasPrefix(names, "filter_Products"))
	assert.True(t, hasPrefix(names, "count_Products"))
	assert.True(t, hasPrefix(names, "search_Products"), "Products is sap:searchable")
	assert.True(t, hasPrefix(names, "get_Products"))
	assert.True(t, hasPrefix(names, "create_Products"))
	assert.True(t, hasPrefix(names, "update_Products"))
	assert.True(t, hasPrefix(names, "delete_Products"))
	assert.True(t, hasPrefix(names, "Recalculate"))
	assert.Contains(t, names, constants.ReadmeToolName)
}

func TestCapabilityFlagsGateProjection(t *testing.T) {
	b := newTestBridge(t, nil)
	names := toolNames(b)

	// Categories: sap:creatable="false" sap:deletable="false"
	assert.False(t, hasPrefix(names, "create_Categories"))
	assert.False(t, hasPrefix(names, "delete_Categories"))
	assert.True(t, hasPrefix(names, "search_Categories"), "searchable defaults to true when undeclared")
	assert.True(t, hasPrefix(names, "update_Categories"))
	assert.True(t, hasPrefix(names, "filter_Categories"))
}

func TestReadOnlyModeDropsAllWrites(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.ReadOnly = true })
	names := toolNames(b)

	for _, name := range names {
		assert.False(t, strings.HasPrefix(name, "create_"), "read-only leaked %s", name)
		assert.False(t, strings.HasPrefix(name, "update_"), "read-only leaked %s", name)
		assert.False(t, strings.HasPrefix(name, "delete_"), "read-only leaked %s", name)
		assert.False(t, strings.HasPrefix(name, "Recalculate"), "read-only leaked %s", name)
	}
	assert.True(t, hasPrefix(names, "filter_Products"))
	assert.True(t, hasPrefix(names, "get_Products"))
}

func TestReadOnlyButFunctionsKeepsActions(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.ReadOnlyButFunctions = true })
	names := toolNames(b)

	assert.False(t, hasPrefix(names, "create_"))
	assert.False(t, hasPrefix(names, "update_"))
	assert.False(t, hasPrefix(names, "delete_"))
	assert.True(t, hasPrefix(names, "Recalculate"))
}

func TestDisableOpsFilter(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.DisableOps = "cud" })
	names := toolNames(b)

	assert.False(t, hasPrefix(names, "create_"))
	assert.False(t, hasPrefix(names, "update_"))
	assert.False(t, hasPrefix(names, "delete_"))
	assert.True(t, hasPrefix(names, "Recalculate"), "A is not part of CUD")
	assert.True(t, hasPrefix(names, "filter_Products"))
}

func TestEnableOpsRestrictsToReads(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.EnableOps = "r" })
	names := toolNames(b)

	assert.True(t, hasPrefix(names, "filter_Products"))
	assert.True(t, hasPrefix(names, "get_Products"))
	assert.True(t, hasPrefix(names, "search_Products"))
	assert.False(t, hasPrefix(names, "create_"))
	assert.False(t, hasPrefix(names, "Recalculate"))
}

func TestEntityAllowlist(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) {
		cfg.AllowedEntities = []string{"Cat*"}
	})
	names := toolNames(b)

	assert.True(t, hasPrefix(names, "filter_Categories"))
	assert.False(t, hasPrefix(names, "filter_Products"))
}

func TestToolNamesCarryServiceSuffix(t *testing.T) {
	b := newTestBridge(t, nil)

	for _, name := range toolNames(b) {
		if name == constants.ReadmeToolName {
			continue
		}
		assert.Contains(t, name, "_for_", "tool %s must carry the service suffix", name)
	}
}

func TestCustomPostfixReplacesDerived(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.ToolPostfix = "demo" })

	names := toolNames(b)
	assert.True(t, hasPrefix(names, "filter_Products_demo"))
	for _, name := range names {
		assert.NotContains(t, name, "_for_")
	}
}

func TestPrefixPlacement(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) {
		cfg.NoPostfix = true
		cfg.ToolPrefix = "demo"
	})

	names := toolNames(b)
	assert.True(t, hasPrefix(names, "demo_filter_Products"))
}

func TestGetToolSchemaRequiresKeys(t *testing.T) {
	b := newTestBridge(t, nil)

	for _, tool := range b.Server().Tools() {
		if !strings.HasPrefix(tool.Name, "get_Products") {
			continue
		}
		required, _ := tool.InputSchema["required"].([]string)
		assert.Equal(t, []string{"ProductID"}, required)
		props := tool.InputSchema["properties"].(map[string]interface{})
		key := props["ProductID"].(map[string]interface{})
		assert.Equal(t, "integer", key["type"])
		assert.Contains(t, key["description"], "(key)")
		return
	}
	t.Fatal("get_Products tool not found")
}

func TestCreateToolSchemaRequiredSet(t *testing.T) {
	b := newTestBridge(t, nil)

	for _, tool := range b.Server().Tools() {
		if !strings.HasPrefix(tool.Name, "create_Products") {
			continue
		}
		required, _ := tool.InputSchema["required"].([]string)
		// keys plus non-nullable non-keys
		assert.ElementsMatch(t, []string{"ProductID", "Name"}, required)
		return
	}
	t.Fatal("create_Products tool not found")
}

func TestFilterCallGoesEndToEnd(t *testing.T) {
	b := newTestBridge(t, nil)

	var filterTool string
	for _, tool := range b.Server().Tools() {
		if strings.HasPrefix(tool.Name, "filter_Products") {
			filterTool = tool.Name
			break
		}
	}
	require.NotEmpty(t, filterTool)

	params, _ := json.Marshal(map[string]interface{}{
		"name":      filterTool,
		"arguments": map[string]interface{}{"filter": "Price gt 20", "top": 2},
	})
	resp, err := b.Server().HandleMessage(context.Background(), &transport.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage("1"),
		Method:  "tools/call",
		Params:  params,
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].Text, `"results"`)
	assert.Contains(t, result.Content[0].Text, "Chai")
	assert.NotContains(t, result.Content[0].Text, "__metadata")
}

func TestInfoToolCustomName(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) { cfg.InfoToolName = "about" })
	names := toolNames(b)
	assert.True(t, hasPrefix(names, "about_for_"))
	assert.Contains(t, names, constants.ReadmeToolName)
}
