package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odatamcp/bridge/internal/models"
)

func productMeta() *models.ServiceMetadata {
	return &models.ServiceMetadata{
		EntityTypes: map[string]*models.EntityType{
			"Product": {
				Name: "Product",
				Properties: []*models.Property{
					{Name: "ProductID", Type: "Edm.Int32", IsKey: true},
					{Name: "Name", Type: "Edm.String"},
					{Name: "Id", Type: "Edm.Binary", MaxLength: 16},
					{Name: "Checksum", Type: "Edm.Binary", MaxLength: 16},
					{Name: "CreatedAt", Type: "Edm.DateTime"},
				},
				KeyProperties: []string{"ProductID"},
			},
		},
		EntitySets: map[string]*models.EntitySet{
			"Products": {Name: "Products", EntityType: "Product"},
		},
	}
}

func newNormalizer(opts Options) *Normalizer {
	return &Normalizer{Meta: productMeta(), Opts: opts}
}

func listDoc(items ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"d": map[string]interface{}{"results": items},
	}
}

func TestUnwrapListEnvelope(t *testing.T) {
	doc := map[string]interface{}{
		"d": map[string]interface{}{
			"results": []interface{}{map[string]interface{}{"a": 1.0}},
			"__count": "25",
			"__next":  "Products?$skiptoken=xyz",
		},
	}

	u := Unwrap(doc)
	assert.True(t, u.IsList)
	assert.Len(t, u.Items, 1)
	require.NotNil(t, u.TotalCount)
	assert.Equal(t, int64(25), *u.TotalCount)
	assert.Equal(t, "Products?$skiptoken=xyz", u.NextLink)
}

func TestUnwrapSingleEntity(t *testing.T) {
	doc := map[string]interface{}{
		"d": map[string]interface{}{"ProductID": 1.0, "Name": "Chai"},
	}

	u := Unwrap(doc)
	assert.False(t, u.IsList)
	entity, ok := u.Single.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Chai", entity["Name"])
}

func TestListStripsMetadataByDefault(t *testing.T) {
	n := newNormalizer(Options{})
	doc := listDoc(map[string]interface{}{
		"ProductID":  1.0,
		"__metadata": map[string]interface{}{"uri": "Products(1)"},
	})

	result, err := n.List("Products", doc, 0, 0)
	require.NoError(t, err)

	list := result.(*ListResult)
	require.Len(t, list.Results, 1)
	assert.NotContains(t, list.Results[0].(map[string]interface{}), "__metadata")
}

func TestListKeepsMetadataWhenAsked(t *testing.T) {
	n := newNormalizer(Options{KeepMetadata: true})
	doc := listDoc(map[string]interface{}{
		"ProductID":  1.0,
		"__metadata": map[string]interface{}{"uri": "Products(1)"},
	})

	result, err := n.List("Products", doc, 0, 0)
	require.NoError(t, err)
	list := result.(*ListResult)
	assert.Contains(t, list.Results[0].(map[string]interface{}), "__metadata")
}

func TestGUIDNormalizationByDeclaredType(t *testing.T) {
	n := newNormalizer(Options{})
	doc := listDoc(map[string]interface{}{
		"Id":       "AkkEEAAEH9CL4dDCiWvlwg==",
		"Checksum": "AkkEEAAEH9CL4dDCiWvlwg==",
	})

	result, err := n.List("Products", doc, 0, 0)
	require.NoError(t, err)

	entity := result.(*ListResult).Results[0].(map[string]interface{})
	assert.Equal(t, "02490410-0004-1FD0-8BE1-D0C2896BE5C2", entity["Id"],
		"binary(16) named Id is GUID-shaped")
	assert.Equal(t, "AkkEEAAEH9CL4dDCiWvlwg==", entity["Checksum"],
		"binary(16) without a GUID-ish name stays raw")
}

func TestLegacyDateConversion(t *testing.T) {
	on := newNormalizer(Options{LegacyDates: true})
	doc := listDoc(map[string]interface{}{"CreatedAt": "/Date(1672531200000)/"})

	result, err := on.List("Products", doc, 0, 0)
	require.NoError(t, err)
	entity := result.(*ListResult).Results[0].(map[string]interface{})
	assert.Equal(t, "2023-01-01T00:00:00Z", entity["CreatedAt"])

	off := newNormalizer(Options{LegacyDates: false})
	result, err = off.List("Products", listDoc(map[string]interface{}{"CreatedAt": "/Date(1672531200000)/"}), 0, 0)
	require.NoError(t, err)
	entity = result.(*ListResult).Results[0].(map[string]interface{})
	assert.Equal(t, "/Date(1672531200000)/", entity["CreatedAt"])
}

func TestMaxItemsTruncation(t *testing.T) {
	n := newNormalizer(Options{MaxItems: 3})

	items := make([]interface{}, 10)
	for i := range items {
		items[i] = map[string]interface{}{"ProductID": float64(i)}
	}

	result, err := n.List("Products", listDoc(items...), 0, 0)
	require.NoError(t, err)

	list := result.(*ListResult)
	assert.Len(t, list.Results, 3)
	assert.True(t, list.Truncated)
}

func TestMaxItemsBoundaryNotTruncated(t *testing.T) {
	n := newNormalizer(Options{MaxItems: 3})

	items := []interface{}{
		map[string]interface{}{"ProductID": 1.0},
		map[string]interface{}{"ProductID": 2.0},
		map[string]interface{}{"ProductID": 3.0},
	}

	result, err := n.List("Products", listDoc(items...), 0, 0)
	require.NoError(t, err)
	list := result.(*ListResult)
	assert.Len(t, list.Results, 3)
	assert.False(t, list.Truncated)
}

func TestByteBoundSummaryForm(t *testing.T) {
	n := newNormalizer(Options{MaxResponseSize: 64})

	big := make([]interface{}, 8)
	for i := range big {
		big[i] = map[string]interface{}{"Name": "a long enough product name to blow the budget"}
	}

	result, err := n.List("Products", listDoc(big...), 0, 0)
	require.NoError(t, err)

	summary, ok := result.(map[string]interface{})
	require.True(t, ok, "oversized responses become the abbreviated summary, never a prefix")
	assert.Equal(t, true, summary["truncated"])
	assert.Equal(t, 8, summary["item_count"])
	assert.Greater(t, summary["original_size_bytes"].(int), 64)
	assert.NotEmpty(t, summary["message"])
}

func TestByteBoundExactSizeNotTruncated(t *testing.T) {
	doc := listDoc(map[string]interface{}{"Name": "Chai"})

	// measure the serialized size, then bound at exactly that size
	unbounded := newNormalizer(Options{})
	result, err := unbounded.List("Products", doc, 0, 0)
	require.NoError(t, err)
	data, err := json.Marshal(result)
	require.NoError(t, err)

	bounded := newNormalizer(Options{MaxResponseSize: len(data)})
	result, err = bounded.List("Products", doc, 0, 0)
	require.NoError(t, err)
	_, isSummary := result.(map[string]interface{})
	assert.False(t, isSummary, "a response of exactly the bound is not truncated")
}

func TestPaginationHintsSkip(t *testing.T) {
	n := newNormalizer(Options{MaxItems: 3, PaginationHints: true})

	items := make([]interface{}, 10)
	for i := range items {
		items[i] = map[string]interface{}{"ProductID": float64(i)}
	}

	result, err := n.List("Products", listDoc(items...), 0, 0)
	require.NoError(t, err)

	list := result.(*ListResult)
	require.NotNil(t, list.Pagination)
	assert.Equal(t, true, list.Pagination["has_more"])

	next := list.Pagination["suggested_next_call"].(map[string]interface{})
	assert.Equal(t, 3, next["skip"])
}

func TestPaginationHintsSkipToken(t *testing.T) {
	n := newNormalizer(Options{PaginationHints: true})

	doc := map[string]interface{}{
		"d": map[string]interface{}{
			"results": []interface{}{map[string]interface{}{"ProductID": 1.0}},
			"__next":  "Products?$skiptoken=abc123&$top=1",
		},
	}

	result, err := n.List("Products", doc, 0, 1)
	require.NoError(t, err)

	list := result.(*ListResult)
	require.NotNil(t, list.Pagination)
	next := list.Pagination["suggested_next_call"].(map[string]interface{})
	assert.Equal(t, "abc123", next["skiptoken"])
}

func TestSingleEntity(t *testing.T) {
	n := newNormalizer(Options{LegacyDates: true})
	doc := map[string]interface{}{
		"d": map[string]interface{}{
			"ProductID":  1.0,
			"CreatedAt":  "/Date(0)/",
			"__metadata": map[string]interface{}{"uri": "x"},
		},
	}

	result, err := n.Single("Products", doc)
	require.NoError(t, err)

	entity := result.(map[string]interface{})
	assert.Equal(t, "1970-01-01T00:00:00Z", entity["CreatedAt"])
	assert.NotContains(t, entity, "__metadata")
}

func TestFunctionResultCollectionWrapped(t *testing.T) {
	n := newNormalizer(Options{})
	doc := map[string]interface{}{
		"d": map[string]interface{}{
			"results": []interface{}{map[string]interface{}{"v": 1.0}, map[string]interface{}{"v": 2.0}},
		},
	}

	result, err := n.FunctionResult(doc)
	require.NoError(t, err)

	list, ok := result.(*ListResult)
	require.True(t, ok, "collection returns are wrapped in results")
	assert.Len(t, list.Results, 2)
}

func TestFunctionResultScalar(t *testing.T) {
	n := newNormalizer(Options{})
	result, err := n.FunctionResult(map[string]interface{}{"d": "OK"})
	require.NoError(t, err)
	assert.Equal(t, "OK", result)
}
