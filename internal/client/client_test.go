package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odatamcp/bridge/internal/models"
)

func testParam(name, edmType string) *models.FunctionParameter {
	return &models.FunctionParameter{Name: name, Type: edmType, Mode: "In", Nullable: true}
}

func testFunction(name, method string, params ...*models.FunctionParameter) *models.FunctionImport {
	return &models.FunctionImport{Name: name, HTTPMethod: method, Parameters: params}
}

func TestEncodeQueryNeverEmitsPlus(t *testing.T) {
	params := url.Values{}
	params.Set("$filter", "Price gt 20 and Name eq 'A B'")
	params.Set("$orderby", "Price desc")

	encoded := encodeQuery(params)
	assert.NotContains(t, encoded, "+")
	assert.Contains(t, encoded, "%20")
}

func TestListBuildsQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/Products", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"d": map[string]interface{}{"results": []interface{}{}},
		})
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	_, err := c.List(context.Background(), "Products", map[string]string{
		"$filter": "Price gt 20",
		"$top":    "2",
	})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "%24format=json")
	assert.Contains(t, gotQuery, "%24filter=Price%20gt%2020")
	assert.Contains(t, gotQuery, "%24top=2")
	assert.NotContains(t, gotQuery, "+")
}

func TestCountParsesPlainInteger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Products/$count", r.URL.Path)
		assert.Equal(t, "$filter=Price gt 20", mustQueryUnescape(t, r.URL.RawQuery))
		w.Write([]byte("42"))
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	count, err := c.Count(context.Background(), "Products", "Price gt 20")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func mustQueryUnescape(t *testing.T, raw string) string {
	t.Helper()
	unescaped, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	return unescaped
}

func TestGetAppendsKeyPredicateVerbatim(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RequestURI keeps the raw escaping; URL.Path would decode %2F
		gotPath = r.RequestURI
		json.NewEncoder(w).Encode(map[string]interface{}{"d": map[string]interface{}{"Program": "x"}})
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	_, err := c.Get(context.Background(), "PROGRAMSet", "('%2FIWFND%2FSUTIL_GW_CLIENT')", nil)
	require.NoError(t, err)
	assert.Contains(t, gotPath, "PROGRAMSet('%2FIWFND%2FSUTIL_GW_CLIENT')")
}

func TestBasicAuthOnEveryRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := New(server.URL, BasicAuth{User: "alice", Pass: "secret"}, Options{})
	_, err := c.List(context.Background(), "Products", nil)
	require.NoError(t, err)
}

func TestCookieAuthSendsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("MYSAPSSO2")
		require.NoError(t, err)
		assert.Equal(t, "opaque-value", cookie.Value)
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := New(server.URL, CookieAuth{Cookies: map[string]string{"MYSAPSSO2": "opaque-value"}}, Options{})
	_, err := c.List(context.Background(), "Products", nil)
	require.NoError(t, err)
}

func TestUpdateFallsBackToPUTOn405(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("X-CSRF-Token", "tok")
			return
		}
		methods = append(methods, r.Method)
		if r.Method == "MERGE" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"d": map[string]interface{}{"ID": "1"}})
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	_, err := c.Update(context.Background(), "Products", "('1')", map[string]interface{}{"Name": "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MERGE", "PUT"}, methods)
}

func TestDeleteToleratesEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("X-CSRF-Token", "tok")
			return
		}
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	err := c.Delete(context.Background(), "Products", "('1')")
	assert.NoError(t, err)
}

func TestCallFunctionGETParamsInQuery(t *testing.T) {
	var gotURI string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{"d": map[string]interface{}{"ok": true}})
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	fn := testFunction("GetProductAvailability", "GET",
		testParam("ProductID", "Edm.String"),
		testParam("Count", "Edm.Int32"))

	_, err := c.CallFunction(context.Background(), fn, map[string]interface{}{
		"ProductID": "HT-1000",
		"Count":     float64(3),
	})
	require.NoError(t, err)
	assert.Contains(t, gotURI, "GetProductAvailability?")
	assert.Contains(t, gotURI, "ProductID='HT-1000'")
	assert.Contains(t, gotURI, "Count=3")
}

func TestCallFunctionPOSTHasNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("X-CSRF-Token", "tok")
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.RequestURI, "NoOfSalesOrders=5")
		assert.Equal(t, int64(0), r.ContentLength)
		json.NewEncoder(w).Encode(map[string]interface{}{"d": "done"})
	}))
	defer server.Close()

	c := New(server.URL, nil, Options{})
	fn := testFunction("RegenerateData", "POST", testParam("NoOfSalesOrders", "Edm.Int32"))

	_, err := c.CallFunction(context.Background(), fn, map[string]interface{}{
		"NoOfSalesOrders": float64(5),
	})
	require.NoError(t, err)
}

func TestNetworkErrorSynthesizesStatusZero(t *testing.T) {
	c := New("http://127.0.0.1:1", nil, Options{})
	_, err := c.List(context.Background(), "Products", nil)
	require.Error(t, err)

	upstream, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, 0, upstream.StatusCode)
	assert.NotEmpty(t, upstream.Message)
}

func TestVerboseErrorsCarryRequestContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":{"value":"bad filter"}}}`))
	}))
	defer server.Close()

	c := New(server.URL, BasicAuth{User: "alice", Pass: "secret"}, Options{VerboseErrors: true})
	_, err := c.List(context.Background(), "Products", nil)
	require.Error(t, err)

	upstream, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, "GET", upstream.Method)
	assert.NotEmpty(t, upstream.URL)
	auth := upstream.Headers["Authorization"]
	assert.NotContains(t, auth, "secret")
	assert.Contains(t, auth, "Basic")
}
