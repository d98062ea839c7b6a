package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// csrfServer simulates a SAP-style upstream: HEAD with X-CSRF-Token: Fetch
// hands out tokens, modifying requests without a valid token get a CSRF 403.
type csrfServer struct {
	*httptest.Server
	fetchCount int
	postCount  int
	validToken string
	rejectAll  bool
}

func newCSRFServer(t *testing.T) *csrfServer {
	s := &csrfServer{validToken: "token-1"}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.Header.Get("X-CSRF-Token") == "Fetch" {
			s.fetchCount++
			w.Header().Set("X-CSRF-Token", s.validToken)
			w.WriteHeader(http.StatusOK)
			return
		}

		if r.Method == http.MethodPost {
			s.postCount++
			if s.rejectAll || r.Header.Get("X-CSRF-Token") != s.validToken {
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "HTTP/403",
						"message": map[string]interface{}{"value": "CSRF token validation failed"},
					},
				})
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"d": map[string]interface{}{"ID": "1"},
			})
			return
		}

		w.Write([]byte("{}"))
	}))
	t.Cleanup(s.Close)
	return s
}

func TestCSRFTokenFetchedLazilyOnFirstWrite(t *testing.T) {
	s := newCSRFServer(t)
	c := New(s.URL, nil, Options{})

	_, err := c.Create(context.Background(), "Products", map[string]interface{}{"Name": "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, s.fetchCount, "HEAD fetch before the first modifying request")
	assert.Equal(t, 1, s.postCount)
}

func TestCSRFTokenReusedAcrossWrites(t *testing.T) {
	s := newCSRFServer(t)
	c := New(s.URL, nil, Options{})

	for i := 0; i < 3; i++ {
		_, err := c.Create(context.Background(), "Products", map[string]interface{}{"Name": "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, s.fetchCount, "exactly one fetch per valid-token sequence")
	assert.Equal(t, 3, s.postCount)
}

func TestCSRFExpiredTokenRetriedOnce(t *testing.T) {
	s := newCSRFServer(t)
	c := New(s.URL, nil, Options{})

	// Acquire token-1, then expire it server-side.
	_, err := c.Create(context.Background(), "Products", map[string]interface{}{"Name": "x"})
	require.NoError(t, err)
	s.validToken = "token-2"

	_, err = c.Create(context.Background(), "Products", map[string]interface{}{"Name": "y"})
	require.NoError(t, err)

	assert.Equal(t, 2, s.fetchCount, "one refetch after the CSRF 403")
	assert.Equal(t, 3, s.postCount, "failed POST, then exactly one retry")
}

func TestCSRFSecondRejectionSurfaces(t *testing.T) {
	s := newCSRFServer(t)
	s.rejectAll = true
	c := New(s.URL, nil, Options{})

	_, err := c.Create(context.Background(), "Products", map[string]interface{}{"Name": "x"})
	require.Error(t, err)

	upstream, ok := err.(*UpstreamError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, upstream.StatusCode)
	assert.Contains(t, upstream.Message, "CSRF")

	assert.Equal(t, 2, s.fetchCount, "initial fetch plus exactly one refetch")
	assert.Equal(t, 2, s.postCount, "original request retried once and only once")
}

func TestReadsNeverTriggerTokenFetch(t *testing.T) {
	s := newCSRFServer(t)
	c := New(s.URL, nil, Options{})

	_, err := c.List(context.Background(), "Products", nil)
	require.NoError(t, err)
	assert.Zero(t, s.fetchCount)
}
