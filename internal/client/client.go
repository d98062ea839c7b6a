// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odatamcp/bridge/internal/constants"
	"github.com/odatamcp/bridge/internal/debug"
	"github.com/odatamcp/bridge/internal/metadata"
	"github.com/odatamcp/bridge/internal/models"
)

// Auth is the credential variant attached to every upstream request.
type Auth interface{ isAuth() }

// BasicAuth sends username/password on each request.
type BasicAuth struct {
	User string
	Pass string
}

func (BasicAuth) isAuth() {}

// CookieAuth seeds the session jar with opaque cookie material. TLS
// verification is disabled under this variant: cookie auth is the corporate
// intranet path where private CAs are the norm, and anyone who needs
// verification can use basic auth against a properly trusted chain.
type CookieAuth struct {
	Cookies map[string]string
}

func (CookieAuth) isAuth() {}

// Options tunes a Client beyond its auth variant.
type Options struct {
	Verbose       bool
	VerboseErrors bool
	Timeout       time.Duration // per-request; defaults to constants.DefaultTimeout
}

// Client is the long-lived HTTP session against one OData service. Safe for
// concurrent use: the underlying http.Client pools connections, and the CSRF
// slot is guarded by its own mutex.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	auth          Auth
	verbose       bool
	verboseErrors bool

	csrfMu    sync.Mutex
	csrfToken string
}

// New creates a client for the given service root.
func New(baseURL string, auth Auth, opts Options) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultTimeout * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     constants.DefaultIdleConnTimeout * time.Second,
	}

	jar, _ := cookiejar.New(nil)

	if cookieAuth, ok := auth.(CookieAuth); ok {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		if parsed, err := url.Parse(baseURL); err == nil {
			cookies := make([]*http.Cookie, 0, len(cookieAuth.Cookies))
			for name, value := range cookieAuth.Cookies {
				cookies = append(cookies, &http.Cookie{Name: name, Value: value})
			}
			jar.SetCookies(parsed, cookies)
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		},
		auth:          auth,
		verbose:       opts.Verbose,
		verboseErrors: opts.VerboseErrors,
	}
}

// AuthDescription is a loggable summary of the configured credentials.
func (c *Client) AuthDescription() string {
	switch a := c.auth.(type) {
	case BasicAuth:
		return fmt.Sprintf("Basic (user: %s)", a.User)
	case CookieAuth:
		return fmt.Sprintf("Cookie (%d cookies)", len(a.Cookies))
	default:
		return "None (anonymous)"
	}
}

// encodeQuery encodes query parameters and rewrites '+' as '%20'; several
// OData servers reject '+' for space.
func encodeQuery(params url.Values) string {
	return strings.ReplaceAll(params.Encode(), "+", "%20")
}

// FetchMetadata loads and parses $metadata. When the document cannot be
// fetched or parsed it probes the JSON service document and synthesizes
// shell metadata; if that also fails, startup is over.
func (c *Client) FetchMetadata(ctx context.Context) (*models.ServiceMetadata, error) {
	body, status, err := c.fetchRaw(ctx, constants.MetadataEndpoint, constants.ContentTypeXML, constants.DefaultMetadataTimeout*time.Second)
	if err == nil && status == http.StatusOK {
		meta, parseErr := metadata.Parse(body, c.baseURL)
		if parseErr == nil {
			return meta, nil
		}
		err = parseErr
	} else if err == nil {
		err = ExtractError(status, body)
	}

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] Metadata load failed (%v), probing service document...\n", err)
	}

	docBody, docStatus, docErr := c.fetchRaw(ctx, "", constants.ContentTypeJSON, constants.DefaultMetadataTimeout*time.Second)
	if docErr != nil {
		return nil, fmt.Errorf("metadata unavailable: %v (service document fetch failed: %v)", err, docErr)
	}
	if docStatus != http.StatusOK {
		return nil, fmt.Errorf("metadata unavailable: %v (service document returned HTTP %d)", err, docStatus)
	}

	meta, fallbackErr := metadata.FromServiceDocument(docBody, c.baseURL)
	if fallbackErr != nil {
		return nil, fmt.Errorf("metadata unavailable: %v (fallback: %v)", err, fallbackErr)
	}
	fmt.Fprintf(os.Stderr, "[WARN] Using service document fallback: %d entity sets with synthesized string keys, write operations disabled\n", len(meta.EntitySets))
	return meta, nil
}

// fetchRaw does a plain GET without the error ladder, for startup fetches
// that have their own fallback handling.
func (c *Client) fetchRaw(ctx context.Context, endpoint, accept string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set(constants.Accept, accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// List executes GET <set>?<query>. Options arrive already validated; the
// caller supplies $select defaulting. $format=json is always requested.
func (c *Client) List(ctx context.Context, entitySet string, options map[string]string) (interface{}, error) {
	params := url.Values{}
	params.Set(constants.QueryFormat, "json")
	for key, value := range options {
		if value != "" {
			params.Set(key, value)
		}
	}
	endpoint := entitySet + "?" + encodeQuery(params)

	body, err := c.do(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

// Count executes GET <set>/$count and returns the plain integer body.
func (c *Client) Count(ctx context.Context, entitySet, filter string) (int64, error) {
	endpoint := entitySet + "/" + constants.CountSegment
	if filter != "" {
		params := url.Values{}
		params.Set(constants.QueryFilter, filter)
		endpoint += "?" + encodeQuery(params)
	}

	body, err := c.do(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return 0, err
	}

	count, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected $count response %q: %w", strings.TrimSpace(string(body)), err)
	}
	return count, nil
}

// Get executes GET <set>(<key>)?<query> for a single entity.
func (c *Client) Get(ctx context.Context, entitySet, keyPredicate string, options map[string]string) (interface{}, error) {
	params := url.Values{}
	params.Set(constants.QueryFormat, "json")
	for key, value := range options {
		if value != "" {
			params.Set(key, value)
		}
	}
	endpoint := entitySet + keyPredicate + "?" + encodeQuery(params)

	body, err := c.do(ctx, constants.GET, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

// Create executes POST <set> with a JSON body and returns the created entity.
func (c *Client) Create(ctx context.Context, entitySet string, payload map[string]interface{}) (interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	body, err := c.do(ctx, constants.POST, entitySet, data)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

// Update executes MERGE <set>(<key>), falling back to PUT when the server
// answers 405 Method Not Allowed.
func (c *Client) Update(ctx context.Context, entitySet, keyPredicate string, payload map[string]interface{}) (interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	endpoint := entitySet + keyPredicate
	body, err := c.do(ctx, constants.MERGE, endpoint, data)
	if upstream, ok := err.(*UpstreamError); ok && upstream.StatusCode == http.StatusMethodNotAllowed {
		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] MERGE not allowed on %s, retrying with PUT\n", entitySet)
		}
		body, err = c.do(ctx, constants.PUT, endpoint, data)
	}
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

// Delete executes DELETE <set>(<key>). Any 2xx is success; empty bodies are
// the norm.
func (c *Client) Delete(ctx context.Context, entitySet, keyPredicate string) error {
	_, err := c.do(ctx, constants.DELETE, entitySet+keyPredicate, nil)
	return err
}

// CallFunction invokes a function import. Scalar parameters travel in the
// query string for both GET and POST; there is no request body.
func (c *Client) CallFunction(ctx context.Context, function *models.FunctionImport, params map[string]interface{}) (interface{}, error) {
	endpoint := function.Name
	if len(params) > 0 {
		parts := make([]string, 0, len(params))
		for _, p := range function.Parameters {
			value, ok := params[p.Name]
			if !ok {
				continue
			}
			parts = append(parts, p.Name+"="+formatFunctionParam(p.Type, value))
		}
		endpoint += "?" + strings.Join(parts, "&")
	}

	method := function.HTTPMethod
	if method == "" {
		method = constants.GET
	}

	body, err := c.do(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}

// formatFunctionParam renders one scalar parameter for the query string.
// Strings are single-quoted and percent-encoded; numerics and booleans are
// bare literals.
func formatFunctionParam(edmType string, value interface{}) string {
	switch edmType {
	case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte":
		if f, ok := value.(float64); ok {
			return strconv.FormatInt(int64(f), 10)
		}
		return fmt.Sprintf("%v", value)
	case "Edm.Single", "Edm.Double", "Edm.Decimal":
		if f, ok := value.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", value)
	case "Edm.Boolean":
		if b, ok := value.(bool); ok {
			return strconv.FormatBool(b)
		}
		return fmt.Sprintf("%v", value)
	default:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		escaped := strings.ReplaceAll(url.QueryEscape(strings.ReplaceAll(s, "'", "''")), "+", "%20")
		return "'" + escaped + "'"
	}
}

// newRequest builds a request with base headers and credentials attached.
// The CSRF token is added separately by do, under its own lock.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	fullURL := c.baseURL + strings.TrimPrefix(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)

	if basic, ok := c.auth.(BasicAuth); ok {
		req.SetBasicAuth(basic.User, basic.Pass)
	}

	return req, nil
}

// isModifying reports whether the method needs a CSRF token.
func isModifying(method string) bool {
	return method != constants.GET && method != constants.HEAD
}

// do executes one request with CSRF handling: the token is fetched lazily
// before the first modifying request, attached to all non-GET/HEAD requests,
// and on a CSRF 403 it is refreshed once and the original request retried
// exactly once. Nothing else is retried. Returns the response body on any
// 2xx, an *UpstreamError otherwise.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	modifying := isModifying(method)
	if modifying {
		if err := c.ensureCSRFToken(ctx); err != nil && c.verbose {
			// Some services never issue tokens; proceed and let them decide.
			fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token fetch failed, continuing without: %v\n", err)
		}
	}

	csrfRetried := false
	for {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := c.newRequest(ctx, method, endpoint, bodyReader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
			req.ContentLength = int64(len(payload))
		}
		if modifying {
			if token := c.currentCSRFToken(); token != "" {
				req.Header.Set(constants.CSRFTokenHeader, token)
			}
		}

		if c.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s\n", method, debug.MaskURL(req.URL.String()))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, c.networkError(method, req.URL.String(), err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, c.networkError(method, req.URL.String(), readErr)
		}

		if resp.StatusCode == http.StatusForbidden && modifying && !csrfRetried &&
			isCSRFFailure(resp.Header.Get(constants.CSRFTokenHeader), body) {
			if c.verbose {
				fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token rejected, refetching once\n")
			}
			csrfRetried = true
			c.invalidateCSRFToken()
			if err := c.ensureCSRFToken(ctx); err != nil {
				return nil, c.annotate(ExtractError(resp.StatusCode, body), method, req)
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, c.annotate(ExtractError(resp.StatusCode, body), method, req)
		}

		return body, nil
	}
}

// currentCSRFToken reads the slot without holding it across a request.
func (c *Client) currentCSRFToken() string {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	return c.csrfToken
}

func (c *Client) invalidateCSRFToken() {
	c.csrfMu.Lock()
	c.csrfToken = ""
	c.csrfMu.Unlock()
}

// ensureCSRFToken populates the slot if it is empty. The whole fetch+assign
// runs under the mutex so concurrent modifying requests cannot clobber a
// fresh token with a stale one; the loser of the race finds the slot filled
// and returns immediately.
func (c *Client) ensureCSRFToken(ctx context.Context) error {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()

	if c.csrfToken != "" {
		return nil
	}

	req, err := c.newRequest(ctx, constants.HEAD, "", nil)
	if err != nil {
		return err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] HEAD %s (CSRF token fetch)\n", debug.MaskURL(req.URL.String()))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CSRF token fetch failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token := resp.Header.Get(constants.CSRFTokenHeader)
	if token == "" || token == constants.CSRFTokenFetch {
		return fmt.Errorf("no CSRF token in response headers")
	}

	c.csrfToken = token
	if c.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] CSRF token acquired: %s\n", debug.MaskToken(token))
	}
	return nil
}

// networkError synthesizes the status-0 error form for transport failures.
func (c *Client) networkError(method, rawURL string, err error) *UpstreamError {
	upstream := &UpstreamError{StatusCode: 0, Message: err.Error()}
	if c.verboseErrors {
		upstream.Method = method
		upstream.URL = debug.MaskURL(rawURL)
	}
	return upstream
}

// annotate attaches request context to an error in verbose-errors mode.
func (c *Client) annotate(err *UpstreamError, method string, req *http.Request) *UpstreamError {
	if !c.verboseErrors {
		return err
	}
	err.Method = method
	err.URL = debug.MaskURL(req.URL.String())
	err.Headers = make(map[string]string, len(req.Header))
	for name := range req.Header {
		err.Headers[name] = debug.MaskHeader(name, req.Header.Get(name))
	}
	return err
}

// decodeJSON parses a response body, tolerating the empty bodies that DELETE
// and some function imports produce.
func decodeJSON(body []byte) (interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return result, nil
}
