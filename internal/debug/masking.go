// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/url"
	"strings"
)

// sensitiveKeys trigger masking wherever they appear in header or query
// parameter names.
var sensitiveKeys = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "auth", "credential",
	"csrf", "cookie",
}

// MaskToken hides a token, keeping the last 8 characters for correlation.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskURL removes credential material from a URL before it is logged:
// userinfo passwords and sensitive query parameter values.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		if _, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}

	query := parsed.Query()
	changed := false
	for key := range query {
		if IsSensitiveKey(key) {
			query.Set(key, "***")
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// MaskHeader masks sensitive header values. Authorization keeps its scheme
// so logs still show whether Basic or Bearer was in play.
func MaskHeader(name, value string) string {
	if value == "" {
		return ""
	}

	if strings.EqualFold(name, "authorization") {
		if scheme, cred, found := strings.Cut(value, " "); found {
			return scheme + " " + MaskToken(cred)
		}
		return MaskToken(value)
	}

	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

// IsSensitiveKey reports whether a header or parameter name suggests
// credential material.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
