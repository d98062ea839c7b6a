// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// UpstreamError is the single structured error surfaced for any failed
// OData exchange. StatusCode 0 means the request never produced a response
// (network failure, timeout). Method, URL and Headers are only populated in
// verbose-errors mode, with sensitive header values already masked.
type UpstreamError struct {
	StatusCode int               `json:"http_status"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Details    []string          `json:"details,omitempty"`
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	if e.StatusCode == 0 {
		b.WriteString("request failed")
	} else {
		fmt.Fprintf(&b, "OData error (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Method, e.URL)
	}
	return b.String()
}

// IsAuthFailure reports whether the upstream answered 401 or 403. It does not
// tell a CSRF rejection apart from other 403s.
func (e *UpstreamError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// ExtractError builds an UpstreamError from a non-2xx response body. It
// walks the known OData error envelopes in order: v2 (error.message.value),
// v4 (error.message as a string), innererror.message, error.details[], and
// the SAP innererror.errordetails list. Bodies that are not JSON are scanned
// as XML for the first <message> element. As a last resort the raw body text
// becomes the message.
func ExtractError(statusCode int, body []byte) *UpstreamError {
	result := &UpstreamError{StatusCode: statusCode}

	if msg, code, details, ok := extractJSONError(body); ok {
		result.Message = msg
		result.Code = code
		result.Details = details
		return result
	}

	if msg, ok := extractXMLMessage(body); ok {
		result.Message = msg
		return result
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		text = fmt.Sprintf("HTTP %d with empty response body", statusCode)
	}
	result.Message = text
	return result
}

func extractJSONError(body []byte) (message, code string, details []string, ok bool) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return "", "", nil, false
	}

	var errObj struct {
		Code    string          `json:"code"`
		Message json.RawMessage `json:"message"`
		Details []struct {
			Message string `json:"message"`
		} `json:"details"`
		InnerError struct {
			Message      string `json:"message"`
			ErrorDetails []struct {
				Message string `json:"message"`
			} `json:"errordetails"`
		} `json:"innererror"`
	}
	if err := json.Unmarshal(envelope.Error, &errObj); err != nil {
		return "", "", nil, false
	}

	code = errObj.Code

	// v2 shape: message is {"lang": "...", "value": "..."}.
	var v2msg struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(errObj.Message, &v2msg); err == nil && v2msg.Value != "" {
		message = v2msg.Value
	}
	// v4 shape: message is a bare string.
	if message == "" {
		var v4msg string
		if err := json.Unmarshal(errObj.Message, &v4msg); err == nil {
			message = v4msg
		}
	}
	if message == "" {
		message = errObj.InnerError.Message
	}

	for _, d := range errObj.Details {
		if d.Message != "" {
			details = append(details, d.Message)
		}
	}
	for _, d := range errObj.InnerError.ErrorDetails {
		if d.Message != "" && !containsDetail(details, d.Message) {
			details = append(details, d.Message)
		}
	}

	if message == "" && len(details) > 0 {
		message = details[0]
		details = details[1:]
	}
	if message == "" {
		return "", "", nil, false
	}
	return message, code, details, true
}

// extractXMLMessage scans an XML body for the text of the first <message>
// element, regardless of namespace or nesting.
func extractXMLMessage(body []byte) (string, bool) {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	inMessage := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if strings.EqualFold(t.Name.Local, "message") {
				inMessage = true
			}
		case xml.CharData:
			if inMessage {
				text := strings.TrimSpace(string(t))
				if text != "" {
					return text, true
				}
			}
		case xml.EndElement:
			if strings.EqualFold(t.Name.Local, "message") {
				inMessage = false
			}
		}
	}
}

func containsDetail(details []string, msg string) bool {
	for _, d := range details {
		if d == msg {
			return true
		}
	}
	return false
}

// isCSRFFailure reports whether a 403 response indicates CSRF token
// rejection rather than a plain authorization failure.
func isCSRFFailure(headerToken string, body []byte) bool {
	if strings.EqualFold(headerToken, "required") {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "csrf")
}
