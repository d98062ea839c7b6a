package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractErrorV2Envelope(t *testing.T) {
	body := `{"error": {"code": "SY/530", "message": {"lang": "en", "value": "Order 123 does not exist"}}}`

	err := ExtractError(404, []byte(body))
	assert.Equal(t, 404, err.StatusCode)
	assert.Equal(t, "SY/530", err.Code)
	assert.Equal(t, "Order 123 does not exist", err.Message)
}

func TestExtractErrorV4Envelope(t *testing.T) {
	body := `{"error": {"code": "400", "message": "Invalid $filter expression"}}`

	err := ExtractError(400, []byte(body))
	assert.Equal(t, "Invalid $filter expression", err.Message)
	assert.Equal(t, "400", err.Code)
}

func TestExtractErrorInnerError(t *testing.T) {
	body := `{"error": {"code": "X", "message": {}, "innererror": {"message": "deep failure"}}}`

	err := ExtractError(500, []byte(body))
	assert.Equal(t, "deep failure", err.Message)
}

func TestExtractErrorDetails(t *testing.T) {
	body := `{"error": {"message": {"value": "top"}, "details": [{"message": "first"}, {"message": "second"}]}}`

	err := ExtractError(400, []byte(body))
	assert.Equal(t, "top", err.Message)
	assert.Equal(t, []string{"first", "second"}, err.Details)
}

func TestExtractErrorSAPErrorDetails(t *testing.T) {
	body := `{"error": {"message": {"value": "create failed"},
		"innererror": {"errordetails": [{"message": "Quantity missing"}, {"message": "Plant invalid"}]}}}`

	err := ExtractError(400, []byte(body))
	assert.Equal(t, "create failed", err.Message)
	assert.Contains(t, err.Details, "Quantity missing")
	assert.Contains(t, err.Details, "Plant invalid")
}

func TestExtractErrorXMLBody(t *testing.T) {
	body := `<?xml version="1.0"?>
<error xmlns="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <code>005056A509B11EE1B9A8FEC11C21D78E</code>
  <message xml:lang="en">Resource not found for segment 'Product'</message>
</error>`

	err := ExtractError(404, []byte(body))
	assert.Equal(t, "Resource not found for segment 'Product'", err.Message)
}

func TestExtractErrorPlainTextFallback(t *testing.T) {
	err := ExtractError(502, []byte("Bad Gateway"))
	assert.Equal(t, "Bad Gateway", err.Message)
}

func TestExtractErrorEmptyBody(t *testing.T) {
	err := ExtractError(503, nil)
	assert.Contains(t, err.Message, "503")
}

func TestUpstreamErrorString(t *testing.T) {
	err := &UpstreamError{StatusCode: 400, Code: "C1", Message: "broken", Details: []string{"d1"}}
	s := err.Error()
	assert.Contains(t, s, "HTTP 400")
	assert.Contains(t, s, "C1")
	assert.Contains(t, s, "broken")
	assert.Contains(t, s, "d1")

	network := &UpstreamError{StatusCode: 0, Message: "connection refused"}
	assert.Contains(t, network.Error(), "connection refused")
}

func TestIsCSRFFailure(t *testing.T) {
	assert.True(t, isCSRFFailure("Required", nil))
	assert.True(t, isCSRFFailure("", []byte("CSRF token validation failed")))
	assert.True(t, isCSRFFailure("", []byte(`{"error":"csrf"}`)))
	assert.False(t, isCSRFFailure("", []byte("plain forbidden")))
}
