package utils

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/odatamcp/bridge/internal/models"
)

// FormatKeyPredicate renders the parenthesized key predicate for an entity.
// Single key: (<value>). Composite key: (k1=<v1>,k2=<v2>,...) in declared
// key order. Values are quoted and escaped per type, then percent-encoded so
// the predicate is safe to splice into a URL path; every reserved octet is
// escaped, including '/', which SAP identifiers like /NS/NAME require.
func FormatKeyPredicate(entityType *models.EntityType, args map[string]interface{}) (string, error) {
	keyProps := entityType.KeyProps()
	if len(keyProps) == 0 {
		return "", fmt.Errorf("entity type %s has no key properties", entityType.Name)
	}

	if len(keyProps) == 1 {
		prop := keyProps[0]
		value, ok := args[prop.Name]
		if !ok {
			return "", fmt.Errorf("missing required key property: %s", prop.Name)
		}
		formatted, err := FormatKeyValue(prop, value)
		if err != nil {
			return "", err
		}
		return "(" + formatted + ")", nil
	}

	parts := make([]string, 0, len(keyProps))
	for _, prop := range keyProps {
		value, ok := args[prop.Name]
		if !ok {
			return "", fmt.Errorf("missing required key property: %s", prop.Name)
		}
		formatted, err := FormatKeyValue(prop, value)
		if err != nil {
			return "", err
		}
		parts = append(parts, prop.Name+"="+formatted)
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// FormatKeyValue renders one key component per its declared OData type.
// Strings, GUIDs and datetime values are single-quoted with internal quotes
// doubled; numerics are bare; booleans literal. Binary keys accept either a
// canonical GUID literal (converted back to base64 for the wire) or raw
// base64/hex rendered as X'...'; a value that decodes as base64 is taken as
// base64, so hex input is used as-is only when it is not valid base64. The
// result is already percent-encoded.
func FormatKeyValue(prop *models.Property, value interface{}) (string, error) {
	switch prop.Type {
	case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte":
		switch v := value.(type) {
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return "", fmt.Errorf("key %s: %q is not an integer", prop.Name, v)
			}
			return v, nil
		default:
			return "", fmt.Errorf("key %s: unsupported integer value %T", prop.Name, value)
		}

	case "Edm.Single", "Edm.Double", "Edm.Decimal":
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case string:
			return encodeKeyComponent(v), nil
		default:
			return fmt.Sprintf("%v", value), nil
		}

	case "Edm.Boolean":
		switch v := value.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			return v, nil
		default:
			return "", fmt.Errorf("key %s: unsupported boolean value %T", prop.Name, value)
		}

	case "Edm.Binary":
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("key %s: binary key must be a string", prop.Name)
		}
		// A GUID literal is translated back to the base64 form the wire wants.
		if b64, ok := GUIDToBase64(s); ok {
			return quoteKeyString(b64), nil
		}
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) > 0 {
			return "X'" + strings.ToUpper(hex.EncodeToString(raw)) + "'", nil
		}
		return "X'" + strings.ToUpper(s) + "'", nil

	default:
		// Edm.String, Edm.Guid, Edm.DateTime, Edm.DateTimeOffset, Edm.Time
		// and anything unrecognized travel as quoted strings.
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		return quoteKeyString(s), nil
	}
}

// quoteKeyString doubles embedded quotes, percent-encodes the payload and
// wraps it in single quotes.
func quoteKeyString(s string) string {
	return "'" + encodeKeyComponent(strings.ReplaceAll(s, "'", "''")) + "'"
}

// encodeKeyComponent escapes every octet outside the RFC 3986 unreserved
// set, except the single quote which is structural inside key predicates.
// url.PathEscape is not usable here: it leaves '/' intact, and SAP object
// names such as /IWFND/SUTIL_GW_CLIENT must arrive as %2F.
func encodeKeyComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '\'' {
			b.WriteByte(c)
			continue
		}
		b.WriteString(fmt.Sprintf("%%%02X", c))
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~'
}

// ParseKeyPredicate is the inverse of FormatKeyPredicate for quoted string
// components; used to verify the round-trip property. It strips the
// parentheses, splits composite components outside quotes, percent-decodes
// and un-doubles quotes.
func ParseKeyPredicate(predicate string) (map[string]string, error) {
	if len(predicate) < 2 || predicate[0] != '(' || predicate[len(predicate)-1] != ')' {
		return nil, fmt.Errorf("malformed key predicate: %s", predicate)
	}
	inner := predicate[1 : len(predicate)-1]

	result := make(map[string]string)
	for _, part := range splitOutsideQuotes(inner, ',') {
		name := ""
		value := part
		if idx := indexOutsideQuotes(part, '='); idx >= 0 {
			name = part[:idx]
			value = part[idx+1:]
		}
		decoded, err := decodeKeyComponent(value)
		if err != nil {
			return nil, err
		}
		result[name] = decoded
	}
	return result, nil
}

func decodeKeyComponent(s string) (string, error) {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, "''", "'")
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("truncated percent escape in %q", s)
			}
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad percent escape in %q", s)
			}
			b.WriteByte(byte(n))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), nil
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func indexOutsideQuotes(s string, c byte) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == c && !inQuote:
			return i
		}
	}
	return -1
}
