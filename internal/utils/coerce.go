package utils

import (
	"github.com/shopspring/decimal"

	"github.com/odatamcp/bridge/internal/models"
)

// CoerceWritePayload rewrites an outgoing entity payload so the upstream
// accepts it: Edm.Decimal values that arrived as JSON numbers become strings
// (servers choke on bare numbers in decimal fields with "Failed to read
// property"), ISO dates become /Date(ms)/ when legacy-dates mode is on, and
// GUID literals destined for binary(16) fields go back to base64.
// Properties not declared in the entity type are dropped.
func CoerceWritePayload(entityType *models.EntityType, data map[string]interface{}, legacyDates bool) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for name, value := range data {
		prop := entityType.Property(name)
		if prop == nil {
			continue
		}
		result[name] = CoerceWriteValue(prop, value, legacyDates)
	}
	return result
}

// CoerceWriteValue converts one property value per its declared type.
func CoerceWriteValue(prop *models.Property, value interface{}, legacyDates bool) interface{} {
	switch prop.Type {
	case "Edm.Decimal":
		switch v := value.(type) {
		case float64:
			return decimal.NewFromFloat(v).String()
		case int:
			return decimal.NewFromInt(int64(v)).String()
		case int64:
			return decimal.NewFromInt(v).String()
		}
		return value

	case "Edm.DateTime", "Edm.DateTimeOffset":
		if s, ok := value.(string); ok && legacyDates && IsISODateTime(s) {
			return ISOToLegacy(s)
		}
		return value

	case "Edm.Binary":
		if s, ok := value.(string); ok && IsGUIDShaped(prop) {
			if b64, ok := GUIDToBase64(s); ok {
				return b64
			}
		}
		return value

	default:
		return value
	}
}

// JSONSchemaType maps an OData primitive to the JSON-schema type used in
// tool argument schemas. Decimals are string-shaped on purpose: precision
// survives and the write coercer handles stray numbers anyway.
func JSONSchemaType(odataType string) string {
	switch odataType {
	case "Edm.Int16", "Edm.Int32", "Edm.Int64", "Edm.Byte", "Edm.SByte":
		return "integer"
	case "Edm.Single", "Edm.Double":
		return "number"
	case "Edm.Boolean":
		return "boolean"
	default:
		// Edm.String, Edm.Guid, Edm.Binary, Edm.DateTime, Edm.DateTimeOffset,
		// Edm.Time, Edm.Decimal
		return "string"
	}
}
