package utils

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/odatamcp/bridge/internal/models"
)

// guidNameMarkers are the substrings a binary(16) property name must carry
// to be treated as GUID-shaped. SAP convention: raw GUID fields are named
// things like NodeID, ParentGUID, GUID_F, GUID_T.
var guidNameMarkers = []string{"ID", "GUID", "F", "T"}

// IsGUIDShaped reports whether a declared property carries GUID values:
// either Edm.Guid outright, or a 16-byte Edm.Binary whose name matches the
// SAP naming convention.
func IsGUIDShaped(prop *models.Property) bool {
	if prop == nil {
		return false
	}
	if prop.Type == "Edm.Guid" {
		return true
	}
	if prop.Type != "Edm.Binary" || prop.MaxLength != 16 {
		return false
	}
	return NameSuggestsGUID(prop.Name)
}

// NameSuggestsGUID checks the binary-GUID naming convention, case-insensitively.
func NameSuggestsGUID(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range guidNameMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// Base64ToGUID converts a base64-encoded 16-byte value to the canonical
// hyphenated GUID string. Canonical form in this implementation is uppercase.
// Returns false when the input is not a 24-character base64 string decoding
// to exactly 16 bytes.
func Base64ToGUID(s string) (string, bool) {
	if len(s) != 24 {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return "", false
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return "", false
	}
	return strings.ToUpper(u.String()), true
}

// GUIDToBase64 converts a hyphenated GUID literal back to the base64 wire
// form expected by binary(16) fields. Returns false for anything that does
// not parse as a GUID.
func GUIDToBase64(s string) (string, bool) {
	if !IsCanonicalGUID(s) {
		return "", false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	b, _ := u.MarshalBinary()
	return base64.StdEncoding.EncodeToString(b), true
}

// IsCanonicalGUID reports whether s looks like a 36-character hyphenated
// GUID literal (either case).
func IsCanonicalGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHexDigit(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
