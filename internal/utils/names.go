package utils

import (
	"strings"
	"unicode"
)

// genericWords are dropped outright during shrinking; they carry no meaning
// in a tool name that already encodes the operation.
var genericWords = map[string]bool{
	"DATA":       true,
	"SET":        true,
	"INFO":       true,
	"SERVICE":    true,
	"COLLECTION": true,
	"ENTITY":     true,
	"ENTITIES":   true,
	"TABLE":      true,
	"LIST":       true,
	"DETAILS":    true,
	"THE":        true,
	"OF":         true,
	"FOR":        true,
}

// synonyms is a fixed abbreviation table applied token-by-token.
var synonyms = map[string]string{
	"SCREENING":   "Scrn",
	"ADDRESS":     "Addr",
	"DOCUMENT":    "Doc",
	"NUMBER":      "No",
	"DESCRIPTION": "Desc",
	"MATERIAL":    "Mat",
	"CUSTOMER":    "Cust",
	"SUPPLIER":    "Supp",
	"PARTNER":     "Part",
	"BUSINESS":    "Bus",
	"MANAGEMENT":  "Mgmt",
	"CONFIG":      "Cfg",
	"PRODUCT":     "Prod",
	"CATEGORY":    "Cat",
	"TRANSACTION": "Txn",
	"MESSAGE":     "Msg",
	"ATTACHMENT":  "Att",
}

// verbShort shortens the leading operation verb of a tool name.
var verbShort = map[string]string{
	"update": "upd",
	"delete": "del",
	"create": "crt",
}

// ShrinkName deterministically shortens a tool name to at most maxLen
// characters. Already-short names are returned untouched, which also makes
// the function idempotent. Stages, applied only as long as the name is too
// long: shorten the operation verb, drop domain-generic words, apply the
// synonym table, keep the longest meaningful fragments of CamelCase tokens,
// and finally strip interior vowels.
func ShrinkName(name string, maxLen int) string {
	if maxLen <= 0 || len(name) <= maxLen {
		return name
	}

	tokens := tokenize(name)

	// Stage 1: operation verb.
	if len(tokens) > 0 {
		if short, ok := verbShort[strings.ToLower(tokens[0])]; ok {
			tokens[0] = short
		}
	}
	if joined := strings.Join(tokens, "_"); len(joined) <= maxLen {
		return joined
	}

	// Stage 2: drop generic words (never the verb).
	kept := tokens[:1]
	for _, tok := range tokens[1:] {
		if genericWords[strings.ToUpper(tok)] {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) > 1 {
		tokens = kept
	}
	if joined := strings.Join(tokens, "_"); len(joined) <= maxLen {
		return joined
	}

	// Stage 3: synonym table, also inside CamelCase compounds.
	for i, tok := range tokens {
		tokens[i] = applySynonyms(tok)
	}
	if joined := strings.Join(tokens, "_"); len(joined) <= maxLen {
		return joined
	}

	// Stage 4: decompose CamelCase tokens and keep their longest fragment.
	for i := 1; i < len(tokens); i++ {
		frags := splitCamel(tokens[i])
		if len(frags) < 2 {
			continue
		}
		longest := frags[0]
		for _, f := range frags[1:] {
			if len(f) > len(longest) {
				longest = f
			}
		}
		tokens[i] = longest
		if joined := strings.Join(tokens, "_"); len(joined) <= maxLen {
			return joined
		}
	}

	// Stage 5: strip interior vowels, longest token first.
	for {
		joined := strings.Join(tokens, "_")
		if len(joined) <= maxLen {
			return joined
		}
		idx := -1
		for i := 1; i < len(tokens); i++ {
			if idx == -1 || len(tokens[i]) > len(tokens[idx]) {
				idx = i
			}
		}
		if idx == -1 {
			idx = 0
		}
		stripped := stripInteriorVowels(tokens[idx])
		if stripped == tokens[idx] {
			// Nothing left to strip; hard-truncate as the last resort.
			if len(joined) > maxLen {
				return joined[:maxLen]
			}
			return joined
		}
		tokens[idx] = stripped
	}
}

// tokenize splits on underscores, dashes, dots and whitespace.
func tokenize(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
}

// splitCamel breaks a CamelCase token into its fragments.
func splitCamel(tok string) []string {
	var frags []string
	start := 0
	runes := []rune(tok)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			frags = append(frags, string(runes[start:i]))
			start = i
		}
	}
	frags = append(frags, string(runes[start:]))
	return frags
}

func applySynonyms(tok string) string {
	if short, ok := synonyms[strings.ToUpper(tok)]; ok {
		return short
	}
	frags := splitCamel(tok)
	if len(frags) < 2 {
		return tok
	}
	changed := false
	for i, f := range frags {
		if short, ok := synonyms[strings.ToUpper(f)]; ok {
			frags[i] = short
			changed = true
		}
	}
	if !changed {
		return tok
	}
	return strings.Join(frags, "")
}

// stripInteriorVowels removes vowels except in the first and last position.
func stripInteriorVowels(tok string) string {
	if len(tok) <= 3 {
		return tok
	}
	var b strings.Builder
	b.WriteByte(tok[0])
	for i := 1; i < len(tok)-1; i++ {
		if strings.ContainsRune("aeiouAEIOU", rune(tok[i])) {
			continue
		}
		b.WriteByte(tok[i])
	}
	b.WriteByte(tok[len(tok)-1])
	return b.String()
}
