package utils

// WildcardMatch reports whether s matches pattern, where '*' matches any
// run of characters (including none) and '?' matches exactly one. Used for
// the entity/function allowlists and hint URL patterns.
func WildcardMatch(s, pattern string) bool {
	// Iterative glob with single-star backtracking.
	si, pi := 0, 0
	starPi, starSi := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			si++
			pi++
		case pi < len(pattern) && pattern[pi] == '*':
			starPi = pi
			starSi = si
			pi++
		case starPi >= 0:
			starSi++
			si = starSi
			pi = starPi + 1
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// MatchesAny reports whether s matches at least one pattern. An empty
// pattern list means no restriction.
func MatchesAny(s string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if WildcardMatch(s, p) {
			return true
		}
	}
	return false
}
