package replicate

import (
	"path"
	"strings"
)

// DefaultExclusions blocks security-sensitive key classes from ever
// leaving the production cache. Exclusion is checked last and cannot be
// overridden by any inclusion list.
var DefaultExclusions = ExclusionPatterns{
	"session:*",
	"*:token",
	"*:secret",
	"rate_limit:*",
	"auth:*",
}

// ExclusionPatterns is an ordered list of glob or substring patterns
// matched against logical keys.
type ExclusionPatterns []string

// Match returns the first pattern that matches the logical key.
// Patterns containing wildcards use glob semantics ('*' and '?');
// plain patterns match as substrings.
func (p ExclusionPatterns) Match(logicalKey string) (string, bool) {
	for _, pattern := range p {
		if matchOne(pattern, logicalKey) {
			return pattern, true
		}
	}
	return "", false
}

func matchOne(pattern, key string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.Contains(key, pattern)
	}
	matched, err := path.Match(pattern, key)
	if err != nil {
		// An unparsable glob falls back to substring matching on its
		// literal part, erring on the side of excluding too much.
		return strings.Contains(key, strings.Trim(pattern, "*?["))
	}
	return matched
}
