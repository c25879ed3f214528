// Package origin decides which request origins are trusted for
// cross-origin responses.
//
// An allow-list mixes exact origins ("https://app.example.com") and
// domain-suffix patterns (".example.com"). Exact entries are tried first;
// a suffix pattern grants any origin ending with the pattern, leading dot
// included, so ".example.com" never matches "https://evilexample.com".
package origin

import "strings"

// Gate holds a parsed allow-list. The zero value trusts nothing.
type Gate struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewGate builds a Gate from allow-list entries. Entries are trimmed;
// empty entries are ignored.
func NewGate(allowlist []string) *Gate {
	g := &Gate{exact: make(map[string]struct{})}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.HasPrefix(entry, "."):
			g.suffixes = append(g.suffixes, entry)
		default:
			g.exact[entry] = struct{}{}
		}
	}
	return g
}

// Resolve returns the origin to echo back, or ok=false when the origin is
// empty or matches nothing.
func (g *Gate) Resolve(requestOrigin string) (granted string, ok bool) {
	if g == nil || requestOrigin == "" {
		return "", false
	}
	if _, hit := g.exact[requestOrigin]; hit {
		return requestOrigin, true
	}
	for _, suffix := range g.suffixes {
		if strings.HasSuffix(requestOrigin, suffix) {
			return requestOrigin, true
		}
	}
	return "", false
}

// Resolve is the stateless form of Gate.Resolve.
func Resolve(requestOrigin string, allowlist []string) (string, bool) {
	return NewGate(allowlist).Resolve(requestOrigin)
}
