package rewrite

import (
	"net/url"
	"strings"
)

// Absolutizer returns a URL-rewrite function that resolves references
// against the upstream base, so relative links in proxied pages point back
// at the origin. Fragment-only, data:, javascript:, and mailto: references
// pass through untouched.
func Absolutizer(base *url.URL) func(string) string {
	return func(ref string) string {
		if skipRewrite(ref) {
			return ref
		}
		u, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return base.ResolveReference(u).String()
	}
}

func skipRewrite(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return true
	}
	lower := strings.ToLower(ref)
	for _, scheme := range []string{"data:", "javascript:", "mailto:", "tel:", "blob:", "about:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
