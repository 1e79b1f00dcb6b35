package rewrite

import (
	"regexp"
	"strings"
)

var cssURLPattern = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)

// CSS rewrites every url(...) reference in a stylesheet or style attribute.
func CSS(css string, rewriteURL func(string) string) string {
	if rewriteURL == nil || !strings.Contains(css, "url(") {
		return css
	}
	return cssURLPattern.ReplaceAllStringFunc(css, func(m string) string {
		parts := cssURLPattern.FindStringSubmatch(m)
		q, ref := parts[1], parts[2]
		return "url(" + q + rewriteURL(strings.TrimSpace(ref)) + q + ")"
	})
}

// Srcset rewrites each candidate URL of a srcset attribute, preserving
// width/density descriptors.
func Srcset(srcset string, rewriteURL func(string) string) string {
	if rewriteURL == nil || strings.TrimSpace(srcset) == "" {
		return srcset
	}
	candidates := strings.Split(srcset, ",")
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		fields := strings.Fields(c)
		if len(fields) == 0 {
			continue
		}
		fields[0] = rewriteURL(fields[0])
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}
