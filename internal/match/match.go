// Package match evaluates rule conditions and block lists against the
// request context. Semantics: fields AND across one another, list values
// OR within a field, and a missing field is "don't care".
package match

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/reqctx"
)

// Options tunes evaluation.
type Options struct {
	// TimeWrap enables wrap-past-midnight semantics for time windows
	// (start > end matches now >= start OR now < end). Off by default:
	// the single-comparison behavior matches the legacy source.
	TimeWrap bool
	// Now overrides the clock; zero means time.Now (UTC).
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now.UTC()
}

// Rule evaluates a rule's condition: the groups list (OR of flag sets)
// when present and non-empty, otherwise the legacy single flags. A rule
// with neither matches everything. Returns the verdict and the matched
// flag descriptors of the first matching set.
func Rule(r *bundle.Rule, ctx *reqctx.Context, opts Options) (bool, []string) {
	if len(r.Groups) > 0 {
		for i := range r.Groups {
			if ok, desc := FlagSet(&r.Groups[i], ctx, opts); ok {
				return true, desc
			}
		}
		return false, nil
	}
	if r.Flags == nil {
		return true, nil
	}
	return FlagSet(r.Flags, ctx, opts)
}

// RuleWithoutParams is the asset-inheritance retry: the same evaluation
// with the params predicate stripped from every flag set.
func RuleWithoutParams(r *bundle.Rule, ctx *reqctx.Context, opts Options) (bool, []string) {
	if len(r.Groups) > 0 {
		for i := range r.Groups {
			if ok, desc := FlagSet(r.Groups[i].WithoutParams(), ctx, opts); ok {
				return true, desc
			}
		}
		return false, nil
	}
	if r.Flags == nil {
		return true, nil
	}
	return FlagSet(r.Flags.WithoutParams(), ctx, opts)
}

// FlagSet evaluates a single flag set. Every present field must match.
func FlagSet(f *bundle.FlagSet, ctx *reqctx.Context, opts Options) (bool, []string) {
	if f.IsZero() {
		return true, nil
	}
	var desc []string

	match := func(field string, vals bundle.StringList, pred func(string) bool) bool {
		if len(vals) == 0 {
			return true
		}
		for _, v := range vals {
			if pred(v) {
				desc = append(desc, field+"="+v)
				return true
			}
		}
		return false
	}

	if !match("country", f.Country, eq(ctx.Geo.Country)) {
		return false, nil
	}
	if !match("region", f.Region, eqAny(ctx.Geo.Region, ctx.Geo.RegionCode)) {
		return false, nil
	}
	if !match("city", f.City, eq(ctx.Geo.City)) {
		return false, nil
	}
	if !match("continent", f.Continent, eq(ctx.Geo.Continent)) {
		return false, nil
	}
	if !match("asn", f.ASN, eq(strconv.Itoa(ctx.Edge.ASN))) {
		return false, nil
	}
	if !match("colo", f.Colo, eq(ctx.Edge.Colo)) {
		return false, nil
	}
	if !match("ip", f.IP, func(pattern string) bool { return IPMatch(pattern, ctx.IP) }) {
		return false, nil
	}
	if !match("org", f.Org, func(pattern string) bool { return Glob(pattern, ctx.Org) }) {
		return false, nil
	}
	if !match("language", f.Language, eq(primaryLanguage(ctx.Get("accept-language")))) {
		return false, nil
	}
	if !match("device", f.Device, eq(ctx.UA.Device)) {
		return false, nil
	}
	if !match("browser", f.Browser, eq(ctx.UA.Browser)) {
		return false, nil
	}
	if !match("os", f.OS, func(v string) bool {
		return strings.Contains(strings.ToLower(ctx.UA.OS), strings.ToLower(v))
	}) {
		return false, nil
	}
	if !match("brand", f.Brand, eq(ctx.UA.Brand)) {
		return false, nil
	}

	if f.Time != nil {
		if !timeMatch(*f.Time, opts) {
			return false, nil
		}
		desc = append(desc, fmt.Sprintf("time=%g-%g", f.Time.Start, f.Time.End))
	}

	if len(f.Params) > 0 {
		// Params only match page-like requests; on assets the predicate
		// is false regardless of the query.
		if !IsPageLike(ctx.Path) {
			return false, nil
		}
		for k, v := range f.Params {
			if ctx.Query[k] != v {
				return false, nil
			}
			desc = append(desc, "params."+k+"="+v)
		}
	}

	return true, desc
}

func eq(actual string) func(string) bool {
	return func(want string) bool { return strings.EqualFold(actual, want) }
}

func eqAny(actuals ...string) func(string) bool {
	return func(want string) bool {
		for _, a := range actuals {
			if a != "" && strings.EqualFold(a, want) {
				return true
			}
		}
		return false
	}
}

// primaryLanguage extracts the primary subtag of the first entry of an
// accept-language value: "en-US,en;q=0.9" -> "en".
func primaryLanguage(acceptLanguage string) string {
	s := acceptLanguage
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// timeMatch checks a half-open fractional-UTC-hour window: start <= now < end.
func timeMatch(w bundle.TimeWindow, opts Options) bool {
	now := opts.now()
	h := float64(now.Hour()) + float64(now.Minute())/60 + float64(now.Second())/3600
	if opts.TimeWrap && w.Start > w.End {
		return h >= w.Start || h < w.End
	}
	return h >= w.Start && h < w.End
}
