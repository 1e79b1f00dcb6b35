// Package dispatch is the request engine: it routes every inbound request
// through enrichment, rule resolution, block filtering, condition
// matching, weighted selection, and one of the four delivery modes, and
// emits attribution events asynchronously.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/destcache"
	"github.com/steerhq/steer/internal/event"
	"github.com/steerhq/steer/internal/hosted"
	"github.com/steerhq/steer/internal/match"
	"github.com/steerhq/steer/internal/pick"
	"github.com/steerhq/steer/internal/platformcache"
	"github.com/steerhq/steer/internal/reqctx"
	"github.com/steerhq/steer/internal/upstream"
)

// acceptCH is sent on every HTML response so browsers surface the full
// Client Hints set on followups.
const acceptCH = "sec-ch-ua, sec-ch-ua-mobile, sec-ch-ua-platform, " +
	"sec-ch-ua-platform-version, sec-ch-ua-full-version-list, sec-ch-ua-model, sec-ch-ua-arch"

// Options tunes the handler.
type Options struct {
	// TimeWrap enables wrap-past-midnight time-flag semantics.
	TimeWrap bool
	// Metadata extracts the transport metadata record; defaults to
	// reqctx.MetadataFromHeaders.
	Metadata func(*http.Request) reqctx.Metadata
	// PickIndex selects among weights; defaults to pick.IndexDefault.
	// Injectable for deterministic tests.
	PickIndex func(weights []int, def int) int
	// OriginScheme is the scheme for modifications-mode origin fetches.
	// Defaults to "https"; deployments that terminate TLS upstream of the
	// origin hop may set "http".
	OriginScheme string
}

// Handler is the dispatch engine's HTTP entry point.
type Handler struct {
	log      zerolog.Logger
	enricher *reqctx.Enricher
	resolver *bundle.Resolver
	events   *event.Service
	dest     *destcache.Cache
	plat     *platformcache.Cache
	hosted   *hosted.Server
	upstream *upstream.Client
	opts     Options
}

// Config wires the handler's collaborators.
type Config struct {
	Logger   zerolog.Logger
	Enricher *reqctx.Enricher
	Resolver *bundle.Resolver
	Events   *event.Service
	Dest     *destcache.Cache
	Plat     *platformcache.Cache
	Hosted   *hosted.Server
	Upstream *upstream.Client
	Options  Options
}

// NewHandler builds the engine handler.
func NewHandler(cfg Config) *Handler {
	opts := cfg.Options
	if opts.Metadata == nil {
		opts.Metadata = reqctx.MetadataFromHeaders
	}
	if opts.PickIndex == nil {
		opts.PickIndex = pick.IndexDefault
	}
	if opts.OriginScheme == "" {
		opts.OriginScheme = "https"
	}
	return &Handler{
		log:      cfg.Logger,
		enricher: cfg.Enricher,
		resolver: cfg.Resolver,
		events:   cfg.Events,
		dest:     cfg.Dest,
		plat:     cfg.Plat,
		hosted:   cfg.Hosted,
		upstream: cfg.Upstream,
		opts:     opts,
	}
}

// ServeHTTP routes the engine's inbound surface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/healthz":
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))

	case r.URL.Path == "/postback":
		h.postback(w, r)

	case r.URL.Path == "/t/enrich" && r.Method == http.MethodPost:
		h.enrichBeacon(w, r)

	case r.URL.Path == "/track.js":
		h.embed(w, r)

	case r.URL.Path == "/proxy-session":
		h.proxySession(w, r)

	default:
		h.dispatch(w, r)
	}
}

// dispatch handles the main GET /* surface.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if reqctx.IsPrefetch(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ctx := h.enricher.Enrich(r, h.opts.Metadata(r))
	h.dispatchContext(w, r, ctx)
}

// dispatchContext runs the pipeline on an enriched context; shared with
// embed mode, which builds the context from the url parameter.
func (h *Handler) dispatchContext(w http.ResponseWriter, r *http.Request, ctx *reqctx.Context) {
	resolved, err := h.resolver.Resolve(r.Context(), ctx.Host, ctx.Path)
	if err != nil {
		h.log.Error().Err(err).Str("host", ctx.Host).Str("path", ctx.Path).Msg("rule resolution failed")
		h.serveNotFound(w, ctx)
		return
	}
	if resolved == nil {
		h.serveNotFound(w, ctx)
		return
	}
	b := resolved.Bundle

	attr, _ := h.plat.Lookup(r.Context(), b.ID)
	platformClickID := ""
	if attr.ClickIDParam != "" {
		platformClickID = ctx.Query[attr.ClickIDParam]
	}

	st := &state{
		ctx:             ctx,
		bundle:          b,
		key:             resolved.Key,
		attr:            attr,
		platformClickID: platformClickID,
	}

	// Click-out paths run their own selection before anything else.
	if isClickPath(ctx.Path) {
		if h.clickOut(w, r, st) {
			return
		}
	}

	// Deny lists and detected bots route to the safe default.
	if blocked, reason := match.Blocked(b.Blocks, ctx); blocked {
		h.log.Debug().Str("reason", reason).Str("campaign", b.ID).Msg("request blocked")
		h.serveDefault(w, r, st)
		return
	}
	if ctx.IsBot {
		h.serveDefault(w, r, st)
		return
	}

	mopts := match.Options{TimeWrap: h.opts.TimeWrap}
	rule, desc := h.selectRule(b, ctx, mopts)
	if rule == nil {
		h.serveDefault(w, r, st)
		return
	}
	st.rule = rule
	st.matched = desc

	h.execute(w, r, st)
}

// state carries one request's dispatch decision through the pipeline.
type state struct {
	ctx             *reqctx.Context
	bundle          *bundle.Bundle
	key             string
	attr            platformcache.Attribution
	platformClickID string

	rule    *bundle.Rule
	matched []string
}

// selectRule matches all rules with a primary action and weighted-picks
// one. When nothing matches an asset request, the match retries with
// params stripped so assets inherit their landing page's rule.
func (h *Handler) selectRule(b *bundle.Bundle, ctx *reqctx.Context, opts match.Options) (*bundle.Rule, []string) {
	type candidate struct {
		rule *bundle.Rule
		desc []string
	}

	collect := func(withoutParams bool) []candidate {
		var out []candidate
		for i := range b.Rules {
			r := &b.Rules[i]
			if !hasPrimaryAction(r) {
				continue
			}
			var ok bool
			var desc []string
			if withoutParams {
				ok, desc = match.RuleWithoutParams(r, ctx, opts)
			} else {
				ok, desc = match.Rule(r, ctx, opts)
			}
			if ok {
				out = append(out, candidate{rule: r, desc: desc})
			}
		}
		return out
	}

	cands := collect(false)
	if len(cands) == 0 && match.IsAsset(ctx.Path) {
		cands = collect(true)
	}
	if len(cands) == 0 {
		return nil, nil
	}

	weights := make([]int, len(cands))
	for i, c := range cands {
		weights[i] = c.rule.EffectiveWeight()
	}
	idx := h.opts.PickIndex(weights, 100)
	return cands[idx].rule, cands[idx].desc
}

func hasPrimaryAction(r *bundle.Rule) bool {
	return r.Folder != "" || r.ProxyURL != "" || r.RedirectURL != "" ||
		len(r.Modifications) > 0 || len(r.Destinations) > 0
}

// isClickPath reports whether the final path segment is "click".
func isClickPath(p string) bool {
	p = strings.TrimSuffix(p, "/")
	return p == "/click" || strings.HasSuffix(p, "/click")
}

// matchedFlagsJSON renders descriptors for the event row.
func matchedFlagsJSON(desc []string) string {
	if len(desc) == 0 {
		return ""
	}
	b, err := json.Marshal(desc)
	if err != nil {
		return ""
	}
	return string(b)
}

// resolveDestination looks up a destination URL, tolerating the cache's
// unavailable result.
func (h *Handler) resolveDestination(ctx context.Context, id string) (string, bool) {
	return h.dest.Resolve(ctx, id)
}
