package dispatch

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/event"
	"github.com/steerhq/steer/internal/hosted"
	"github.com/steerhq/steer/internal/ids"
	"github.com/steerhq/steer/internal/macro"
	"github.com/steerhq/steer/internal/match"
	"github.com/steerhq/steer/internal/reqctx"
	"github.com/steerhq/steer/internal/rewrite"
	"github.com/steerhq/steer/internal/upstream"
)

// execute realizes the selected rule's primary action. Exactly one
// primary action runs per request.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, st *state) {
	rule := st.rule
	switch {
	case len(rule.Destinations) > 0:
		h.executeWeighted(w, r, st)
	case rule.Folder != "":
		h.serveHosted(w, r, st, rule.Folder)
	case rule.ProxyURL != "":
		h.serveProxy(w, r, st, rule.ProxyURL, nil)
	case rule.RedirectURL != "":
		h.serveRedirect(w, r, st, rule.RedirectURL)
	case len(rule.Modifications) > 0:
		h.serveModifications(w, r, st, rule.Modifications)
	default:
		h.serveDefault(w, r, st)
	}
}

// executeWeighted picks one destination inside the rule and recurses into
// its mode.
func (h *Handler) executeWeighted(w http.ResponseWriter, r *http.Request, st *state) {
	dests := st.rule.Destinations
	weights := make([]int, len(dests))
	for i, d := range dests {
		weights[i] = d.Weight
	}
	d := dests[h.opts.PickIndex(weights, 1)]

	target := d.URL
	if target == "" {
		target = d.Folder
	}
	mode := d.Mode
	if mode == "" {
		if d.URL != "" {
			mode = bundle.ModeRedirect
		} else {
			mode = bundle.ModeHosted
		}
	}
	h.serveByMode(w, r, st, target, mode)
}

// serveByMode dispatches a folder-or-URL target in a given landing mode.
func (h *Handler) serveByMode(w http.ResponseWriter, r *http.Request, st *state, target, mode string) {
	switch mode {
	case bundle.ModeProxy:
		h.serveProxy(w, r, st, target, nil)
	case bundle.ModeRedirect:
		h.serveRedirect(w, r, st, target)
	default:
		if isAbsoluteURL(target) {
			h.serveProxy(w, r, st, target, nil)
			return
		}
		h.serveHosted(w, r, st, target)
	}
}

// serveDefault serves the bundle's default landing in its configured
// mode: the block/bot path, the no-rule-matched path, and the fallthrough
// for empty destination sets.
func (h *Handler) serveDefault(w http.ResponseWriter, r *http.Request, st *state) {
	folder, mode := st.bundle.CollapseDefaults()

	// A bare destinationId resolves to an upstream URL default.
	if folder == "" && st.bundle.DestinationID != "" {
		if u, ok := h.resolveDestination(r.Context(), st.bundle.DestinationID); ok {
			folder = u
			if st.bundle.DefaultFolderMode == "" {
				mode = bundle.ModeRedirect
			}
		}
	}
	if folder == "" {
		h.serveNotFound(w, st.ctx)
		return
	}
	h.serveByMode(w, r, st, folder, mode)
}

// serveHosted delivers a blob-store landing page and records the
// impression for page-like paths.
func (h *Handler) serveHosted(w http.ResponseWriter, r *http.Request, st *state, folder string) {
	ctx := st.ctx
	pageLike := match.IsPageLike(ctx.Path)
	if pageLike {
		ctx.ImpressionID = ids.NewEventID()
	}
	vals := h.buildMacroValues(st, "")

	file, err := h.hosted.Resolve(r.Context(), folder, ctx.Path, st.bundle.ID)
	if err != nil {
		if !errors.Is(err, hosted.ErrNotFound) {
			h.log.Error().Err(err).Str("folder", folder).Msg("hosted resolve failed")
		}
		h.serveNotFound(w, ctx)
		return
	}

	body, err := hosted.Render(file, vals)
	if err != nil {
		h.log.Error().Err(err).Str("folder", folder).Msg("hosted read failed")
		h.serveNotFound(w, ctx)
		return
	}

	isHTML := strings.Contains(file.ContentType, "text/html")
	if isHTML && !ctx.IsBot {
		body = injectDeviceScript(body, ctx.ImpressionID)
	}

	if isHTML {
		h.writeHTML(w, ctx, http.StatusOK, body)
	} else {
		w.Header().Set("Content-Type", file.ContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}

	if pageLike {
		h.emitImpression(st, folder, bundle.ModeHosted)
	}
}

// serveProxy fetches the upstream base and streams the rewritten
// response. mods is non-nil for the modifications action, which proxies
// the request's own origin.
func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request, st *state, target string, mods []bundle.Modification) {
	ctx := st.ctx
	upstreamURL, err := buildUpstreamURL(target, ctx.Path, ctx.Query)
	if err != nil {
		h.log.Warn().Err(err).Str("target", target).Msg("bad proxy target")
		h.serveNotFound(w, ctx)
		return
	}

	resp, err := h.upstream.Get(r.Context(), upstreamURL.String(), upstream.FetchOptions{
		UserAgent:      ctx.UA.Raw,
		AcceptLanguage: ctx.Get("accept-language"),
	})
	if err != nil {
		h.log.Warn().Err(err).Str("url", upstreamURL.String()).Msg("upstream fetch failed")
		h.serveNotFound(w, ctx)
		return
	}
	defer resp.Body.Close()

	pageLike := match.IsPageLike(ctx.Path)
	emit := pageLike && resp.StatusCode >= 200 && resp.StatusCode < 300
	if emit {
		ctx.ImpressionID = ids.NewEventID()
	}
	vals := h.buildMacroValues(st, "")

	h.streamRewritten(w, st, resp, upstreamURL, vals, mods)

	if emit {
		mode := bundle.ModeProxy
		h.emitImpression(st, upstreamURL.String(), mode)
	}
}

// serveModifications applies the rule's DOM edits over the origin's own
// page, fetched through the proxy path against the request host.
func (h *Handler) serveModifications(w http.ResponseWriter, r *http.Request, st *state, mods []bundle.Modification) {
	origin := h.opts.OriginScheme + "://" + st.ctx.Host + st.ctx.Path
	h.serveProxy(w, r, st, origin, mods)
}

// serveRedirect realizes a redirect action: the conjoined
// impression+click row shares one event ID, and redirect mode requires
// the rule key path to match the request path exactly.
func (h *Handler) serveRedirect(w http.ResponseWriter, r *http.Request, st *state, target string) {
	ctx := st.ctx

	if !redirectPathMatches(st.key, ctx.Host, ctx.Path) {
		h.serveNotFound(w, ctx)
		return
	}

	eventID := ids.NewEventID()
	ctx.ImpressionID = eventID
	vals := h.buildMacroValues(st, eventID)

	dest := macro.ExpandURL(target, vals)
	h.writeRedirect(w, ctx, dest, eventID)

	e := event.FromContext(ctx)
	e.EventID = eventID
	e.ImpressionID = eventID
	e.ClickID = eventID
	e.IsImpression = true
	e.IsClick = true
	e.CampaignID = st.bundle.ID
	e.LandingPage = dest
	e.LandingPageMode = bundle.ModeRedirect
	e.DestinationURL = dest
	e.MatchedFlags = matchedFlagsJSON(st.matched)
	e.PlatformID = st.attr.PlatformID
	e.PlatformClickID = st.platformClickID
	h.events.Emit(e)
}

// serveNotFound delivers the 404 page. KV misses and exhausted ladders
// are not errors.
func (h *Handler) serveNotFound(w http.ResponseWriter, ctx *reqctx.Context) {
	if ctx != nil && ctx.IsEmbed {
		h.writeEmbedJS(w, "/* not found */")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(hosted.NotFoundPage))
}

// emitImpression queues the impression row for hosted/proxy delivery.
func (h *Handler) emitImpression(st *state, landingPage, mode string) {
	ctx := st.ctx
	e := event.FromContext(ctx)
	e.EventID = ctx.ImpressionID
	e.ImpressionID = ctx.ImpressionID
	e.IsImpression = true
	e.CampaignID = st.bundle.ID
	e.LandingPage = landingPage
	e.LandingPageMode = mode
	e.MatchedFlags = matchedFlagsJSON(st.matched)
	e.PlatformID = st.attr.PlatformID
	e.PlatformClickID = st.platformClickID
	h.events.Emit(e)
}

// streamRewritten writes the upstream response through the HTML/CSS
// rewriting pipeline.
func (h *Handler) streamRewritten(w http.ResponseWriter, st *state, resp *upstream.Response, base *url.URL, vals macro.Values, mods []bundle.Modification) {
	ctx := st.ctx

	hdr := w.Header()
	upstream.SanitizeProxiedHeaders(hdr, resp.Header)

	switch {
	case resp.IsHTML():
		hdr.Set("Accept-CH", acceptCH)
		w.WriteHeader(resp.StatusCode)

		inject := ""
		if !ctx.IsBot && ctx.ImpressionID != "" {
			inject = deviceScript(ctx.ImpressionID)
		}
		var buf strings.Builder
		err := rewrite.HTML(resp.Body, &buf, rewrite.HTMLOptions{
			RewriteURL:          rewrite.Absolutizer(base),
			Mods:                mods,
			InjectBeforeBodyEnd: inject,
		})
		if err != nil {
			h.log.Warn().Err(err).Msg("html rewrite failed mid-stream")
		}
		out := macro.Expand(buf.String(), vals)
		w.Write([]byte(out))

	case resp.IsCSS():
		w.WriteHeader(resp.StatusCode)
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			h.log.Warn().Err(err).Msg("css read failed")
			return
		}
		out := rewrite.CSS(string(raw), rewrite.Absolutizer(base))
		out = macro.Expand(out, vals)
		w.Write([]byte(out))

	default:
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			h.log.Debug().Err(err).Msg("proxy body copy interrupted")
		}
	}
}

// injectDeviceScript inserts the enrichment script before </body>,
// appending when the page carries no body close tag.
func injectDeviceScript(body []byte, impressionID string) []byte {
	script := deviceScript(impressionID)
	s := string(body)
	if i := strings.LastIndex(strings.ToLower(s), "</body>"); i >= 0 {
		return []byte(s[:i] + script + s[i:])
	}
	return append(body, []byte(script)...)
}

// buildUpstreamURL applies the external-path semantics: an absolute
// destination is used as-is plus the original query (the campaign's
// incoming path is not appended); a relative base gets the request path.
func buildUpstreamURL(target, reqPath string, query map[string]string) (*url.URL, error) {
	if isAbsoluteURL(target) {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		appendQuery(u, query)
		return u, nil
	}
	u, err := url.Parse("https://" + strings.TrimSuffix(target, "/") + reqPath)
	if err != nil {
		return nil, err
	}
	appendQuery(u, query)
	return u, nil
}

func appendQuery(u *url.URL, query map[string]string) {
	if len(query) == 0 {
		return
	}
	q := u.Query()
	for k, v := range query {
		if q.Get(k) == "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// redirectPathMatches enforces the exact-path requirement for redirect
// actions: the resolved key's path (modulo a trailing slash) must equal
// the request path.
func redirectPathMatches(key, host, reqPath string) bool {
	keyPath := strings.TrimPrefix(key, strings.ToLower(host))
	if keyPath == "" {
		keyPath = "/"
	}
	return strings.TrimSuffix(keyPath, "/") == strings.TrimSuffix(reqPath, "/")
}
