package dispatch

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/steerhq/steer/internal/rewrite"
	"github.com/steerhq/steer/internal/upstream"
)

// proxySession handles GET /proxy-session?url=<abs>: it transparently
// proxies the URL and rewrites links so same-site navigation recurses
// through /proxy-session. Off-site links absolutize but leave the proxy.
func (h *Handler) proxySession(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	resp, err := h.upstream.Get(r.Context(), target.String(), upstream.FetchOptions{
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	})
	if err != nil {
		h.log.Warn().Err(err).Str("url", target.String()).Msg("proxy-session fetch failed")
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	hdr := w.Header()
	upstream.SanitizeProxiedHeaders(hdr, resp.Header)

	rewriteURL := sessionRewriter(target)

	switch {
	case resp.IsHTML():
		hdr.Set("Accept-CH", acceptCH)
		w.WriteHeader(resp.StatusCode)
		if err := rewrite.HTML(resp.Body, w, rewrite.HTMLOptions{RewriteURL: rewriteURL}); err != nil {
			h.log.Warn().Err(err).Msg("proxy-session rewrite failed mid-stream")
		}
	case resp.IsCSS():
		w.WriteHeader(resp.StatusCode)
		if raw, err := io.ReadAll(resp.Body); err == nil {
			w.Write([]byte(rewrite.CSS(string(raw), rewriteURL)))
		}
	default:
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}

// sessionRewriter absolutizes against base and routes same-site results
// back through /proxy-session. Registrable-domain comparison keeps
// subdomain navigation inside the session.
func sessionRewriter(base *url.URL) func(string) string {
	abs := rewrite.Absolutizer(base)
	baseDomain := registrableDomain(base.Hostname())
	return func(ref string) string {
		resolved := abs(ref)
		if resolved == ref && !strings.HasPrefix(resolved, "http") {
			// Untouched special scheme (data:, javascript:, fragment).
			return resolved
		}
		u, err := url.Parse(resolved)
		if err != nil || u.Host == "" {
			return resolved
		}
		if registrableDomain(u.Hostname()) != baseDomain {
			return resolved
		}
		return "/proxy-session?url=" + url.QueryEscape(resolved)
	}
}

func registrableDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
