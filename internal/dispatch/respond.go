package dispatch

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/steerhq/steer/internal/reqctx"
)

// staleOSVersions are the frozen desktop UA versions that carry no real
// OS signal; redirects for them go through the enrichment stub instead of
// a plain 302.
var staleOSVersions = map[string]bool{
	"10.15.7": true,
	"10.0":    true,
}

// signalsSufficient decides the redirect latency policy: a plain 302 when
// the context already carries usable device signals, otherwise the HTML
// stub that beacons enrichment data before navigating.
func signalsSufficient(ctx *reqctx.Context) bool {
	switch ctx.UA.Device {
	case "desktop":
		return ctx.UA.OSVersion != "" && !staleOSVersions[ctx.UA.OSVersion]
	case "mobile", "tablet":
		if ctx.UA.OSVersion == "" {
			return false
		}
		safariIOS := strings.EqualFold(ctx.UA.Browser, "Safari") &&
			strings.Contains(strings.ToLower(ctx.UA.OS), "ios")
		return !safariIOS
	}
	return false
}

// setNoCache applies the redirect cache-control contract.
func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

// writeHTML delivers an HTML body with the Accept-CH contract. In embed
// mode the body is wrapped as a document-replacing script.
func (h *Handler) writeHTML(w http.ResponseWriter, ctx *reqctx.Context, status int, body []byte) {
	if ctx.IsEmbed {
		h.writeEmbedJS(w, embedDocumentJS(body))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Accept-CH", acceptCH)
	w.WriteHeader(status)
	w.Write(body)
}

// writeRedirect realizes a redirect action under the latency policy. In
// embed mode the redirect is always a location.href script.
func (h *Handler) writeRedirect(w http.ResponseWriter, ctx *reqctx.Context, url, impressionID string) {
	if ctx.IsEmbed {
		h.writeEmbedJS(w, "location.href = "+jsString(url)+";")
		return
	}
	if signalsSufficient(ctx) {
		setNoCache(w.Header())
		w.Header().Set("Location", url)
		w.WriteHeader(http.StatusFound)
		return
	}
	// Enrichment stub: beacon device signals, then navigate.
	setNoCache(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Accept-CH", acceptCH)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(redirectStub(url, impressionID)))
}

// writeEmbedJS responds with an application/javascript body.
func (h *Handler) writeEmbedJS(w http.ResponseWriter, script string) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	setNoCache(w.Header())
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(script))
}

// embedDocumentJS wraps HTML content as a script that replaces the
// embedding document.
func embedDocumentJS(body []byte) string {
	return "document.open();document.write(" + jsString(string(body)) + ");document.close();"
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

// redirectStub is the low-signal redirect body: it beacons screen, DPR,
// GPU, timezone, model, and arch to /t/enrich, then assigns location.
func redirectStub(url, impressionID string) string {
	return `<!doctype html><html><head><meta charset="utf-8"></head><body><script>
(function(){
	try{
		var d={impressionId:` + jsString(impressionID) + `,
			screen:screen.width+"x"+screen.height,
			dpr:String(devicePixelRatio||1),
			gpu:(function(){try{var c=document.createElement("canvas");var g=c.getContext("webgl");var i=g.getExtension("WEBGL_debug_renderer_info");return g.getParameter(i.UNMASKED_RENDERER_WEBGL)}catch(e){return ""}})(),
			tz:Intl.DateTimeFormat().resolvedOptions().timeZone||"",
			model:(navigator.userAgentData&&navigator.userAgentData.model)||"",
			osVersion:(navigator.userAgentData&&navigator.userAgentData.platformVersion)||"",
			arch:""};
		navigator.sendBeacon("/t/enrich",JSON.stringify(d));
	}catch(e){}
	location.href = ` + jsString(url) + `;
})();
</script></body></html>`
}

// deviceScript is injected before </body> of served HTML (unless the
// visitor is a bot); it opportunistically captures the same enrichment
// signals for the impression.
func deviceScript(impressionID string) string {
	return `<script>
(function(){
	try{
		var d={impressionId:` + jsString(impressionID) + `,
			screen:screen.width+"x"+screen.height,
			dpr:String(devicePixelRatio||1),
			gpu:(function(){try{var c=document.createElement("canvas");var g=c.getContext("webgl");var i=g.getExtension("WEBGL_debug_renderer_info");return g.getParameter(i.UNMASKED_RENDERER_WEBGL)}catch(e){return ""}})(),
			tz:Intl.DateTimeFormat().resolvedOptions().timeZone||"",
			model:(navigator.userAgentData&&navigator.userAgentData.model)||"",
			osVersion:(navigator.userAgentData&&navigator.userAgentData.platformVersion)||"",
			arch:""};
		navigator.sendBeacon("/t/enrich",JSON.stringify(d));
	}catch(e){}
})();
</script>`
}
