package reqctx

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mileusna/useragent"

	"github.com/steerhq/steer/internal/ids"
)

// Metadata is the per-request record supplied by the TLS-terminating
// collaborator in front of the dispatcher.
type Metadata struct {
	IP          string
	ASN         int
	ASOrg       string
	Colo        string
	TLSVersion  string
	TLSCipher   string
	HTTPProto   string
	BotScore    int
	TrustScore  int
	VerifiedBot bool

	Country    string
	Region     string
	RegionCode string
	City       string
	Continent  string
	Lat        string
	Lon        string
	TZ         string
	Postal     string
}

// GeoLookup fills geo fields for an IP when the transport record carries
// none. Implemented by internal/geoip.
type GeoLookup interface {
	Lookup(ip string) (Geo, bool)
}

// Enricher builds request contexts.
type Enricher struct {
	// Geo is optional; used only when metadata has no country.
	Geo GeoLookup
}

// ErrBadEmbedURL reports an unusable /track.js url parameter.
var ErrBadEmbedURL = fmt.Errorf("reqctx: invalid embed url")

// IsPrefetch reports whether the request is a prefetch/prerender probe.
// Such requests are answered 204 with no dispatch and no events.
func IsPrefetch(r *http.Request) bool {
	for _, name := range []string{"Sec-Purpose", "Purpose"} {
		v := strings.ToLower(r.Header.Get(name))
		if strings.Contains(v, "prefetch") || strings.Contains(v, "prerender") {
			return true
		}
	}
	return false
}

// Enrich builds the context for a direct (non-embed) request.
func (e *Enricher) Enrich(r *http.Request, md Metadata) *Context {
	host := strings.ToLower(hostOnly(r.Host))
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return e.build(r, md, host, path, flattenQuery(r.URL.Query()), false)
}

// EnrichEmbed builds the context for a /track.js embed request: host, path
// and query come from the url parameter rather than the request line.
func (e *Enricher) EnrichEmbed(r *http.Request, md Metadata, rawURL string) (*Context, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrBadEmbedURL
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return e.build(r, md, strings.ToLower(hostOnly(u.Host)), path, flattenQuery(u.Query()), true), nil
}

func (e *Enricher) build(r *http.Request, md Metadata, host, path string, query map[string]string, embed bool) *Context {
	headers, order := flattenHeaders(r)

	ua := parseUA(r.Header.Get("User-Agent"))
	applyClientHints(&ua, headers)

	geo := Geo{
		Country:    md.Country,
		Region:     md.Region,
		RegionCode: md.RegionCode,
		City:       md.City,
		Continent:  md.Continent,
		Lat:        md.Lat,
		Lon:        md.Lon,
		TZ:         md.TZ,
		Postal:     md.Postal,
	}
	if geo.Country == "" && e.Geo != nil && md.IP != "" {
		if g, ok := e.Geo.Lookup(md.IP); ok {
			geo = g
		}
	}

	ctx := &Context{
		Host:        host,
		Path:        path,
		Query:       query,
		Headers:     headers,
		HeaderOrder: order,
		IP:          md.IP,
		Org:         md.ASOrg,
		Referrer:    r.Header.Get("Referer"),
		IsEmbed:     embed,
		UA:          ua,
		Geo:         geo,
		Edge: Edge{
			ASN:         md.ASN,
			ASOrg:       md.ASOrg,
			Colo:        md.Colo,
			TrustScore:  md.TrustScore,
			BotScore:    md.BotScore,
			VerifiedBot: md.VerifiedBot,
			HTTPProto:   md.HTTPProto,
			TLSVersion:  md.TLSVersion,
			TLSCipher:   md.TLSCipher,
		},
	}

	// Bot verdict: UA detection, low bot score, high trust score, or the
	// verified-bot flag. Scores of zero mean "absent" and do not vote.
	ctx.IsBot = ua.Bot ||
		(md.BotScore > 0 && md.BotScore < 30) ||
		md.TrustScore > 50 ||
		md.VerifiedBot

	ctx.SessionID = ids.SessionID(ids.FingerprintInput{
		IP:                      ctx.IP,
		TLSCipher:               ctx.Edge.TLSCipher,
		HTTPProtocol:            ctx.Edge.HTTPProto,
		UserAgent:               ua.Raw,
		HeaderOrder:             order,
		Accept:                  headers["accept"],
		AcceptLanguage:          headers["accept-language"],
		AcceptEncoding:          headers["accept-encoding"],
		SecCHUA:                 headers["sec-ch-ua"],
		SecCHUAPlatform:         headers["sec-ch-ua-platform"],
		SecCHUAMobile:           headers["sec-ch-ua-mobile"],
		Connection:              headers["connection"],
		UpgradeInsecureRequests: headers["upgrade-insecure-requests"],
	})

	return ctx
}

// MetadataFromHeaders extracts the transport metadata record from the
// edge-annotated request headers (cf-* convention). Used when the TLS
// terminator communicates via headers rather than a side channel.
func MetadataFromHeaders(r *http.Request) Metadata {
	h := r.Header
	md := Metadata{
		IP:          firstNonEmpty(h.Get("CF-Connecting-IP"), h.Get("X-Real-IP"), ipOnly(r.RemoteAddr)),
		ASOrg:       h.Get("X-AS-Organization"),
		Colo:        h.Get("X-Colo"),
		TLSVersion:  h.Get("X-TLS-Version"),
		TLSCipher:   h.Get("X-TLS-Cipher"),
		HTTPProto:   firstNonEmpty(h.Get("X-HTTP-Protocol"), r.Proto),
		VerifiedBot: strings.EqualFold(h.Get("X-Verified-Bot"), "true"),
		Country:     h.Get("CF-IPCountry"),
		Region:      h.Get("X-Region"),
		RegionCode:  h.Get("X-Region-Code"),
		City:        h.Get("X-City"),
		Continent:   h.Get("X-Continent"),
		Lat:         h.Get("X-Latitude"),
		Lon:         h.Get("X-Longitude"),
		TZ:          h.Get("X-Timezone"),
		Postal:      h.Get("X-Postal-Code"),
	}
	md.ASN, _ = strconv.Atoi(h.Get("X-ASN"))
	md.BotScore, _ = strconv.Atoi(h.Get("X-Bot-Score"))
	md.TrustScore, _ = strconv.Atoi(h.Get("X-Trust-Score"))
	if md.Country == "XX" {
		md.Country = ""
	}
	return md
}

func parseUA(raw string) UA {
	p := useragent.Parse(raw)
	device := "desktop"
	switch {
	case p.Bot:
		device = "bot"
	case p.Mobile:
		device = "mobile"
	case p.Tablet:
		device = "tablet"
	case p.Desktop:
		device = "desktop"
	}
	return UA{
		Browser:   p.Name,
		Version:   p.Version,
		OS:        p.OS,
		OSVersion: p.OSVersion,
		Device:    device,
		Model:     p.Device,
		Raw:       raw,
		Bot:       p.Bot,
	}
}

// applyClientHints overrides UA-derived fields with sec-ch-ua-* values
// when present; hints are authoritative where the UA string is frozen.
func applyClientHints(ua *UA, headers map[string]string) {
	if v := unquoteHint(headers["sec-ch-ua-platform"]); v != "" {
		ua.OS = v
	}
	if v := unquoteHint(headers["sec-ch-ua-platform-version"]); v != "" {
		ua.OSVersion = v
	}
	if v := unquoteHint(headers["sec-ch-ua-model"]); v != "" {
		ua.Model = v
	}
	if v := unquoteHint(headers["sec-ch-ua-arch"]); v != "" {
		ua.Arch = v
	}
	if v := headers["sec-ch-ua-mobile"]; v != "" {
		if v == "?1" {
			ua.Device = "mobile"
		} else if v == "?0" && ua.Device == "mobile" {
			ua.Device = "desktop"
		}
	}
	if v := headers["sec-ch-ua"]; v != "" && ua.Brand == "" {
		ua.Brand = primaryBrand(v)
	}
}

// primaryBrand extracts the first non-placeholder brand from a sec-ch-ua
// list like `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`.
func primaryBrand(v string) string {
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if i := strings.Index(part, ";"); i >= 0 {
			part = part[:i]
		}
		name := unquoteHint(part)
		if name == "" || strings.Contains(strings.ToLower(name), "brand") {
			continue
		}
		return name
	}
	return ""
}

func unquoteHint(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"`)
}

func flattenQuery(vals url.Values) map[string]string {
	out := make(map[string]string, len(vals))
	for k, vs := range vals {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// flattenHeaders maps lowercased names to their first value and returns
// the canonical header names sorted. net/http keeps headers in a map, so
// the order the client sent them in is not available here.
func flattenHeaders(r *http.Request) (map[string]string, []string) {
	out := make(map[string]string, len(r.Header))
	order := make([]string, 0, len(r.Header))
	for name, vs := range r.Header {
		lower := strings.ToLower(name)
		if len(vs) > 0 {
			out[lower] = vs[0]
		}
		order = append(order, name)
	}
	// Map iteration order is unstable; sort for a deterministic fingerprint.
	// The wire order is unavailable through net/http, so the stable proxy
	// for "header order" is the sorted name list.
	sortStrings(order)
	return out, order
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func ipOnly(remoteAddr string) string {
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return h
	}
	return remoteAddr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
