package dispatch

import (
	"strconv"

	"github.com/steerhq/steer/internal/macro"
)

// buildMacroValues materializes the per-request macro table once, before
// any expansion. IDs that are not yet minted stay empty.
func (h *Handler) buildMacroValues(st *state, clickID string) macro.Values {
	ctx := st.ctx
	v := macro.Values{}

	// user.*
	v.Set("user.ip", ctx.IP)
	v.Set("user.city", ctx.Geo.City)
	v.Set("user.country", ctx.Geo.Country)
	v.Set("user.continent", ctx.Geo.Continent)
	v.Set("user.region", ctx.Geo.Region)
	v.Set("user.regionCode", ctx.Geo.RegionCode)
	v.Set("user.postalCode", ctx.Geo.Postal)
	v.Set("user.lat", ctx.Geo.Lat)
	v.Set("user.long", ctx.Geo.Lon)
	v.Set("user.timezone", ctx.Geo.TZ)
	v.Set("user.device", ctx.UA.Device)
	v.Set("user.browser", ctx.UA.Browser)
	v.Set("user.browserVersion", ctx.UA.Version)
	v.Set("user.os", ctx.UA.OS)
	v.Set("user.osVersion", ctx.UA.OSVersion)
	v.Set("user.brand", ctx.UA.Brand)
	v.Set("user.model", ctx.UA.Model)
	v.Set("user.arch", ctx.UA.Arch)
	v.Set("user.bot_score", strconv.Itoa(ctx.Edge.BotScore))
	v.Set("user.threat_score", strconv.Itoa(ctx.Edge.TrustScore))
	v.Set("user.is_verified_bot", macro.FormatBool(ctx.Edge.VerifiedBot))
	v.Set("user.organization", ctx.Org)
	v.Set("user.referrer", ctx.Referrer)
	v.Set("user.asn", strconv.Itoa(ctx.Edge.ASN))
	v.Set("user.colo", ctx.Edge.Colo)
	v.Set("user.colo.name", ctx.Edge.Colo)
	v.Set("user.colo.city", "")
	v.Set("user.colo.country", "")
	v.Set("user.colo.region", "")

	// request.*
	v.Set("request.domain", ctx.Host)
	v.Set("request.path", ctx.Path)

	// query.*
	for k, val := range ctx.Query {
		v.Set("query."+macro.QueryKey(k), val)
	}

	// campaign / site / ids
	v.Set("campaign.id", st.bundle.ID)
	v.Set("campaign.name", st.bundle.Name)
	v.Set("site.name", st.bundle.SiteName)
	v.Set("session.id", ctx.SessionID)
	v.Set("impression.id", ctx.ImpressionID)
	v.Set("click.id", clickID)

	// platform.*
	v.Set("platform.id", st.attr.PlatformID)
	v.Set("platform.name", st.attr.PlatformName)
	v.Set("platform.click_id", st.platformClickID)

	// Bundle variables, overridden by rule variables.
	for k, val := range st.bundle.Variables {
		v.Set(k, val)
	}
	if st.rule != nil {
		for k, val := range st.rule.Variables {
			v.Set(k, val)
		}
	}
	return v
}
