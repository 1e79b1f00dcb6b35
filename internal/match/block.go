package match

import (
	"strings"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/reqctx"
)

// Blocked evaluates the bundle deny-list. A match of any entry
// short-circuits the request to the safe page; the returned reason names
// the matching list for logging.
func Blocked(b *bundle.BlockSet, ctx *reqctx.Context) (bool, string) {
	if b == nil {
		return false, ""
	}
	for _, p := range b.IPs {
		if IPMatch(p, ctx.IP) {
			return true, "ip:" + p
		}
	}
	for _, p := range b.Orgs {
		if Glob(p, ctx.Org) {
			return true, "org:" + p
		}
	}
	for _, p := range b.Hostnames {
		if Glob(p, ctx.Host) {
			return true, "hostname:" + p
		}
	}
	for _, p := range b.Cities {
		if Glob(p, ctx.Geo.City) {
			return true, "city:" + p
		}
	}
	for _, p := range b.Countries {
		if strings.EqualFold(p, ctx.Geo.Country) {
			return true, "country:" + p
		}
	}
	for _, p := range b.Devices {
		if strings.EqualFold(p, ctx.UA.Device) {
			return true, "device:" + p
		}
	}
	for _, p := range b.Browsers {
		if Glob(p, ctx.UA.Browser) {
			return true, "browser:" + p
		}
	}
	for _, p := range b.OSes {
		if Glob(p, ctx.UA.OS) {
			return true, "os:" + p
		}
	}
	return false, ""
}
