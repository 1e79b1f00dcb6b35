// Package event implements the attribution event pipeline: the unified
// impression/click/conversion row model, the idempotent SQLite repo, and
// the async emit service that keeps event writes off the response path.
package event

import (
	"encoding/json"

	"github.com/steerhq/steer/internal/reqctx"
)

// Event is one row of the unified events table. For redirect-mode
// campaigns a single row carries both IsImpression and IsClick under one
// EventID; for hosted/proxy campaigns impression and click are distinct
// rows linked by ImpressionID.
type Event struct {
	EventID    string
	TsNs       int64
	SessionID  string
	CampaignID string

	IsImpression bool
	IsClick      bool
	IsConversion bool

	Host      string
	Path      string
	QueryJSON string
	IP        string
	Org       string
	Referrer  string
	IsEmbed   bool
	IsBot     bool

	Country    string
	Region     string
	RegionCode string
	City       string
	Continent  string
	Lat        string
	Lon        string
	Timezone   string
	Postal     string

	ASN         int
	ASOrg       string
	Colo        string
	TrustScore  int
	BotScore    int
	VerifiedBot bool
	HTTPProto   string
	TLSVersion  string
	TLSCipher   string

	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	Brand          string
	Model          string
	Arch           string
	UARaw          string

	LandingPage     string
	LandingPageMode string
	DestinationURL  string
	DestinationID   string
	MatchedFlags    string
	PlatformID      string
	PlatformClickID string
	ClickID         string
	ImpressionID    string

	Payout         float64
	ConversionType string
	PostbackData   string
}

// FromContext copies the request-context columns into a new event.
func FromContext(ctx *reqctx.Context) Event {
	return Event{
		SessionID: ctx.SessionID,
		Host:      ctx.Host,
		Path:      ctx.Path,
		QueryJSON: marshalQuery(ctx.Query),
		IP:        ctx.IP,
		Org:       ctx.Org,
		Referrer:  ctx.Referrer,
		IsEmbed:   ctx.IsEmbed,
		IsBot:     ctx.IsBot,

		Country:    ctx.Geo.Country,
		Region:     ctx.Geo.Region,
		RegionCode: ctx.Geo.RegionCode,
		City:       ctx.Geo.City,
		Continent:  ctx.Geo.Continent,
		Lat:        ctx.Geo.Lat,
		Lon:        ctx.Geo.Lon,
		Timezone:   ctx.Geo.TZ,
		Postal:     ctx.Geo.Postal,

		ASN:         ctx.Edge.ASN,
		ASOrg:       ctx.Edge.ASOrg,
		Colo:        ctx.Edge.Colo,
		TrustScore:  ctx.Edge.TrustScore,
		BotScore:    ctx.Edge.BotScore,
		VerifiedBot: ctx.Edge.VerifiedBot,
		HTTPProto:   ctx.Edge.HTTPProto,
		TLSVersion:  ctx.Edge.TLSVersion,
		TLSCipher:   ctx.Edge.TLSCipher,

		Browser:        ctx.UA.Browser,
		BrowserVersion: ctx.UA.Version,
		OS:             ctx.UA.OS,
		OSVersion:      ctx.UA.OSVersion,
		Device:         ctx.UA.Device,
		Brand:          ctx.UA.Brand,
		Model:          ctx.UA.Model,
		Arch:           ctx.UA.Arch,
		UARaw:          ctx.UA.Raw,
	}
}

func marshalQuery(q map[string]string) string {
	if len(q) == 0 {
		return "{}"
	}
	b, err := json.Marshal(q)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// QueryParams decodes the stored query column.
func (e *Event) QueryParams() map[string]string {
	out := map[string]string{}
	if e.QueryJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(e.QueryJSON), &out)
	return out
}

// Enrichment carries the /t/enrich beacon fields.
type Enrichment struct {
	ImpressionID string `json:"impressionId"`
	Screen       string `json:"screen"`
	DPR          string `json:"dpr"`
	GPU          string `json:"gpu"`
	TZ           string `json:"tz"`
	Model        string `json:"model"`
	OSVersion    string `json:"osVersion"`
	Arch         string `json:"arch"`
}
