package event

import (
	"database/sql"
	"fmt"
)

// Repo persists events. All inserts run through one prepared statement
// with ON CONFLICT(event_id) DO NOTHING, so replayed writes are no-ops.
type Repo struct {
	db     *sql.DB
	insert *sql.Stmt
	enrich *sql.Stmt
}

const insertSQL = `
INSERT INTO events (
	event_id, ts_ns, session_id, campaign_id,
	is_impression, is_click, is_conversion,
	host, path, query_json, ip, org, referrer, is_embed, is_bot,
	country, region, region_code, city, continent, lat, lon, timezone, postal,
	asn, as_org, colo, trust_score, bot_score, verified_bot, http_proto, tls_version, tls_cipher,
	browser, browser_version, os, os_version, device, brand, model, arch, ua_raw,
	landing_page, landing_page_mode, destination_url, destination_id, matched_flags,
	platform_id, platform_click_id, click_id, impression_id,
	payout, conversion_type, postback_data
) VALUES (
	?, ?, ?, ?,
	?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?,
	?, ?, ?, ?,
	?, ?, ?
) ON CONFLICT(event_id) DO NOTHING`

const enrichSQL = `
UPDATE events SET
	screen = ?, dpr = ?, gpu = ?, enrich_tz = ?,
	enrich_model = ?, enrich_os_version = ?, enrich_arch = ?
WHERE event_id = ?`

// NewRepo prepares the repo's statements.
func NewRepo(db *sql.DB) (*Repo, error) {
	insert, err := db.Prepare(insertSQL)
	if err != nil {
		return nil, fmt.Errorf("events: prepare insert: %w", err)
	}
	enrich, err := db.Prepare(enrichSQL)
	if err != nil {
		insert.Close()
		return nil, fmt.Errorf("events: prepare enrich: %w", err)
	}
	return &Repo{db: db, insert: insert, enrich: enrich}, nil
}

// Close releases the prepared statements.
func (r *Repo) Close() error {
	r.insert.Close()
	r.enrich.Close()
	return nil
}

// Insert writes one event row. Duplicate event IDs are silently ignored.
func (r *Repo) Insert(e Event) error {
	_, err := r.insert.Exec(
		e.EventID, e.TsNs, e.SessionID, e.CampaignID,
		boolInt(e.IsImpression), boolInt(e.IsClick), boolInt(e.IsConversion),
		e.Host, e.Path, e.QueryJSON, e.IP, e.Org, e.Referrer, boolInt(e.IsEmbed), boolInt(e.IsBot),
		e.Country, e.Region, e.RegionCode, e.City, e.Continent, e.Lat, e.Lon, e.Timezone, e.Postal,
		e.ASN, e.ASOrg, e.Colo, e.TrustScore, e.BotScore, boolInt(e.VerifiedBot), e.HTTPProto, e.TLSVersion, e.TLSCipher,
		e.Browser, e.BrowserVersion, e.OS, e.OSVersion, e.Device, e.Brand, e.Model, e.Arch, e.UARaw,
		e.LandingPage, e.LandingPageMode, e.DestinationURL, e.DestinationID, e.MatchedFlags,
		e.PlatformID, e.PlatformClickID, e.ClickID, e.ImpressionID,
		e.Payout, e.ConversionType, e.PostbackData,
	)
	if err != nil {
		return fmt.Errorf("events: insert %s: %w", e.EventID, err)
	}
	return nil
}

// InsertBatch writes entries one statement at a time inside a
// transaction; returns the number attempted.
func (r *Repo) InsertBatch(entries []Event) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("events: begin batch: %w", err)
	}
	stmt := tx.Stmt(r.insert)
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(
			e.EventID, e.TsNs, e.SessionID, e.CampaignID,
			boolInt(e.IsImpression), boolInt(e.IsClick), boolInt(e.IsConversion),
			e.Host, e.Path, e.QueryJSON, e.IP, e.Org, e.Referrer, boolInt(e.IsEmbed), boolInt(e.IsBot),
			e.Country, e.Region, e.RegionCode, e.City, e.Continent, e.Lat, e.Lon, e.Timezone, e.Postal,
			e.ASN, e.ASOrg, e.Colo, e.TrustScore, e.BotScore, boolInt(e.VerifiedBot), e.HTTPProto, e.TLSVersion, e.TLSCipher,
			e.Browser, e.BrowserVersion, e.OS, e.OSVersion, e.Device, e.Brand, e.Model, e.Arch, e.UARaw,
			e.LandingPage, e.LandingPageMode, e.DestinationURL, e.DestinationID, e.MatchedFlags,
			e.PlatformID, e.PlatformClickID, e.ClickID, e.ImpressionID,
			e.Payout, e.ConversionType, e.PostbackData,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("events: batch insert %s: %w", e.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("events: commit batch: %w", err)
	}
	return len(entries), nil
}

// UpdateEnrichment sets only the enrichment columns of the row whose
// event_id matches the beacon's impression ID.
func (r *Repo) UpdateEnrichment(en Enrichment) error {
	_, err := r.enrich.Exec(
		en.Screen, en.DPR, en.GPU, en.TZ,
		en.Model, en.OSVersion, en.Arch,
		en.ImpressionID,
	)
	if err != nil {
		return fmt.Errorf("events: enrich %s: %w", en.ImpressionID, err)
	}
	return nil
}

const selectCols = `
	event_id, ts_ns, session_id, campaign_id,
	is_impression, is_click, is_conversion,
	host, path, query_json, ip, org, referrer, is_embed, is_bot,
	country, region, region_code, city, continent, lat, lon, timezone, postal,
	asn, as_org, colo, trust_score, bot_score, verified_bot, http_proto, tls_version, tls_cipher,
	browser, browser_version, os, os_version, device, brand, model, arch, ua_raw,
	landing_page, landing_page_mode, destination_url, destination_id, matched_flags,
	platform_id, platform_click_id, click_id, impression_id,
	payout, conversion_type, postback_data`

// GetClick fetches a click row by its event ID. found=false on miss.
func (r *Repo) GetClick(eventID string) (Event, bool, error) {
	row := r.db.QueryRow(
		`SELECT `+selectCols+` FROM events WHERE event_id = ? AND is_click = 1`, eventID)
	return scanEvent(row)
}

// GetImpression fetches an impression row by its event ID.
func (r *Repo) GetImpression(impressionID string) (Event, bool, error) {
	row := r.db.QueryRow(
		`SELECT `+selectCols+` FROM events WHERE event_id = ? AND is_impression = 1`, impressionID)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (Event, bool, error) {
	var e Event
	var isImp, isClick, isConv, isEmbed, isBot, verifiedBot int
	err := row.Scan(
		&e.EventID, &e.TsNs, &e.SessionID, &e.CampaignID,
		&isImp, &isClick, &isConv,
		&e.Host, &e.Path, &e.QueryJSON, &e.IP, &e.Org, &e.Referrer, &isEmbed, &isBot,
		&e.Country, &e.Region, &e.RegionCode, &e.City, &e.Continent, &e.Lat, &e.Lon, &e.Timezone, &e.Postal,
		&e.ASN, &e.ASOrg, &e.Colo, &e.TrustScore, &e.BotScore, &verifiedBot, &e.HTTPProto, &e.TLSVersion, &e.TLSCipher,
		&e.Browser, &e.BrowserVersion, &e.OS, &e.OSVersion, &e.Device, &e.Brand, &e.Model, &e.Arch, &e.UARaw,
		&e.LandingPage, &e.LandingPageMode, &e.DestinationURL, &e.DestinationID, &e.MatchedFlags,
		&e.PlatformID, &e.PlatformClickID, &e.ClickID, &e.ImpressionID,
		&e.Payout, &e.ConversionType, &e.PostbackData,
	)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("events: scan: %w", err)
	}
	e.IsImpression = isImp != 0
	e.IsClick = isClick != 0
	e.IsConversion = isConv != 0
	e.IsEmbed = isEmbed != 0
	e.IsBot = isBot != 0
	e.VerifiedBot = verifiedBot != 0
	return e, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
