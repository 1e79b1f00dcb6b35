// Package controldb reads the control-plane tables the hot path consumes:
// destinations, campaigns, and platforms. Only reads happen here; the
// admin surface that writes these tables is a separate system.
package controldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steerhq/steer/internal/model"
	"github.com/steerhq/steer/internal/platformcache"
)

// Repo wraps the control database.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a control-plane reader.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// DestinationMeta returns only updated_at for the destination-cache probe.
func (r *Repo) DestinationMeta(ctx context.Context, id string) (int64, bool, error) {
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT updated_at_ns FROM destinations WHERE id = ?`, id).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("controldb: destination meta %s: %w", id, err)
	}
	return updatedAt, true, nil
}

// Destination returns the active destination's URL and updated_at.
// Inactive destinations report found=false.
func (r *Repo) Destination(ctx context.Context, id string) (string, int64, bool, error) {
	var url string
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT url, updated_at_ns FROM destinations WHERE id = ? AND status = ?`,
		id, model.DestinationStatusActive).Scan(&url, &updatedAt)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("controldb: destination %s: %w", id, err)
	}
	return url, updatedAt, true, nil
}

// UserForCampaign resolves the owning user for the drive-namespace fallback.
func (r *Repo) UserForCampaign(ctx context.Context, campaignID string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM campaigns WHERE id = ?`, campaignID).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("controldb: campaign user %s: %w", campaignID, err)
	}
	return userID, nil
}

// PlatformForCampaign joins campaigns to platforms for attribution.
func (r *Repo) PlatformForCampaign(ctx context.Context, campaignID string) (platformcache.Attribution, bool, error) {
	var a platformcache.Attribution
	err := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.click_id_param
		FROM campaigns c
		JOIN platforms p ON p.id = c.platform_id
		WHERE c.id = ?`, campaignID).Scan(&a.PlatformID, &a.PlatformName, &a.ClickIDParam)
	if err == sql.ErrNoRows {
		return platformcache.Attribution{}, false, nil
	}
	if err != nil {
		return platformcache.Attribution{}, false, fmt.Errorf("controldb: platform for campaign %s: %w", campaignID, err)
	}
	return a, true, nil
}
