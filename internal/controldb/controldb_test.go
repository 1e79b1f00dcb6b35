package controldb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/steerhq/steer/internal/store"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.MigrateControlDB(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func seed(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
}

func TestDestination(t *testing.T) {
	db := newDB(t)
	seed(t, db,
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('d1', 'https://x.example/', 'active', 5)`,
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('d2', 'https://y.example/', 'paused', 5)`,
	)
	r := NewRepo(db)

	url, updatedAt, found, err := r.Destination(context.Background(), "d1")
	if err != nil || !found {
		t.Fatalf("Destination: found=%v err=%v", found, err)
	}
	if url != "https://x.example/" || updatedAt != 5 {
		t.Errorf("got %q, %d", url, updatedAt)
	}

	// Inactive destinations report found=false.
	if _, _, found, _ := r.Destination(context.Background(), "d2"); found {
		t.Error("paused destination resolved")
	}

	if _, _, found, _ := r.Destination(context.Background(), "nope"); found {
		t.Error("missing destination resolved")
	}
}

func TestDestinationMeta(t *testing.T) {
	db := newDB(t)
	seed(t, db,
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('d1', 'u', 'paused', 42)`,
	)
	r := NewRepo(db)

	// Meta probe sees the row regardless of status.
	updatedAt, found, err := r.DestinationMeta(context.Background(), "d1")
	if err != nil || !found || updatedAt != 42 {
		t.Fatalf("DestinationMeta = %d, %v, %v", updatedAt, found, err)
	}
}

func TestUserForCampaign(t *testing.T) {
	db := newDB(t)
	seed(t, db,
		`INSERT INTO campaigns (id, user_id) VALUES ('c1', 'u1')`,
	)
	r := NewRepo(db)

	user, err := r.UserForCampaign(context.Background(), "c1")
	if err != nil || user != "u1" {
		t.Fatalf("UserForCampaign = %q, %v", user, err)
	}
	user, err = r.UserForCampaign(context.Background(), "missing")
	if err != nil || user != "" {
		t.Fatalf("missing campaign = %q, %v", user, err)
	}
}

func TestPlatformForCampaign(t *testing.T) {
	db := newDB(t)
	seed(t, db,
		`INSERT INTO platforms (id, name, click_id_param) VALUES ('p1', 'facebook', 'fbclid')`,
		`INSERT INTO campaigns (id, platform_id) VALUES ('c1', 'p1')`,
		`INSERT INTO campaigns (id, platform_id) VALUES ('c2', '')`,
	)
	r := NewRepo(db)

	a, found, err := r.PlatformForCampaign(context.Background(), "c1")
	if err != nil || !found {
		t.Fatalf("PlatformForCampaign: %v %v", found, err)
	}
	if a.PlatformName != "facebook" || a.ClickIDParam != "fbclid" {
		t.Errorf("attribution = %+v", a)
	}

	if _, found, _ := r.PlatformForCampaign(context.Background(), "c2"); found {
		t.Error("campaign without platform resolved")
	}
}
