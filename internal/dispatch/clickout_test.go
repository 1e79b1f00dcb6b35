package dispatch

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/steerhq/steer/internal/event"
)

func newPostRequest(t *testing.T, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

func insertImpression(t *testing.T, hn *harness, id, campaignID, queryJSON string) {
	t.Helper()
	err := hn.events.Repo().Insert(event.Event{
		EventID:         id,
		TsNs:            time.Now().UnixNano(),
		SessionID:       "sess-imp",
		CampaignID:      campaignID,
		IsImpression:    true,
		Host:            "shop.example",
		Path:            "/",
		QueryJSON:       queryJSON,
		LandingPage:     "lp/",
		LandingPageMode: "hosted",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestClickOutSplitWithMerge(t *testing.T) {
	hn := newHarness(t, nil)
	hn.seedControl(
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('X', 'https://x.example/', 'active', 1)`,
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('Y', 'https://y.example/', 'active', 1)`,
	)
	hn.putBundle("shop.example/", `{
		"id": "camp1",
		"rules": [{
			"clickDestinations": [{"id": "X", "weight": 1}, {"id": "Y", "weight": 1}]
		}]
	}`)
	insertImpression(t, hn, "imp1", "camp1", `{"gclid":"G"}`)

	w := hn.get("http://shop.example/path/click?foo=bar&impression_id=imp1", androidUA, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "x.example" && loc.Host != "y.example" {
		t.Fatalf("Location host = %q", loc.Host)
	}
	q := loc.Query()
	if q.Get("gclid") != "G" {
		t.Errorf("merged gclid = %q, want G", q.Get("gclid"))
	}
	if q.Get("foo") != "bar" {
		t.Errorf("foo = %q", q.Get("foo"))
	}
	for _, p := range []string{"click_id", "impression_id", "session_id"} {
		if q.Get(p) == "" {
			t.Errorf("missing %s parameter", p)
		}
	}
	if q.Get("impression_id") != "imp1" {
		t.Errorf("impression_id = %q", q.Get("impression_id"))
	}

	if n := hn.countEvents("is_click = 1 AND is_impression = 0 AND impression_id = 'imp1'"); n != 1 {
		t.Fatalf("click rows = %d, want 1", n)
	}
	// Click and impression are distinct rows with distinct event IDs.
	if n := hn.countEvents("is_click = 1 AND event_id = 'imp1'"); n != 0 {
		t.Fatal("click reused the impression event ID")
	}
}

func TestClickOutCurrentQueryWins(t *testing.T) {
	hn := newHarness(t, nil)
	hn.putBundle("shop.example/", `{
		"id": "camp1",
		"rules": [{"clickUrl": "https://x.example/"}]
	}`)
	insertImpression(t, hn, "imp1", "camp1", `{"src":"old"}`)

	w := hn.get("http://shop.example/click?src=new&impression_id=imp1", androidUA, nil)
	loc, _ := url.Parse(w.Header().Get("Location"))
	if got := loc.Query().Get("src"); got != "new" {
		t.Fatalf("src = %q, current query must win", got)
	}
}

func TestClickOutSkipsInactiveDestination(t *testing.T) {
	hn := newHarness(t, nil)
	hn.seedControl(
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('X', 'https://x.example/', 'paused', 1)`,
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('Y', 'https://y.example/', 'active', 1)`,
	)
	hn.putBundle("shop.example/", `{
		"id": "camp1",
		"rules": [{
			"clickDestinations": [{"id": "X", "weight": 1}, {"id": "Y", "weight": 1}]
		}]
	}`)

	for i := 0; i < 20; i++ {
		w := hn.get("http://shop.example/click", androidUA, nil)
		loc, _ := url.Parse(w.Header().Get("Location"))
		if loc.Host != "y.example" {
			t.Fatalf("inactive destination selected: %q", loc.Host)
		}
	}
}

func TestClickOutRootDestinationBackstop(t *testing.T) {
	hn := newHarness(t, nil)
	hn.seedControl(
		`INSERT INTO destinations (id, url, status, updated_at_ns) VALUES ('D', 'https://d.example/', 'active', 1)`,
	)
	hn.putBundle("shop.example/", `{
		"id": "camp1",
		"destinationId": "D",
		"defaultFolder": "lp/",
		"rules": []
	}`)

	w := hn.get("http://shop.example/click", androidUA, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	if loc.Host != "d.example" {
		t.Fatalf("Location host = %q", loc.Host)
	}
}

func TestClickOutNoTargetFallsThrough(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>UPSTREAM</html>"))
	}))
	defer up.Close()

	hn := newHarness(t, nil)
	hn.putBundle("shop.example/", `{
		"id": "camp1",
		"rules": [{"proxyUrl": "`+up.URL+`"}]
	}`)

	// /click with no click rules and no root destination: regular
	// processing runs and the proxy rule serves.
	w := hn.get("http://shop.example/click", androidUA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want fall-through 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "UPSTREAM") {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestPostbackHappyPath(t *testing.T) {
	hn := newHarness(t, nil)
	err := hn.events.Repo().Insert(event.Event{
		EventID:    "CL",
		TsNs:       time.Now().UnixNano(),
		SessionID:  "S",
		CampaignID: "K",
		IsClick:    true,
		ClickID:    "CL",
	})
	if err != nil {
		t.Fatal(err)
	}

	w := hn.get("http://shop.example/postback?click_id=CL&payout=12.50&conversion_type=sale&sub1=abc", androidUA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	if n := hn.countEvents("is_conversion = 1 AND click_id = 'CL' AND session_id = 'S' AND campaign_id = 'K' AND payout = 12.5 AND conversion_type = 'sale'"); n != 1 {
		t.Fatalf("conversion rows = %d, want 1", n)
	}

	var postbackData string
	row := hn.eventsDB.QueryRow(`SELECT postback_data FROM events WHERE is_conversion = 1`)
	if err := row.Scan(&postbackData); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{
		"click_id":        "CL",
		"payout":          "12.50",
		"conversion_type": "sale",
		"sub1":            "abc",
	} {
		if got := gjson.Get(postbackData, key).String(); got != want {
			t.Errorf("postback_data[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestPostbackUnknownClick404(t *testing.T) {
	hn := newHarness(t, nil)
	w := hn.get("http://shop.example/postback?click_id=nope", androidUA, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if n := hn.countEvents("is_conversion = 1"); n != 0 {
		t.Fatal("conversion emitted for unknown click")
	}
}

func TestPostbackMissingClickID(t *testing.T) {
	hn := newHarness(t, nil)
	w := hn.get("http://shop.example/postback", androidUA, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEnrichBeacon(t *testing.T) {
	hn := newHarness(t, nil)
	insertImpression(t, hn, "imp1", "camp1", "{}")

	body := `{"impressionId":"imp1","screen":"390x844","dpr":"3","gpu":"Apple GPU","tz":"Europe/Berlin"}`
	req := newPostRequest(t, "http://shop.example/t/enrich", body)
	w := newRecorder()
	hn.h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	// The update runs on a background goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var screen string
		row := hn.eventsDB.QueryRow(`SELECT screen FROM events WHERE event_id = 'imp1'`)
		if err := row.Scan(&screen); err != nil {
			t.Fatal(err)
		}
		if screen == "390x844" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("enrichment not applied, screen = %q", screen)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnrichBeaconBadBodyStill204(t *testing.T) {
	hn := newHarness(t, nil)
	req := newPostRequest(t, "http://shop.example/t/enrich", "{broken")
	w := newRecorder()
	hn.h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}
