package dispatch

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/steerhq/steer/internal/event"
	"github.com/steerhq/steer/internal/ids"
)

// postback ingests a conversion: GET /postback?click_id=...&payout=...&
// conversion_type=...  The click row is looked up by its event ID; every
// query parameter is captured into postbackData.
func (h *Handler) postback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clickID := q.Get("click_id")
	if clickID == "" {
		http.Error(w, "missing click_id", http.StatusBadRequest)
		return
	}

	click, found, err := h.events.Repo().GetClick(clickID)
	if err != nil {
		h.log.Error().Err(err).Str("click_id", clickID).Msg("postback click lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !found {
		// The click may still sit in the async queue; settle it and retry
		// once before reporting a miss.
		h.events.Flush()
		click, found, err = h.events.Repo().GetClick(clickID)
		if err != nil || !found {
			http.NotFound(w, r)
			return
		}
	}

	payout, _ := strconv.ParseFloat(q.Get("payout"), 64)

	postbackData := "{}"
	for k := range q {
		// Dots in parameter names are literal keys, not sjson paths.
		path := strings.ReplaceAll(k, ".", `\.`)
		if v, err := sjson.Set(postbackData, path, q.Get(k)); err == nil {
			postbackData = v
		}
	}

	conv := click
	conv.EventID = ids.NewEventID()
	conv.IsImpression = false
	conv.IsClick = false
	conv.IsConversion = true
	conv.ClickID = clickID
	conv.Payout = payout
	conv.ConversionType = q.Get("conversion_type")
	conv.PostbackData = postbackData
	conv.TsNs = 0 // restamped by Emit
	h.events.Emit(conv)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// enrichBeacon applies the /t/enrich beacon: a best-effort update of the
// impression row's enrichment columns. Always 204.
func (h *Handler) enrichBeacon(w http.ResponseWriter, r *http.Request) {
	var en event.Enrichment
	if err := decodeJSONBody(r, &en); err == nil && en.ImpressionID != "" {
		go func() {
			if err := h.events.Repo().UpdateEnrichment(en); err != nil {
				h.log.Warn().Err(err).Str("impression_id", en.ImpressionID).Msg("enrichment update failed")
			}
		}()
	}
	w.WriteHeader(http.StatusNoContent)
}
