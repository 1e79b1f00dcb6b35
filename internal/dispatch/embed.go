package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/steerhq/steer/internal/reqctx"
)

// embed handles GET /track.js?url=<abs>: the dispatch runs as if the
// request were for the given URL, and every response is JavaScript.
func (h *Handler) embed(w http.ResponseWriter, r *http.Request) {
	if reqctx.IsPrefetch(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rawURL := r.URL.Query().Get("url")
	ctx, err := h.enricher.EnrichEmbed(r, h.opts.Metadata(r), rawURL)
	if err != nil {
		if errors.Is(err, reqctx.ErrBadEmbedURL) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("/* invalid url parameter */"))
			return
		}
		h.log.Error().Err(err).Msg("embed enrichment failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.dispatchContext(w, r, ctx)
}

// decodeJSONBody reads a small JSON request body.
func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("dispatch: read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("dispatch: decode body: %w", err)
	}
	return nil
}
