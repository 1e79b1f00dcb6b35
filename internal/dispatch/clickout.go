package dispatch

import (
	"net/http"
	"net/url"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/event"
	"github.com/steerhq/steer/internal/ids"
	"github.com/steerhq/steer/internal/macro"
	"github.com/steerhq/steer/internal/match"
)

// clickOut handles paths whose final segment is "click": it selects a
// click destination, merges the prior impression's query, and answers a
// 302. Returns false when no click target resolves, in which case the
// caller falls through to regular rule processing.
func (h *Handler) clickOut(w http.ResponseWriter, r *http.Request, st *state) bool {
	ctx := st.ctx
	mopts := match.Options{TimeWrap: h.opts.TimeWrap}

	// Rules whose conditions match and that carry a click action.
	var cands []*bundle.Rule
	var descs [][]string
	for i := range st.bundle.Rules {
		rule := &st.bundle.Rules[i]
		if !rule.HasClickAction() {
			continue
		}
		if ok, desc := match.Rule(rule, ctx, mopts); ok {
			cands = append(cands, rule)
			descs = append(descs, desc)
		}
	}

	var rawURL, destID string
	var matched []string

	if len(cands) > 0 {
		weights := make([]int, len(cands))
		for i, c := range cands {
			weights[i] = c.EffectiveWeight()
		}
		idx := h.opts.PickIndex(weights, 100)
		rule := cands[idx]
		matched = descs[idx]
		st.rule = rule

		rawURL, destID = h.selectClickDestination(r, rule)
	}

	// Root-level destinationId+defaultFolder backstop.
	if rawURL == "" && st.bundle.DestinationID != "" && st.bundle.DefaultFolder != "" {
		if u, ok := h.resolveDestination(r.Context(), st.bundle.DestinationID); ok {
			rawURL = u
			destID = st.bundle.DestinationID
		}
	}
	if rawURL == "" {
		return false
	}

	clickID := ids.NewEventID()
	impressionID := ctx.Query["impression_id"]
	if impressionID == "" {
		impressionID = ids.NewEventID()
	}
	ctx.ImpressionID = impressionID

	// Recover the prior impression's landing page and query; merge its
	// query under the current one.
	landingPage, landingMode := "", ""
	if imp, found, err := h.events.Repo().GetImpression(impressionID); err == nil && found {
		landingPage = imp.LandingPage
		landingMode = imp.LandingPageMode
		merged := imp.QueryParams()
		for k, v := range ctx.Query {
			merged[k] = v
		}
		ctx.Query = merged
	}

	vals := h.buildMacroValues(st, clickID)
	dest := macro.ExpandURL(rawURL, vals)

	u, err := url.Parse(dest)
	if err != nil {
		h.log.Warn().Err(err).Str("url", dest).Msg("click destination unparsable")
		return false
	}
	q := u.Query()
	for k, v := range ctx.Query {
		if k == "impression_id" {
			continue
		}
		if q.Get(k) == "" {
			q.Set(k, v)
		}
	}
	q.Set("click_id", clickID)
	q.Set("impression_id", impressionID)
	q.Set("session_id", ctx.SessionID)
	u.RawQuery = q.Encode()

	if ctx.IsEmbed {
		h.writeEmbedJS(w, "location.href = "+jsString(u.String())+";")
	} else {
		setNoCache(w.Header())
		w.Header().Set("Location", u.String())
		w.WriteHeader(http.StatusFound)
	}

	e := event.FromContext(ctx)
	e.EventID = clickID
	e.ClickID = clickID
	e.ImpressionID = impressionID
	e.IsClick = true
	e.CampaignID = st.bundle.ID
	e.LandingPage = landingPage
	e.LandingPageMode = landingMode
	e.DestinationURL = u.String()
	e.DestinationID = destID
	e.MatchedFlags = matchedFlagsJSON(matched)
	e.PlatformID = st.attr.PlatformID
	e.PlatformClickID = st.platformClickID
	h.events.Emit(e)
	return true
}

// selectClickDestination picks the rule's click target: the weighted
// clickDestinations list when present (skipping unresolvable IDs), else
// the plain clickUrl.
func (h *Handler) selectClickDestination(r *http.Request, rule *bundle.Rule) (rawURL, destID string) {
	dests := rule.ClickDestinations
	for len(dests) > 0 {
		weights := make([]int, len(dests))
		for i, d := range dests {
			weights[i] = d.Weight
		}
		idx := h.opts.PickIndex(weights, 1)
		d := dests[idx]

		if d.URL != "" {
			return d.URL, d.ID
		}
		if d.ID != "" {
			if u, ok := h.resolveDestination(r.Context(), d.ID); ok {
				return u, d.ID
			}
		}
		// Unresolvable destination: drop it and repick.
		dests = append(append([]bundle.WeightedClickDest{}, dests[:idx]...), dests[idx+1:]...)
	}
	return rule.ClickURL, ""
}
