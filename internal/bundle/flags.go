package bundle

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StringList decodes a JSON field that may be a scalar or a list. Scalars
// become a list of one, so matching code only ever deals with lists.
// Numeric scalars are stringified (ASN lists commonly arrive as numbers).
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*l = StringList{strconv.FormatFloat(n, 'f', -1, 64)}
		return nil
	}
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	out := make(StringList, 0, len(raw))
	for _, v := range raw {
		out = append(out, stringify(v))
	}
	*l = out
	return nil
}

// TimeWindow is a half-open interval on fractional UTC hours.
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// FlagSet is a conjunction of predicates over the request context: every
// present field must match; a list value matches if any element matches;
// a missing field is "don't care".
type FlagSet struct {
	Country   StringList `json:"country,omitempty"`
	Region    StringList `json:"region,omitempty"`
	City      StringList `json:"city,omitempty"`
	Continent StringList `json:"continent,omitempty"`
	ASN       StringList `json:"asn,omitempty"`
	Colo      StringList `json:"colo,omitempty"`
	IP        StringList `json:"ip,omitempty"`
	Org       StringList `json:"org,omitempty"`
	Language  StringList `json:"language,omitempty"`
	Device    StringList `json:"device,omitempty"`
	Browser   StringList `json:"browser,omitempty"`
	OS        StringList `json:"os,omitempty"`
	Brand     StringList `json:"brand,omitempty"`

	Time *TimeWindow `json:"time,omitempty"`

	// Params is an AND over entries, evaluated only on page-like requests.
	Params map[string]string `json:"params,omitempty"`
}

// IsZero reports whether no predicate is present.
func (f *FlagSet) IsZero() bool {
	return f == nil || (len(f.Country) == 0 && len(f.Region) == 0 && len(f.City) == 0 &&
		len(f.Continent) == 0 && len(f.ASN) == 0 && len(f.Colo) == 0 && len(f.IP) == 0 &&
		len(f.Org) == 0 && len(f.Language) == 0 && len(f.Device) == 0 && len(f.Browser) == 0 &&
		len(f.OS) == 0 && len(f.Brand) == 0 && f.Time == nil && len(f.Params) == 0)
}

// WithoutParams returns a copy with the params predicate stripped. Used by
// the asset-inheritance retry.
func (f *FlagSet) WithoutParams() *FlagSet {
	if f == nil {
		return nil
	}
	c := *f
	c.Params = nil
	return &c
}

// BlockSet is the deny-list attached to a bundle. A match of any entry
// short-circuits the request to the safe page.
type BlockSet struct {
	IPs       StringList `json:"ips,omitempty"`
	Orgs      StringList `json:"orgs,omitempty"`      // wildcard
	Hostnames StringList `json:"hostnames,omitempty"` // wildcard
	Cities    StringList `json:"cities,omitempty"`    // wildcard
	Countries StringList `json:"countries,omitempty"` // exact ISO codes
	Devices   StringList `json:"devices,omitempty"`
	Browsers  StringList `json:"browsers,omitempty"` // wildcard
	OSes      StringList `json:"oses,omitempty"`     // wildcard
}
