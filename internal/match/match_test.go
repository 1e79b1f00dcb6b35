package match

import (
	"testing"
	"time"

	"github.com/steerhq/steer/internal/bundle"
	"github.com/steerhq/steer/internal/reqctx"
)

func usCtx() *reqctx.Context {
	return &reqctx.Context{
		Host: "shop.example",
		Path: "/",
		Query: map[string]string{
			"utm": "x",
		},
		Headers: map[string]string{
			"accept-language": "en-US,en;q=0.9",
		},
		IP:  "1.2.3.4",
		Org: "Example Carrier Inc",
		Geo: reqctx.Geo{
			Country:    "US",
			Region:     "California",
			RegionCode: "CA",
			City:       "San Jose",
			Continent:  "NA",
		},
		Edge: reqctx.Edge{ASN: 13335, Colo: "SJC"},
		UA: reqctx.UA{
			Browser: "Chrome",
			Device:  "desktop",
			OS:      "Mac OS X",
			Brand:   "Chromium",
		},
	}
}

func TestFlagSetFields(t *testing.T) {
	tests := []struct {
		name  string
		flags bundle.FlagSet
		want  bool
	}{
		{"Empty", bundle.FlagSet{}, true},
		{"CountryHit", bundle.FlagSet{Country: bundle.StringList{"US"}}, true},
		{"CountryCaseFold", bundle.FlagSet{Country: bundle.StringList{"us"}}, true},
		{"CountryMiss", bundle.FlagSet{Country: bundle.StringList{"DE"}}, false},
		{"CountryListOR", bundle.FlagSet{Country: bundle.StringList{"DE", "US"}}, true},
		{"ANDAcrossFields", bundle.FlagSet{Country: bundle.StringList{"US"}, Device: bundle.StringList{"mobile"}}, false},
		{"RegionByCode", bundle.FlagSet{Region: bundle.StringList{"CA"}}, true},
		{"ASN", bundle.FlagSet{ASN: bundle.StringList{"13335"}}, true},
		{"Colo", bundle.FlagSet{Colo: bundle.StringList{"SJC"}}, true},
		{"OrgGlob", bundle.FlagSet{Org: bundle.StringList{"example*"}}, true},
		{"OrgGlobMiss", bundle.FlagSet{Org: bundle.StringList{"other*"}}, false},
		{"Language", bundle.FlagSet{Language: bundle.StringList{"en"}}, true},
		{"LanguageMiss", bundle.FlagSet{Language: bundle.StringList{"de"}}, false},
		{"OSSubstring", bundle.FlagSet{OS: bundle.StringList{"mac"}}, true},
		{"Brand", bundle.FlagSet{Brand: bundle.StringList{"Chromium"}}, true},
		{"IPCIDR", bundle.FlagSet{IP: bundle.StringList{"1.2.3.0/24"}}, true},
		{"Params", bundle.FlagSet{Params: map[string]string{"utm": "x"}}, true},
		{"ParamsMiss", bundle.FlagSet{Params: map[string]string{"utm": "y"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := FlagSet(&tt.flags, usCtx(), Options{})
			if got != tt.want {
				t.Errorf("FlagSet = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlagSetDescriptors(t *testing.T) {
	flags := bundle.FlagSet{
		Country: bundle.StringList{"US"},
		Device:  bundle.StringList{"desktop"},
	}
	ok, desc := FlagSet(&flags, usCtx(), Options{})
	if !ok {
		t.Fatal("expected match")
	}
	if len(desc) != 2 || desc[0] != "country=US" || desc[1] != "device=desktop" {
		t.Fatalf("descriptors = %v", desc)
	}
}

func TestParamsOnAssetIsFalse(t *testing.T) {
	ctx := usCtx()
	ctx.Path = "/style.css"
	flags := bundle.FlagSet{Params: map[string]string{"utm": "x"}}
	if ok, _ := FlagSet(&flags, ctx, Options{}); ok {
		t.Fatal("params predicate must be false on asset requests")
	}
}

func TestRuleGroupsOR(t *testing.T) {
	r := bundle.Rule{
		// Groups present: flags must be ignored.
		Flags: &bundle.FlagSet{Country: bundle.StringList{"US"}},
		Groups: []bundle.FlagSet{
			{Country: bundle.StringList{"DE"}},
			{Device: bundle.StringList{"desktop"}},
		},
	}
	ok, desc := Rule(&r, usCtx(), Options{})
	if !ok {
		t.Fatal("groups OR should match via second group")
	}
	if len(desc) != 1 || desc[0] != "device=desktop" {
		t.Fatalf("descriptors = %v", desc)
	}

	r.Groups = []bundle.FlagSet{{Country: bundle.StringList{"DE"}}}
	if ok, _ := Rule(&r, usCtx(), Options{}); ok {
		t.Fatal("non-matching groups must not fall back to flags")
	}
}

func TestRuleNoConditionMatchesAll(t *testing.T) {
	if ok, _ := Rule(&bundle.Rule{}, usCtx(), Options{}); !ok {
		t.Fatal("rule with no condition should match")
	}
}

func TestRuleWithoutParams(t *testing.T) {
	ctx := usCtx()
	ctx.Path = "/app.js"
	r := bundle.Rule{Flags: &bundle.FlagSet{
		Country: bundle.StringList{"US"},
		Params:  map[string]string{"utm": "x"},
	}}
	if ok, _ := Rule(&r, ctx, Options{}); ok {
		t.Fatal("asset with params flags should not match directly")
	}
	if ok, _ := RuleWithoutParams(&r, ctx, Options{}); !ok {
		t.Fatal("asset-inheritance retry should match with params stripped")
	}
}

func TestTimeWindow(t *testing.T) {
	at := func(h, m int) Options {
		return Options{Now: time.Date(2026, 3, 1, h, m, 0, 0, time.UTC)}
	}
	w := &bundle.TimeWindow{Start: 9, End: 17.5}

	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{"Inside", at(12, 0), true},
		{"AtStart", at(9, 0), true},
		{"AtEndExclusive", at(17, 30), false},
		{"Before", at(8, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := bundle.FlagSet{Time: w}
			got, _ := FlagSet(&flags, usCtx(), tt.opts)
			if got != tt.want {
				t.Errorf("time match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeWindowWrap(t *testing.T) {
	w := &bundle.TimeWindow{Start: 22, End: 2}
	flags := bundle.FlagSet{Time: w}

	late := Options{Now: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	early := Options{Now: time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)}
	noon := Options{Now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	// Default (no wrap): start > end matches nothing.
	for _, o := range []Options{late, early, noon} {
		if got, _ := FlagSet(&flags, usCtx(), o); got {
			t.Fatal("unwrapped start>end window should match nothing")
		}
	}

	// Wrap enabled.
	late.TimeWrap, early.TimeWrap, noon.TimeWrap = true, true, true
	if got, _ := FlagSet(&flags, usCtx(), late); !got {
		t.Error("23:00 should match wrapped 22-2")
	}
	if got, _ := FlagSet(&flags, usCtx(), early); !got {
		t.Error("01:00 should match wrapped 22-2")
	}
	if got, _ := FlagSet(&flags, usCtx(), noon); got {
		t.Error("12:00 should not match wrapped 22-2")
	}
}

func TestPrimaryLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US,en;q=0.9", "en"},
		{"de", "de"},
		{"PT-br,pt;q=0.8", "pt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := primaryLanguage(tt.in); got != tt.want {
			t.Errorf("primaryLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
