package bundle

import (
	"context"
	"reflect"
	"testing"
)

type mapKV map[string]string

func (m mapKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func TestCandidateKeys(t *testing.T) {
	tests := []struct {
		name string
		host string
		path string
		want []string
	}{
		{
			name: "Root",
			host: "shop.example",
			path: "/",
			want: []string{"shop.example/", "shop.example"},
		},
		{
			name: "SingleSegment",
			host: "shop.example",
			path: "/products",
			want: []string{
				"shop.example/products",
				"shop.example/products/",
				"shop.example/",
			},
		},
		{
			name: "TrailingSlash",
			host: "shop.example",
			path: "/products/",
			want: []string{
				"shop.example/products/",
				"shop.example/products",
				"shop.example/",
			},
		},
		{
			name: "Nested",
			host: "shop.example",
			path: "/products/item/sub",
			want: []string{
				"shop.example/products/item/sub",
				"shop.example/products/item/sub/",
				"shop.example/products/item",
				"shop.example/products/item/",
				"shop.example/products",
				"shop.example/products/",
				"shop.example/",
			},
		},
		{
			name: "HostUppercased",
			host: "Shop.Example",
			path: "/",
			want: []string{"shop.example/", "shop.example"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CandidateKeys(tt.host, tt.path)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CandidateKeys(%q, %q) =\n  %v\nwant\n  %v", tt.host, tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveLongestPrefix(t *testing.T) {
	kv := mapKV{
		"shop.example/":              `{"id":"root"}`,
		"shop.example/products/item": `{"id":"deep"}`,
	}
	r := NewResolver(kv, 16)

	got, err := r.Resolve(context.Background(), "shop.example", "/products/item/sub")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || got.Bundle.ID != "deep" {
		t.Fatalf("Resolve = %+v, want deep bundle", got)
	}

	got, err = r.Resolve(context.Background(), "shop.example", "/other")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || got.Bundle.ID != "root" {
		t.Fatalf("Resolve = %+v, want root bundle", got)
	}
}

func TestResolveBareHostOnlyAtRoot(t *testing.T) {
	kv := mapKV{"shop.example": `{"id":"bare"}`}
	r := NewResolver(kv, 16)

	got, err := r.Resolve(context.Background(), "shop.example", "/products/item")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("non-root path matched bare host key: %+v", got)
	}

	got, err = r.Resolve(context.Background(), "shop.example", "/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got == nil || got.Bundle.ID != "bare" {
		t.Fatalf("root path should match bare host key, got %+v", got)
	}
}

func TestResolveSlashVariants(t *testing.T) {
	kv := mapKV{"shop.example/lp": `{"id":"lp"}`}
	r := NewResolver(kv, 16)

	for _, path := range []string{"/lp", "/lp/"} {
		got, err := r.Resolve(context.Background(), "shop.example", path)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", path, err)
		}
		if got == nil || got.Bundle.ID != "lp" {
			t.Fatalf("Resolve(%q) = %+v, want lp", path, got)
		}
	}
}

func TestResolveMissIsNotError(t *testing.T) {
	r := NewResolver(mapKV{}, 16)
	got, err := r.Resolve(context.Background(), "shop.example", "/x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestCollapseDefaults(t *testing.T) {
	b := &Bundle{DefaultFolder: "safe/", DefaultFolderMode: ModeRedirect}
	folder, mode := b.CollapseDefaults()
	if folder != "safe/" || mode != ModeRedirect {
		t.Fatalf("CollapseDefaults = %q,%q", folder, mode)
	}

	b = &Bundle{DefaultFolder: "safe/"}
	if _, mode := b.CollapseDefaults(); mode != ModeHosted {
		t.Fatalf("mode should default to hosted, got %q", mode)
	}

	b = &Bundle{DefaultDestinations: []WeightedLP{{Folder: "a/", Mode: ModeProxy, Weight: 1}}}
	folder, mode = b.CollapseDefaults()
	if folder != "a/" || mode != ModeProxy {
		t.Fatalf("CollapseDefaults = %q,%q, want a/,proxy", folder, mode)
	}

	b = &Bundle{DefaultOffers: []WeightedOffer{{URL: "https://off.example/", Weight: 1}}}
	folder, mode = b.CollapseDefaults()
	if folder != "https://off.example/" || mode != ModeRedirect {
		t.Fatalf("CollapseDefaults = %q,%q, want offer redirect", folder, mode)
	}
}
