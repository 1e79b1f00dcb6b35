package bundle

import (
	"context"
	"fmt"
	"strings"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/steerhq/steer/internal/pick"
)

// KV is the string-key JSON-value store bundles live in.
type KV interface {
	// Get returns the raw value for key, with found=false on miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
}

// Resolver looks up rule bundles by longest-matching {host}{path} prefix.
// Decoded bundles are cached by content hash so hot keys skip re-decoding.
type Resolver struct {
	kv    KV
	cache otter.Cache[uint64, *Bundle]
}

// NewResolver creates a resolver with a decode cache of maxEntries bundles.
func NewResolver(kv KV, maxEntries int) *Resolver {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := otter.MustBuilder[uint64, *Bundle](maxEntries).
		Cost(func(_ uint64, _ *Bundle) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("bundle: failed to create decode cache: " + err.Error())
	}
	return &Resolver{kv: kv, cache: cache}
}

// Resolved pairs a bundle with the key it was found under.
type Resolved struct {
	Key    string
	Bundle *Bundle
}

// Resolve walks candidate keys from the full request path up to the root
// and returns the first (longest) match. A nil result with nil error means
// no rule exists for the host, which is not an error.
func (r *Resolver) Resolve(ctx context.Context, host, path string) (*Resolved, error) {
	for _, key := range CandidateKeys(host, path) {
		raw, found, err := r.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("bundle: kv get %q: %w", key, err)
		}
		if !found {
			continue
		}
		b, err := r.decode(raw)
		if err != nil {
			return nil, err
		}
		return &Resolved{Key: key, Bundle: b}, nil
	}
	return nil, nil
}

func (r *Resolver) decode(raw []byte) (*Bundle, error) {
	h := xxh3.Hash(raw)
	if b, ok := r.cache.Get(h); ok {
		return b, nil
	}
	b, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	r.cache.Set(h, b)
	return b, nil
}

// CandidateKeys produces the lookup order for host and path:
//
//  1. The exact {host}{path} key, plus its trailing-slash variant (the
//     variant with the slash stripped when path ends in "/", the variant
//     with a slash appended otherwise).
//  2. The same for each ancestor path, stripping one segment at a time.
//  3. When the request path is exactly "/", the bare host key last.
//
// Storing rules at both host/ and host/a/b makes host/a/b/c match the
// deeper key first.
func CandidateKeys(host, path string) []string {
	host = strings.ToLower(host)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var keys []string
	cur := path
	for {
		keys = append(keys, host+cur)
		if cur != "/" {
			if strings.HasSuffix(cur, "/") {
				keys = append(keys, host+strings.TrimSuffix(cur, "/"))
			} else {
				keys = append(keys, host+cur+"/")
			}
		}
		if cur == "/" {
			break
		}
		cur = parentPath(cur)
	}

	if path == "/" {
		keys = append(keys, host)
	}
	return keys
}

// parentPath strips the last path segment: /a/b/c -> /a/b, /a/b/ -> /a/b,
// /a -> /.
func parentPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// CollapseDefaults resolves a bundle's defaultDestinations/defaultOffers
// arrays (when present) to a single folder+mode by weighted sampling.
// Returns the bundle's plain defaults otherwise.
func (b *Bundle) CollapseDefaults() (folder, mode string) {
	if len(b.DefaultDestinations) > 0 {
		weights := make([]int, len(b.DefaultDestinations))
		for i, d := range b.DefaultDestinations {
			weights[i] = d.Weight
		}
		d := b.DefaultDestinations[pick.IndexDefault(weights, 1)]
		mode := d.Mode
		if mode == "" {
			mode = ModeHosted
		}
		return d.Folder, mode
	}
	if len(b.DefaultOffers) > 0 {
		weights := make([]int, len(b.DefaultOffers))
		for i, o := range b.DefaultOffers {
			weights[i] = o.Weight
		}
		o := b.DefaultOffers[pick.IndexDefault(weights, 1)]
		return o.URL, ModeRedirect
	}

	mode = b.DefaultFolderMode
	if mode == "" {
		mode = ModeHosted
	}
	return b.DefaultFolder, mode
}
