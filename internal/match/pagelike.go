package match

import (
	"path"
	"strings"
)

// knownAssetExts are extensions treated as assets; anything else (or no
// extension) is page-like.
var knownAssetExts = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".avif": true, ".svg": true, ".ico": true, ".bmp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp4": true, ".webm": true, ".mp3": true, ".ogg": true, ".wav": true,
	".pdf": true, ".zip": true, ".gz": true, ".wasm": true,
	".json": true, ".xml": true, ".txt": true,
}

// IsPageLike reports whether the path represents a page view: "/", a
// trailing slash, .html/.htm, or no known-asset extension.
func IsPageLike(p string) bool {
	if p == "/" || strings.HasSuffix(p, "/") {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || ext == ".html" || ext == ".htm" {
		return true
	}
	return !knownAssetExts[ext]
}

// IsAsset is the complement of IsPageLike.
func IsAsset(p string) bool {
	return !IsPageLike(p)
}
