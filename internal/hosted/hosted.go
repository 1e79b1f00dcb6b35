// Package hosted serves landing pages from the blob store with
// extension-aware content typing, index resolution, asset-directory
// fallbacks, and per-user drive lookup.
package hosted

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/steerhq/steer/internal/blob"
	"github.com/steerhq/steer/internal/macro"
	"github.com/steerhq/steer/internal/match"
)

// assetDirFallbacks maps an asset extension class to the conventional
// directories landing-page kits store them under, tried in order after
// the direct keys miss.
var assetDirFallbacks = map[string][]string{
	".css": {"css", "styles"},
	".js":  {"js", "scripts"},
	".png": {"img", "images"},
	".jpg": {"img", "images"},
	".gif": {"img", "images"},
	".svg": {"img", "images"},
}

// flatDirFallbacks are tried for any asset after the class-specific dirs.
var flatDirFallbacks = []string{"assets", "static", "files", "_files"}

// UserLookup resolves the owning user of a campaign for drive-namespace
// fallback. Implemented by the control DB repo.
type UserLookup interface {
	UserForCampaign(ctx context.Context, campaignID string) (string, error)
}

// Server resolves and serves hosted files.
type Server struct {
	Assets blob.Store
	Drives blob.Store // may be nil; disables the drive fallback
	Users  UserLookup // may be nil; disables the drive fallback
}

// ErrNotFound reports that no candidate key resolved.
var ErrNotFound = errors.New("hosted: not found")

// File is a resolved hosted file ready for delivery.
type File struct {
	Body        io.ReadCloser
	ContentType string
	// Textual marks HTML/CSS content that receives macro expansion.
	Textual bool
}

// Resolve locates the file for a folder base and request path, walking
// the candidate ladder: exact file base, index-appended path, original
// path, asset-directory fallbacks, then the per-user drive namespace.
func (s *Server) Resolve(ctx context.Context, folder, reqPath, campaignID string) (*File, error) {
	folder = strings.Trim(folder, "/")
	reqPath = strings.TrimPrefix(reqPath, "/")

	withIndex := indexedPath(reqPath)
	for _, key := range candidateKeys(folder, reqPath, withIndex) {
		f, err := s.getFrom(ctx, s.Assets, key)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, blob.ErrNotFound) {
			return nil, err
		}
	}

	if f, err := s.resolveDrive(ctx, folder, withIndex, campaignID); err == nil {
		return f, nil
	} else if !errors.Is(err, blob.ErrNotFound) && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return nil, ErrNotFound
}

// indexedPath appends index.html to page-like request paths.
func indexedPath(reqPath string) string {
	if !match.IsPageLike("/" + reqPath) {
		return reqPath
	}
	p := strings.TrimSuffix(reqPath, "/")
	if p == "" {
		return "index.html"
	}
	return p + "/index.html"
}

// candidateKeys builds the asset-namespace lookup ladder.
func candidateKeys(folder, reqPath, withIndex string) []string {
	var keys []string

	// A base pointing at a specific file serves that file.
	if hasKnownExtension(folder) {
		return []string{folder}
	}

	keys = append(keys, joinKey(folder, withIndex))
	if reqPath != withIndex {
		keys = append(keys, joinKey(folder, reqPath))
	}

	// Generic asset-directory fallbacks use the bare filename.
	if match.IsAsset("/" + reqPath) {
		base := path.Base(reqPath)
		ext := strings.ToLower(path.Ext(reqPath))
		for _, dir := range assetDirFallbacks[ext] {
			keys = append(keys, joinKey(folder, dir+"/"+base))
		}
		for _, dir := range flatDirFallbacks {
			keys = append(keys, joinKey(folder, dir+"/"+base))
		}
	}
	return keys
}

func joinKey(folder, rest string) string {
	if folder == "" {
		return rest
	}
	if rest == "" {
		return folder
	}
	return folder + "/" + rest
}

// resolveDrive tries the secondary per-user namespace keyed by
// {userId}/DRIVE_{driveName}/{subpath}, where the drive name is the first
// segment of the folder.
func (s *Server) resolveDrive(ctx context.Context, folder, reqPath, campaignID string) (*File, error) {
	if s.Drives == nil || s.Users == nil || campaignID == "" {
		return nil, ErrNotFound
	}
	userID, err := s.Users.UserForCampaign(ctx, campaignID)
	if err != nil || userID == "" {
		return nil, ErrNotFound
	}

	drive, sub, _ := strings.Cut(folder, "/")
	if drive == "" {
		return nil, ErrNotFound
	}
	key := userID + "/DRIVE_" + drive + "/" + joinKey(sub, reqPath)
	return s.getFrom(ctx, s.Drives, key)
}

func (s *Server) getFrom(ctx context.Context, store blob.Store, key string) (*File, error) {
	obj, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ct := obj.ContentType
	if ct == "" {
		ct = ContentTypeFor(key)
	}
	return &File{
		Body:        obj.Body,
		ContentType: ct,
		Textual:     isTextual(ct),
	}, nil
}

// Render reads a resolved file, expanding macros when it is textual.
// The body is always closed.
func Render(f *File, vals macro.Values) ([]byte, error) {
	defer f.Body.Close()
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return nil, fmt.Errorf("hosted: read body: %w", err)
	}
	if f.Textual && bytes.Contains(data, []byte("{{")) {
		data = []byte(macro.Expand(string(data), vals))
	}
	return data, nil
}

// NotFoundPage is the body served when every candidate misses.
const NotFoundPage = `<!doctype html>
<html><head><title>Not Found</title></head>
<body><h1>404</h1><p>The page you are looking for does not exist.</p></body></html>`
