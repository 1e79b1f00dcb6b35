package hosted

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steerhq/steer/internal/blob"
	"github.com/steerhq/steer/internal/macro"
)

func writeFiles(t *testing.T, files map[string]string) blob.Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return blob.NewDirStore(dir)
}

func TestResolveIndexAppending(t *testing.T) {
	s := &Server{Assets: writeFiles(t, map[string]string{
		"lp/index.html":       "<html>root</html>",
		"lp/offer/index.html": "<html>offer</html>",
	})}

	tests := []struct {
		name    string
		reqPath string
		want    string
	}{
		{"Root", "/", "root"},
		{"TrailingSlash", "/offer/", "offer"},
		{"NoExtension", "/offer", "offer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := s.Resolve(context.Background(), "lp/", tt.reqPath, "")
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			body, _ := io.ReadAll(f.Body)
			f.Body.Close()
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body = %q, want contains %q", body, tt.want)
			}
			if !f.Textual {
				t.Error("html should be textual")
			}
		})
	}
}

func TestResolveSpecificFileBase(t *testing.T) {
	s := &Server{Assets: writeFiles(t, map[string]string{
		"pages/one.html": "<html>one</html>",
	})}
	f, err := s.Resolve(context.Background(), "pages/one.html", "/anything", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	body, _ := io.ReadAll(f.Body)
	f.Body.Close()
	if !strings.Contains(string(body), "one") {
		t.Errorf("body = %q", body)
	}
}

func TestResolveAssetDirFallback(t *testing.T) {
	s := &Server{Assets: writeFiles(t, map[string]string{
		"lp/styles/main.css":  "body{}",
		"lp/assets/logo.webp": "img",
	})}

	f, err := s.Resolve(context.Background(), "lp", "/css/main.css", "")
	if err != nil {
		t.Fatalf("css fallback: %v", err)
	}
	f.Body.Close()
	if f.ContentType != "text/css; charset=utf-8" {
		t.Errorf("ContentType = %q", f.ContentType)
	}

	f, err = s.Resolve(context.Background(), "lp", "/logo.webp", "")
	if err != nil {
		t.Fatalf("flat assets fallback: %v", err)
	}
	f.Body.Close()
}

func TestResolveMiss(t *testing.T) {
	s := &Server{Assets: writeFiles(t, nil)}
	_, err := s.Resolve(context.Background(), "lp", "/nope.css", "")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type staticUsers map[string]string

func (m staticUsers) UserForCampaign(_ context.Context, id string) (string, error) {
	return m[id], nil
}

func TestResolveDriveFallback(t *testing.T) {
	s := &Server{
		Assets: writeFiles(t, nil),
		Drives: writeFiles(t, map[string]string{
			"u1/DRIVE_promo/spring/index.html": "<html>drive</html>",
		}),
		Users: staticUsers{"c1": "u1"},
	}
	f, err := s.Resolve(context.Background(), "promo/spring", "/", "c1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	body, _ := io.ReadAll(f.Body)
	f.Body.Close()
	if !strings.Contains(string(body), "drive") {
		t.Errorf("body = %q", body)
	}
}

func TestRenderExpandsMacros(t *testing.T) {
	s := &Server{Assets: writeFiles(t, map[string]string{
		"lp/index.html": "<html>{{campaign.id}}</html>",
	})}
	f, err := s.Resolve(context.Background(), "lp", "/", "")
	if err != nil {
		t.Fatal(err)
	}
	vals := macro.Values{}
	vals.Set("campaign.id", "c9")
	out, err := Render(f, vals)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "<html>c9</html>" {
		t.Errorf("out = %q", out)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"a/b.html", "text/html; charset=utf-8"},
		{"a/b.css", "text/css; charset=utf-8"},
		{"a/b.woff2", "font/woff2"},
		{"a/b.unknown", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeFor(tt.key); got != tt.want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
