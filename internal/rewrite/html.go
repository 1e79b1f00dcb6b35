// Package rewrite implements forward-only HTML and CSS transformation:
// URL absolutization for proxied pages, selector-based DOM edits, and
// script injection. The tokenizer never buffers more than one token, so
// responses stream.
package rewrite

import (
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/steerhq/steer/internal/bundle"
)

// tagURLAttrs maps each rewritten tag to its link-carrying attributes.
var tagURLAttrs = map[string][]string{
	"a":      {"href"},
	"link":   {"href"},
	"iframe": {"src"},
	"form":   {"action"},
	"embed":  {"src"},
	"img":    {"src", "srcset"},
	"script": {"src"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"source": {"src", "srcset"},
}

// voidElements never carry an end tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// HTMLOptions controls one rewriting pass.
type HTMLOptions struct {
	// RewriteURL transforms every link-carrying attribute and CSS url(...)
	// reference. Nil disables URL rewriting.
	RewriteURL func(string) string
	// Mods are selector-based DOM edits applied in order of appearance.
	Mods []bundle.Modification
	// InjectBeforeBodyEnd is raw HTML emitted immediately before </body>.
	InjectBeforeBodyEnd string
}

// HTML streams r through the transformation into w.
func HTML(r io.Reader, w io.Writer, opts HTMLOptions) error {
	mods := compileMods(opts.Mods)
	z := html.NewTokenizer(r)
	injected := false
	inStyle := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				// Pages without </body> still get the injection.
				if opts.InjectBeforeBodyEnd != "" && !injected {
					if _, err := io.WriteString(w, opts.InjectBeforeBodyEnd); err != nil {
						return err
					}
				}
				return nil
			}
			return fmt.Errorf("rewrite: tokenize: %w", z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			name := tok.Data
			inStyle = name == "style" && tt == html.StartTagToken

			if m := matchMods(mods, &tok); m != nil {
				handled, err := applyMod(z, w, &tok, tt, m, opts)
				if err != nil {
					return err
				}
				if handled {
					continue
				}
			}

			if rewriteToken(&tok, opts.RewriteURL) {
				if _, err := io.WriteString(w, tok.String()); err != nil {
					return err
				}
			} else {
				if _, err := w.Write(z.Raw()); err != nil {
					return err
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "style" {
				inStyle = false
			}
			if tok.Data == "body" && opts.InjectBeforeBodyEnd != "" && !injected {
				if _, err := io.WriteString(w, opts.InjectBeforeBodyEnd); err != nil {
					return err
				}
				injected = true
			}
			if _, err := w.Write(z.Raw()); err != nil {
				return err
			}

		case html.TextToken:
			if inStyle && opts.RewriteURL != nil {
				if _, err := io.WriteString(w, CSS(string(z.Text()), opts.RewriteURL)); err != nil {
					return err
				}
			} else {
				if _, err := w.Write(z.Raw()); err != nil {
					return err
				}
			}

		default:
			if _, err := w.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}

// rewriteToken applies URL and style-attribute rewriting in place.
// Returns true when the token changed and must be re-serialized.
func rewriteToken(tok *html.Token, rewriteURL func(string) string) bool {
	if rewriteURL == nil {
		return false
	}
	attrs := tagURLAttrs[tok.Data]
	changed := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		for _, want := range attrs {
			if a.Key != want {
				continue
			}
			var next string
			if a.Key == "srcset" {
				next = Srcset(a.Val, rewriteURL)
			} else {
				next = rewriteURL(a.Val)
			}
			if next != a.Val {
				a.Val = next
				changed = true
			}
		}
		if a.Key == "style" {
			if next := CSS(a.Val, rewriteURL); next != a.Val {
				a.Val = next
				changed = true
			}
		}
	}
	return changed
}

// skipSubtree consumes tokens until the current element's end tag,
// tracking nesting of same-named tags.
func skipSubtree(z *html.Tokenizer, name string) error {
	if voidElements[name] {
		return nil
	}
	depth := 1
	for depth > 0 {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return nil
			}
			return fmt.Errorf("rewrite: tokenize: %w", z.Err())
		case html.StartTagToken:
			tag, _ := z.TagName()
			if string(tag) == name {
				depth++
			}
		case html.EndTagToken:
			tag, _ := z.TagName()
			if string(tag) == name {
				depth--
			}
		}
	}
	return nil
}
