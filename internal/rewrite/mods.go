package rewrite

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/steerhq/steer/internal/bundle"
)

// DOM edit actions.
const (
	ActionSetText      = "setText"
	ActionSetHTML      = "setHtml"
	ActionSetCSS       = "setCss"
	ActionSetAttribute = "setAttribute"
	ActionRemove       = "remove"
)

// compiledMod is a modification with its selector parsed.
type compiledMod struct {
	mod bundle.Modification
	sel selector
}

// selector supports the simple forms the edit language uses:
// tag, #id, .class, tag.class, tag#id, [attr=value], and combinations.
type selector struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
}

func compileMods(mods []bundle.Modification) []compiledMod {
	out := make([]compiledMod, 0, len(mods))
	for _, m := range mods {
		out = append(out, compiledMod{mod: m, sel: parseSelector(m.Selector)})
	}
	return out
}

func parseSelector(s string) selector {
	var sel selector
	s = strings.TrimSpace(s)

	// [attr=value] suffix.
	if i := strings.IndexByte(s, '['); i >= 0 {
		attr := strings.TrimSuffix(s[i+1:], "]")
		if k, v, ok := strings.Cut(attr, "="); ok {
			sel.attrKey = strings.TrimSpace(k)
			sel.attrVal = strings.Trim(strings.TrimSpace(v), `"'`)
		} else {
			sel.attrKey = strings.TrimSpace(attr)
		}
		s = s[:i]
	}

	for s != "" {
		switch s[0] {
		case '#':
			rest := s[1:]
			end := nextDelim(rest)
			sel.id = rest[:end]
			s = rest[end:]
		case '.':
			rest := s[1:]
			end := nextDelim(rest)
			sel.classes = append(sel.classes, rest[:end])
			s = rest[end:]
		default:
			end := nextDelim(s)
			sel.tag = strings.ToLower(s[:end])
			s = s[end:]
		}
	}
	return sel
}

func nextDelim(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '#' {
			return i
		}
	}
	return len(s)
}

func (sel selector) matches(tok *html.Token) bool {
	if sel.tag != "" && sel.tag != tok.Data {
		return false
	}
	if sel.id != "" && attrValue(tok, "id") != sel.id {
		return false
	}
	for _, class := range sel.classes {
		if !hasClass(attrValue(tok, "class"), class) {
			return false
		}
	}
	if sel.attrKey != "" {
		v := attrValue(tok, sel.attrKey)
		if sel.attrVal != "" {
			if v != sel.attrVal {
				return false
			}
		} else if v == "" && !hasAttr(tok, sel.attrKey) {
			return false
		}
	}
	return sel.tag != "" || sel.id != "" || len(sel.classes) > 0 || sel.attrKey != ""
}

func attrValue(tok *html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(tok *html.Token, key string) bool {
	for _, a := range tok.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}

func matchMods(mods []compiledMod, tok *html.Token) *compiledMod {
	for i := range mods {
		if mods[i].sel.matches(tok) {
			return &mods[i]
		}
	}
	return nil
}

// applyMod realizes one DOM edit at the matched start tag. Returns
// handled=true when the token (and possibly its subtree) was fully
// consumed and written.
func applyMod(z *html.Tokenizer, w io.Writer, tok *html.Token, tt html.TokenType, m *compiledMod, opts HTMLOptions) (bool, error) {
	switch m.mod.Action {
	case ActionRemove:
		if tt == html.StartTagToken {
			if err := skipSubtree(z, tok.Data); err != nil {
				return false, err
			}
		}
		return true, nil

	case ActionSetText, ActionSetHTML:
		content := m.mod.Value.Text
		if m.mod.Action == ActionSetText {
			content = html.EscapeString(content)
		}
		rewriteToken(tok, opts.RewriteURL)
		if _, err := io.WriteString(w, tok.String()); err != nil {
			return false, err
		}
		if tt == html.SelfClosingTagToken || voidElements[tok.Data] {
			return true, nil
		}
		if _, err := io.WriteString(w, content); err != nil {
			return false, err
		}
		if err := skipSubtree(z, tok.Data); err != nil {
			return false, err
		}
		if _, err := io.WriteString(w, "</"+tok.Data+">"); err != nil {
			return false, err
		}
		return true, nil

	case ActionSetCSS:
		mergeStyle(tok, m.mod.Value.Text)
		rewriteToken(tok, opts.RewriteURL)
		if _, err := io.WriteString(w, tok.String()); err != nil {
			return false, err
		}
		return true, nil

	case ActionSetAttribute:
		setAttr(tok, m.mod.Value.Name, m.mod.Value.Attr)
		rewriteToken(tok, opts.RewriteURL)
		if _, err := io.WriteString(w, tok.String()); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// mergeStyle appends declarations to any existing style attribute.
func mergeStyle(tok *html.Token, css string) {
	for i := range tok.Attr {
		if tok.Attr[i].Key == "style" {
			existing := strings.TrimSpace(tok.Attr[i].Val)
			if existing != "" && !strings.HasSuffix(existing, ";") {
				existing += ";"
			}
			tok.Attr[i].Val = existing + css
			return
		}
	}
	tok.Attr = append(tok.Attr, html.Attribute{Key: "style", Val: css})
}

func setAttr(tok *html.Token, key, val string) {
	if key == "" {
		return
	}
	for i := range tok.Attr {
		if tok.Attr[i].Key == key {
			tok.Attr[i].Val = val
			return
		}
	}
	tok.Attr = append(tok.Attr, html.Attribute{Key: key, Val: val})
}
