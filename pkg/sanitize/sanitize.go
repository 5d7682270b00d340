// Package sanitize reduces untrusted request text to safe, normalized values.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	nonKeyChars  = regexp.MustCompile(`[^a-z0-9_\-]`)
	nonClassChar = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

	cssToken = `(?:-?[0-9]*\.?[0-9]+(?:px|em|rem|%|vh|vw|vmin|vmax|pt|pc|in|cm|mm|ex|ch)?` +
		`|auto|inherit|initial|unset|none|normal` +
		`|#[a-fA-F0-9]{3,8}` +
		`|rgba?\([0-9,\s\.%]+\))`
	cssValue = regexp.MustCompile(`(?i)^` + cssToken + `(?:\s+` + cssToken + `)*$`)
)

// Text strips markup, drops invalid UTF-8 and control characters, collapses
// whitespace and trims the result.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")
	if strings.ContainsAny(s, "<>") {
		s = stripTags(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// stripTags keeps only the text nodes of s. Script and style bodies are
// dropped entirely.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if !skip {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			skip = string(name) == "script" || string(name) == "style"
			b.WriteByte(' ')
		case html.EndTagToken, html.SelfClosingTagToken:
			skip = false
			b.WriteByte(' ')
		}
	}
}

// Key lowercases s and keeps only [a-z0-9_-].
func Key(s string) string {
	return nonKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// Slug folds accents, lowercases and joins alphanumeric runs with hyphens.
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = nonSlugChars.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(folded, "-")
}

// CSSValue reports whether s is an allow-listed CSS value: lengths, keywords,
// hex colors and rgb()/rgba() colors, optionally space separated.
func CSSValue(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && len(s) <= 100 && cssValue.MatchString(s)
}

// CSSClass reduces each space separated class name to [A-Za-z0-9_-]. Names
// starting with a digit are prefixed with "class-".
func CSSClass(s string) string {
	var out []string
	for _, f := range strings.Fields(s) {
		f = nonClassChar.ReplaceAllString(f, "")
		if f == "" {
			continue
		}
		if f[0] >= '0' && f[0] <= '9' {
			f = "class-" + f
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
