// Package normalize cleans raw page content before embedding.
package normalize

import (
	"strings"
	"unicode"
)

// Entity replacements. Angle brackets decode to spaces rather than "<"/">"
// so that decoded text can never re-form a tag; that keeps Text idempotent.
var entityReplacer = strings.NewReplacer(
	"&lt;", " ",
	"&gt;", " ",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
	"&amp;", "&",
)

// Text strips markup and collapses whitespace so the embedding sees prose
// rather than page structure. It is deterministic and idempotent, and never
// fails: malformed markup degrades to best-effort cleaned text.
func Text(raw string) string {
	if raw == "" {
		return ""
	}
	return collapseWhitespace(decodeEntities(stripTags(raw)))
}

// decodeEntities applies entity replacements until the text stops changing,
// so nested encodings ("&amp;lt;") fully unwind and a second Text call is a
// no-op. The iteration cap guards against pathological input.
func decodeEntities(s string) string {
	for i := 0; i < 8; i++ {
		next := entityReplacer.Replace(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

// stripTags removes <...> spans, dropping script and style bodies entirely.
// A "<" only starts a tag when followed by a letter, "/" or "!", so prose
// like "3 < 5" survives. An unterminated tag swallows the remainder, which
// matches the best-effort contract for truncated page captures.
func stripTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '<' || !startsTag(s[i:]) {
			b.WriteByte(s[i])
			i++
			continue
		}

		if name := tagName(s[i:]); name == "script" || name == "style" {
			end := closingTag(s[i:], name)
			if end < 0 {
				break
			}
			b.WriteByte(' ')
			i += end
			continue
		}

		close := strings.IndexByte(s[i:], '>')
		if close < 0 {
			break
		}
		// Tags act as word boundaries: "<p>a</p><p>b</p>" must not fuse a and b.
		b.WriteByte(' ')
		i += close + 1
	}

	return b.String()
}

func startsTag(s string) bool {
	if len(s) < 2 {
		return false
	}
	return isAlpha(s[1]) || s[1] == '/' || s[1] == '!'
}

// tagName returns the lowercase element name at the start of a "<..." span.
func tagName(s string) string {
	i := 1
	for i < len(s) && (isAlpha(s[i]) || s[i] >= '0' && s[i] <= '9') {
		i++
	}
	return strings.ToLower(s[1:i])
}

// closingTag returns the offset just past "</name...>", or -1.
func closingTag(s, name string) int {
	idx := strings.Index(strings.ToLower(s), "</"+name)
	if idx < 0 {
		return -1
	}
	close := strings.IndexByte(s[idx:], '>')
	if close < 0 {
		return -1
	}
	return idx + close + 1
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
