// Package text holds small helpers for the byte streams the proxy shuffles
// around: whitespace normalization, the fixed XML entity set MUME uses, IAC
// escaping, and charset-tolerant decoding.
package text

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// StripANSI removes ANSI escape sequences. MUME colors prompts and combat
// lines; none of that may reach the room matcher.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// Simplify collapses runs of whitespace into single spaces and trims the ends.
func Simplify(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// MUME only ever escapes this fixed set; the streams are not real XML.
var (
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&apos;", "'", "&amp;", "&")
)

// EscapeXML escapes the fixed entity set in s.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeXML decodes the fixed entity set in s.
func UnescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// UnescapeXMLBytes decodes the fixed entity set in a byte stream.
func UnescapeXMLBytes(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("&lt;"), []byte("<"))
	data = bytes.ReplaceAll(data, []byte("&gt;"), []byte(">"))
	data = bytes.ReplaceAll(data, []byte("&quot;"), []byte(`"`))
	data = bytes.ReplaceAll(data, []byte("&#39;"), []byte("'"))
	data = bytes.ReplaceAll(data, []byte("&apos;"), []byte("'"))
	data = bytes.ReplaceAll(data, []byte("&amp;"), []byte("&"))
	return data
}

// EscapeIAC doubles 0xFF bytes so they survive a Telnet stream.
func EscapeIAC(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte{0xFF}, []byte{0xFF, 0xFF})
}

// Decode interprets server bytes as UTF-8, falling back to Latin-1 when the
// bytes are not valid UTF-8. MUME predates Unicode and still speaks Latin-1
// to clients that never negotiated a charset.
func Decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// RegexFuzzy turns a word into a pattern matching any prefix of it, so
// "north" matches "n", "no", "nor" and so on.
func RegexFuzzy(word string) string {
	if word == "" {
		return ""
	}
	runes := []rune(word)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 {
			b.WriteString("(")
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString(strings.Repeat(")?", len(runes)-1))
	return b.String()
}

// RegexFuzzyList is RegexFuzzy over several words, joined by alternation.
func RegexFuzzyList(words []string) string {
	parts := make([]string, len(words))
	for i, word := range words {
		parts[i] = RegexFuzzy(word)
	}
	return strings.Join(parts, "|")
}
