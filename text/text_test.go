package text

import (
	"bytes"
	"regexp"
	"testing"
)

func TestStripANSI(t *testing.T) {
	in := "\x1b[32mHealer's Ward\x1b[0m"
	if got := StripANSI(in); got != "Healer's Ward" {
		t.Fatalf("StripANSI(%q) = %q", in, got)
	}
}

func TestSimplify(t *testing.T) {
	in := "  A  Room\r\n  Name\t"
	if got := Simplify(in); got != "A Room Name" {
		t.Fatalf("Simplify(%q) = %q", in, got)
	}
}

func TestXMLEntityRoundTrip(t *testing.T) {
	in := "<room> & cart"
	escaped := EscapeXML(in)
	if escaped != "&lt;room&gt; &amp; cart" {
		t.Fatalf("EscapeXML(%q) = %q", in, escaped)
	}
	if got := UnescapeXML(escaped); got != in {
		t.Fatalf("UnescapeXML(%q) = %q", escaped, got)
	}
}

func TestEscapeIAC(t *testing.T) {
	in := []byte{'a', 0xFF, 'b'}
	want := []byte{'a', 0xFF, 0xFF, 'b'}
	if got := EscapeIAC(in); !bytes.Equal(got, want) {
		t.Fatalf("EscapeIAC(%v) = %v", in, got)
	}
}

func TestDecodeLatin1Fallback(t *testing.T) {
	// 0xE9 is not valid UTF-8 on its own; latin-1 says e-acute.
	if got := Decode([]byte{'c', 'a', 'f', 0xE9}); got != "café" {
		t.Fatalf("Decode latin-1 fallback = %q", got)
	}
	if got := Decode([]byte("plain")); got != "plain" {
		t.Fatalf("Decode utf-8 passthrough = %q", got)
	}
}

func TestRegexFuzzyMatchesAbbreviations(t *testing.T) {
	re := regexp.MustCompile("^(?:" + RegexFuzzy("north") + ")$")
	for _, s := range []string{"n", "no", "nor", "nort", "north"} {
		if !re.MatchString(s) {
			t.Fatalf("%q did not match the fuzzy pattern for north", s)
		}
	}
	if re.MatchString("ne") {
		t.Fatal("ne matched the fuzzy pattern for north")
	}
}
