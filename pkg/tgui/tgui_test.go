package tgui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")
	parts := Split(s, 70)
	if len(parts) != 2 {
		t.Fatalf("parts = %d: %q", len(parts), parts)
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 70 {
			t.Fatalf("chunk too long: %d", utf8.RuneCountInString(p))
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Fatalf("chunk keeps boundary newline: %q", p)
		}
	}
	if strings.Join(parts, "\n") != s {
		t.Fatal("split lost content")
	}
}

func TestSplitAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 15) + `<a href="u">y</a>`
	parts := Split(s, 20)
	if parts[0] != strings.Repeat("x", 15) {
		t.Fatalf("first chunk = %q", parts[0])
	}
}

func TestSplitShort(t *testing.T) {
	t.Parallel()
	if got := Split("hi", 0); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("Split = %q", got)
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()
	if got := BoldLink("A & B", "https://x/?a=1&b=2"); got != `<b><a href="https://x/?a=1&amp;b=2">A &amp; B</a></b>` {
		t.Fatalf("BoldLink = %s", got)
	}
	if got := BoldLink("t", ""); got != "<b>t</b>" {
		t.Fatalf("BoldLink without url = %s", got)
	}
	if got := JoinH("\n", B("a"), "", I("b")); got != "<b>a</b>\n<i>b</i>" {
		t.Fatalf("JoinH = %s", got)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
		cut  bool
	}{
		{"short", 10, "short", false},
		{"héllo", 3, "hél…", true},
		{"Saint Nicholas, bishop of Myra", 18, "Saint Nicholas…", true},
		{"one two three", 9, "one two…", true},
		{"x", 0, "", true},
	}
	for _, tc := range cases {
		got, cut := Excerpt(tc.in, tc.n)
		if got != tc.want || cut != tc.cut {
			t.Fatalf("Excerpt(%q, %d) = %q, %v; want %q, %v", tc.in, tc.n, got, cut, tc.want, tc.cut)
		}
	}
}
