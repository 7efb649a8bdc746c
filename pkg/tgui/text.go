package tgui

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Excerpt shortens s to at most n runes plus an ellipsis, cutting at the last
// word boundary when there is one in the second half of the window. It reports
// whether s was shortened.
func Excerpt(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	cut, count, space := 0, 0, -1
	for i, r := range s {
		if count == n {
			cut = i
			break
		}
		if unicode.IsSpace(r) && count >= n/2 {
			space = i
		}
		count++
	}
	if space > 0 {
		cut = space
	}
	return strings.TrimRightFunc(s[:cut], func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	}) + "…", true
}
