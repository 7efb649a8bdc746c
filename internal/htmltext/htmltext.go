// Package htmltext turns feed and page HTML into chat-friendly plain text.
package htmltext

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text renders src as plain text. Links become [text](href) and block
// elements end a line. Blank lines are collapsed.
func Text(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var b strings.Builder
	write(&b, doc.Find("body").Contents())
	return tidy(b.String())
}

func write(b *strings.Builder, sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
		case "a":
			text := strings.TrimSpace(s.Text())
			href, _ := s.Attr("href")
			switch {
			case href == "":
				b.WriteString(text)
			case text == "":
				b.WriteString(href)
			default:
				b.WriteString("[" + text + "](" + href + ")")
			}
		case "br":
			b.WriteString("\n")
		case "p", "div", "li", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6":
			write(b, s.Contents())
			b.WriteString("\n")
		case "script", "style", "#comment":
		default:
			write(b, s.Contents())
		}
	})
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// OGImage returns the og:image URL of an HTML page, or "".
func OGImage(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	v, _ := doc.Find("meta[property='og:image']").First().Attr("content")
	return strings.TrimSpace(v)
}
