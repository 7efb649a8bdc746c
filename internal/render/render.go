// Package render turns cached content into platform-neutral posts.
package render

import (
	"strings"

	"readingsbot/internal/lives"
	"readingsbot/internal/model"
	kit "readingsbot/internal/transport"
	"readingsbot/pkg/tgui"
)

const (
	// LivesExcerpt is how much of a commemoration's text a post carries.
	LivesExcerpt = 256

	livesCopyright = "© The Orthodox Church in America (OCA.org)."
)

// BlogItem renders one blog post.
func BlogItem(it model.ContentItem) kit.Post {
	author := it.Source.Name
	if it.Source.Author != "" {
		author += " - " + it.Source.Author
	}
	p := kit.Post{
		Title:      it.ID.Title,
		URL:        it.Link,
		Author:     author,
		AuthorIcon: it.AuthorImageURL,
		Body:       it.Description,
		ImageURL:   it.ImageURL,
	}
	if it.Source.Author != "" {
		p.Footer = "© " + it.Source.Author
	}
	return p
}

func BlogItems(items []model.ContentItem) []kit.Post {
	out := make([]kit.Post, 0, len(items))
	for _, it := range items {
		out = append(out, BlogItem(it))
	}
	return out
}

// Lives renders one post per commemoration of the day.
func Lives(d lives.Day) []kit.Post {
	out := make([]kit.Post, 0, len(d.Commemorations))
	for _, c := range d.Commemorations {
		out = append(out, Commemoration(c))
	}
	return out
}

func Commemoration(c lives.Commemoration) kit.Post {
	text, cut := tgui.Excerpt(c.PlainText(), LivesExcerpt)
	if cut {
		if c.Link != "" {
			text += " [Read more](" + c.Link + ")"
		}
	}
	return kit.Post{
		Title:    strings.TrimSpace(c.Title),
		URL:      c.Link,
		Body:     text,
		ImageURL: c.Image,
		Footer:   livesCopyright,
	}
}

// Quote renders an image quote: just the image with its description.
func Quote(q model.ImageQuote) kit.Post {
	return kit.Post{Title: q.Describe(), ImageURL: q.ImageLocation}
}
