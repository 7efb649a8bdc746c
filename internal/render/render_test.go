package render

import (
	"strings"
	"testing"
	"time"

	"readingsbot/internal/lives"
	"readingsbot/internal/model"
)

func TestBlogItem(t *testing.T) {
	t.Parallel()
	p := BlogItem(model.ContentItem{
		Source:         model.SourceID{Name: "Glory to God", Author: "Fr. John"},
		ID:             model.NewItemID("On Prayer", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		AuthorImageURL: "https://img.example.org/john.png",
		ImageURL:       "https://img.example.org/prayer.jpg",
		Link:           "https://blog.example.org/prayer",
		Description:    "Pray without ceasing.",
	})
	if p.Title != "On Prayer" || p.Author != "Glory to God - Fr. John" || p.Footer != "© Fr. John" {
		t.Fatalf("post = %+v", p)
	}
	if p.URL != "https://blog.example.org/prayer" || p.AuthorIcon == "" || p.ImageURL == "" {
		t.Fatalf("links = %+v", p)
	}
}

func TestCommemorationExcerpt(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("word ", 100)
	p := Commemoration(lives.Commemoration{Title: " St. Nicholas ", Link: "https://oca.example.org/n", Text: "<p>" + long + "</p>"})
	if p.Title != "St. Nicholas" {
		t.Fatalf("title = %q", p.Title)
	}
	if !strings.HasSuffix(p.Body, "word… [Read more](https://oca.example.org/n)") {
		t.Fatalf("body = %q", p.Body)
	}
	if !strings.Contains(p.Footer, "OCA.org") {
		t.Fatalf("footer = %q", p.Footer)
	}

	short := Commemoration(lives.Commemoration{Title: "x", Text: "<p>Short life.</p>"})
	if short.Body != "Short life." {
		t.Fatalf("short body = %q", short.Body)
	}
}

func TestLivesOnePostPerCommemoration(t *testing.T) {
	t.Parallel()
	posts := Lives(lives.Day{Commemorations: []lives.Commemoration{{Title: "a"}, {Title: "b"}}})
	if len(posts) != 2 || posts[1].Title != "b" {
		t.Fatalf("posts = %+v", posts)
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()
	p := Quote(model.ImageQuote{ImageLocation: "https://img.example.org/q.png"})
	if p.Title != "Image Quote" || p.ImageURL != "https://img.example.org/q.png" {
		t.Fatalf("post = %+v", p)
	}
}
