// Package model holds the data shared by the scheduler, the content caches and the runner.
package model

import (
	"strings"
	"time"
)

// SourceID identifies one content source (a blog) independent of where its feed lives.
type SourceID struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

// Key is the stable map key for the source in cache snapshots.
func (s SourceID) Key() string { return s.Name }

func (s SourceID) IsZero() bool { return s.Name == "" && s.Author == "" }

// ItemID identifies one item of a source. Instant is kept in UTC.
type ItemID struct {
	Title   string    `json:"title"`
	Instant time.Time `json:"instant"`
}

func NewItemID(title string, at time.Time) ItemID {
	return ItemID{Title: strings.TrimSpace(title), Instant: at.UTC()}
}

func (i ItemID) Equal(o ItemID) bool {
	return i.Title == o.Title && i.Instant.Equal(o.Instant)
}

// ContentItem is one fetched item. Treat as immutable once built.
type ContentItem struct {
	Source         SourceID `json:"source"`
	ID             ItemID   `json:"id"`
	AuthorImageURL string   `json:"authorImageUrl,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	Link           string   `json:"link,omitempty"`
	Description    string   `json:"description,omitempty"`
}

// Pointer is a channel's cursor into one source: the newest item already delivered.
// Last is nil until something has been delivered.
type Pointer struct {
	Source SourceID `json:"source"`
	Last   *ItemID  `json:"last,omitempty"`
}

func (p Pointer) HasLast() bool { return p.Last != nil }
