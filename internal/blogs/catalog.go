// Package blogs keeps the cache of recent blog posts and works out which of
// them a channel has not seen yet.
package blogs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"readingsbot/internal/model"
)

// BlogDescription is one catalog entry. Several blogs may share a feed URL;
// their items are told apart by category.
type BlogDescription struct {
	Name    string   `json:"name" yaml:"name"`
	Author  string   `json:"author" yaml:"author"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
	FeedURL string   `json:"feed_url" yaml:"feed_url"`
}

func (b BlogDescription) Source() model.SourceID {
	return model.SourceID{Name: b.Name, Author: b.Author}
}

type Catalog struct {
	blogs []BlogDescription
	index map[string]int // lowercased name or alias -> position
}

func NewCatalog(list []BlogDescription) (*Catalog, error) {
	c := &Catalog{index: map[string]int{}}
	for _, b := range list {
		b.Name = strings.TrimSpace(b.Name)
		b.FeedURL = strings.TrimSpace(b.FeedURL)
		if b.Name == "" {
			return nil, errors.New("blog catalog: entry without name")
		}
		if b.FeedURL == "" {
			return nil, fmt.Errorf("blog catalog: %s: feed_url is required", b.Name)
		}
		pos := len(c.blogs)
		for _, k := range append([]string{b.Name}, b.Aliases...) {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if other, dup := c.index[k]; dup && other != pos {
				return nil, fmt.Errorf("blog catalog: %q used by both %s and %s", k, c.blogs[other].Name, b.Name)
			}
			c.index[k] = pos
		}
		c.blogs = append(c.blogs, b)
	}
	return c, nil
}

// Lookup finds a blog by name or alias, ignoring case.
func (c *Catalog) Lookup(nameOrAlias string) (BlogDescription, bool) {
	if c == nil {
		return BlogDescription{}, false
	}
	i, ok := c.index[strings.ToLower(strings.TrimSpace(nameOrAlias))]
	if !ok {
		return BlogDescription{}, false
	}
	return c.blogs[i], true
}

// List returns the catalog sorted by name.
func (c *Catalog) List() []BlogDescription {
	if c == nil {
		return nil
	}
	out := append([]BlogDescription(nil), c.blogs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByFeed groups the catalog by feed URL.
func (c *Catalog) ByFeed() map[string][]BlogDescription {
	out := map[string][]BlogDescription{}
	if c == nil {
		return out
	}
	for _, b := range c.blogs {
		out[b.FeedURL] = append(out[b.FeedURL], b)
	}
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.blogs)
}
