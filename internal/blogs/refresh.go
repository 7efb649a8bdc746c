package blogs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"readingsbot/internal/cache"
	"readingsbot/internal/htmltext"
	"readingsbot/internal/model"
	logx "readingsbot/pkg/logx"
)

// SnapshotFile is the name of the snapshot inside <data_dir>/cache/blogs.
const SnapshotFile = "latest_posts.json"

// Fetcher is the subset of fetch.Client the cache needs.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type Config struct {
	MaxCacheSize int
	// Zone is the reference zone LastUpdated is truncated in.
	Zone *time.Location
	// Dir holds the snapshot file; empty keeps the cache in memory only.
	Dir       string
	Clock     func() time.Time
	Log       logx.Logger
	OnRefresh func(name string, err error)
}

// Cache serves blog snapshots, refreshing them at most once an hour.
type Cache struct {
	*cache.Cache[Snapshot]
	catalog *Catalog
	ref     *refresher
}

func NewCache(cfg Config, catalog *Catalog, f Fetcher) *Cache {
	if cfg.MaxCacheSize <= 0 {
		cfg.MaxCacheSize = 10
	}
	if cfg.Zone == nil {
		cfg.Zone = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &refresher{
		catalog: catalog,
		fetch:   f,
		max:     cfg.MaxCacheSize,
		zone:    cfg.Zone,
		clock:   cfg.Clock,
		log:     log.With(logx.String("comp", "blogs")),
		parser:  gofeed.NewParser(),
	}
	path := ""
	if cfg.Dir != "" {
		path = filepath.Join(cfg.Dir, SnapshotFile)
	}
	c := cache.New(cache.Options[Snapshot]{
		Name:      "blogs",
		Path:      path,
		Refresh:   r.refresh,
		Stale:     func(now time.Time, s Snapshot) bool { return s.Stale(now) },
		Clock:     cfg.Clock,
		Log:       log,
		OnRefresh: cfg.OnRefresh,
	})
	return &Cache{Cache: c, catalog: catalog, ref: r}
}

func (c *Cache) Catalog() *Catalog { return c.catalog }

type refresher struct {
	catalog *Catalog
	fetch   Fetcher
	max     int
	zone    *time.Location
	clock   func() time.Time
	log     logx.Logger
	parser  *gofeed.Parser
}

// refresh fetches every feed once and merges new items into a copy of prev.
// Any feed failure fails the whole refresh so prev stays in place.
func (r *refresher) refresh(ctx context.Context, prev *Snapshot) (Snapshot, error) {
	next := Snapshot{Items: map[string][]model.ContentItem{}}
	if prev != nil {
		next = prev.clone()
	}

	groups := r.catalog.ByFeed()
	urls := make([]string, 0, len(groups))
	for u := range groups {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	added := 0
	for _, u := range urls {
		n, err := r.refreshFeed(ctx, u, groups[u], &next)
		if err != nil {
			return Snapshot{}, err
		}
		added += n
	}
	next.prune(r.max)

	now := r.clock().In(r.zone)
	next.LastUpdated = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, r.zone)
	r.log.Info("blog cache refreshed", logx.Int("feeds", len(urls)), logx.Int("new_items", added))
	return next, nil
}

func (r *refresher) refreshFeed(ctx context.Context, url string, blogs []BlogDescription, snap *Snapshot) (int, error) {
	body, err := r.fetch.FetchBytes(ctx, url)
	if err != nil {
		return 0, err
	}
	feed, err := r.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", url, err)
	}

	byName := make(map[string]BlogDescription, len(blogs))
	for _, b := range blogs {
		byName[b.Name] = b
	}

	added := 0
	for _, item := range feed.Items {
		blog, ok := matchCategory(item, byName)
		if !ok {
			continue
		}
		it, err := r.buildItem(ctx, blog, item, *snap)
		if err != nil {
			var mc *model.MalformedContentError
			if errors.As(err, &mc) {
				r.log.Warn("feed item skipped", logx.String("feed", url), logx.Err(err))
				continue
			}
			return added, err
		}
		if it == nil {
			continue
		}
		snap.Items[blog.Name] = append(snap.Items[blog.Name], *it)
		added++
	}
	return added, nil
}

// matchCategory returns the catalog blog named by the item's first matching category.
func matchCategory(item *gofeed.Item, byName map[string]BlogDescription) (BlogDescription, bool) {
	for _, c := range item.Categories {
		if b, ok := byName[strings.TrimSpace(c)]; ok {
			return b, true
		}
	}
	return BlogDescription{}, false
}

// buildItem returns nil for items already cached.
func (r *refresher) buildItem(ctx context.Context, blog BlogDescription, item *gofeed.Item, snap Snapshot) (*model.ContentItem, error) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil, &model.MalformedContentError{Source: blog.Name, Reason: "missing title"}
	}
	at := itemPublishedTime(item)
	if at.IsZero() {
		return nil, &model.MalformedContentError{Source: blog.Name, Reason: fmt.Sprintf("%q has no date", title)}
	}
	id := model.NewItemID(title, at)
	if snap.Has(blog.Name, id) {
		return nil, nil
	}

	authorImage := mediaContentURL(item)
	it := &model.ContentItem{
		Source:         model.SourceID{Name: blog.Name, Author: itemAuthor(item, blog)},
		ID:             id,
		AuthorImageURL: authorImage,
		ImageURL:       itemImage(item, authorImage),
		Link:           strings.TrimSpace(item.Link),
		Description:    htmltext.Text(item.Description),
	}
	if it.ImageURL == "" && it.Link != "" {
		it.ImageURL = r.pageImage(ctx, it.Link)
	}
	return it, nil
}

// pageImage reads og:image from the item's page. Failures only cost the image.
func (r *refresher) pageImage(ctx context.Context, link string) string {
	page, err := r.fetch.FetchBytes(ctx, link)
	if err != nil {
		r.log.Debug("og:image lookup failed", logx.String("link", link), logx.Err(err))
		return ""
	}
	return htmltext.OGImage(page)
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemAuthor(item *gofeed.Item, blog BlogDescription) string {
	if item.DublinCoreExt != nil {
		for _, c := range item.DublinCoreExt.Creator {
			if c = strings.TrimSpace(c); c != "" {
				return c
			}
		}
	}
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	return blog.Author
}

// mediaContentURL returns the url attribute of the item's first media:content.
// WordPress feeds put the author's avatar there.
func mediaContentURL(item *gofeed.Item) string {
	for _, e := range item.Extensions["media"]["content"] {
		if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
			return u
		}
	}
	return ""
}

func itemImage(item *gofeed.Item, authorImage string) string {
	if item.Image != nil {
		if u := strings.TrimSpace(item.Image.URL); u != "" && u != authorImage {
			return u
		}
	}
	for _, enc := range item.Enclosures {
		if enc == nil || !strings.HasPrefix(enc.Type, "image/") {
			continue
		}
		if u := strings.TrimSpace(enc.URL); u != "" && u != authorImage {
			return u
		}
	}
	return ""
}
