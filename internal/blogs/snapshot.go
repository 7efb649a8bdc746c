package blogs

import (
	"sort"
	"time"

	"readingsbot/internal/model"
)

// Snapshot is the whole blog cache as written to latest_posts.json.
// Every list is newest first.
type Snapshot struct {
	LastUpdated time.Time                      `json:"lastUpdated"`
	Items       map[string][]model.ContentItem `json:"items"`
}

// Stale reports whether an hour has passed since the snapshot was taken.
func (s Snapshot) Stale(now time.Time) bool {
	return s.LastUpdated.IsZero() || !now.Before(s.LastUpdated.Add(time.Hour))
}

func (s Snapshot) Has(source string, id model.ItemID) bool {
	for _, it := range s.Items[source] {
		if it.ID.Equal(id) {
			return true
		}
	}
	return false
}

// All returns every cached item ordered by source name, oldest first.
func (s Snapshot) All() []model.ContentItem {
	var out []model.ContentItem
	for _, list := range s.Items {
		out = append(out, list...)
	}
	sortForDelivery(out)
	return out
}

func (s Snapshot) clone() Snapshot {
	cp := Snapshot{LastUpdated: s.LastUpdated, Items: make(map[string][]model.ContentItem, len(s.Items))}
	for k, v := range s.Items {
		cp.Items[k] = append([]model.ContentItem(nil), v...)
	}
	return cp
}

// prune sorts each list newest first and keeps at most max items.
func (s *Snapshot) prune(max int) {
	for k, list := range s.Items {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID.Instant.After(list[j].ID.Instant) })
		if max > 0 && len(list) > max {
			list = list[:max]
		}
		s.Items[k] = list
	}
}

func sortForDelivery(items []model.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Source.Name != items[j].Source.Name {
			return items[i].Source.Name < items[j].Source.Name
		}
		return items[i].ID.Instant.Before(items[j].ID.Instant)
	})
}
