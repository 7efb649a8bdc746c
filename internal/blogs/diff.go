package blogs

import (
	"fmt"
	"strings"

	"readingsbot/internal/model"
)

// Mode decides what a subscription without a pointer receives.
type Mode string

const (
	// ModeSilent delivers nothing on the first run and starts from the newest cached item.
	ModeSilent Mode = "silent"
	// ModeBacklog delivers every cached item on the first run.
	ModeBacklog Mode = "backlog"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSilent:
		return ModeSilent, nil
	case ModeBacklog:
		return ModeBacklog, nil
	}
	return "", fmt.Errorf("unknown subscription mode %q (want silent or backlog)", s)
}

// Diff selects the items each pointer has not seen and returns them ordered by
// source name then instant, together with the advanced pointers. The returned
// pointers keep the input order; a pointer with nothing new is unchanged.
func Diff(pointers []model.Pointer, snap Snapshot, mode Mode) ([]model.ContentItem, []model.Pointer) {
	updated := make([]model.Pointer, len(pointers))
	var out []model.ContentItem

	for i, p := range pointers {
		updated[i] = p
		if p.Last != nil {
			last := *p.Last
			updated[i].Last = &last
		}

		cached := snap.Items[p.Source.Key()]
		var fresh []model.ContentItem
		switch {
		case p.Last != nil:
			for _, it := range cached {
				if it.ID.Instant.After(p.Last.Instant) {
					fresh = append(fresh, it)
				}
			}
		case mode == ModeBacklog:
			fresh = append(fresh, cached...)
		default:
			if newest, ok := newestOf(cached); ok {
				id := newest.ID
				updated[i].Last = &id
			}
			continue
		}
		if newest, ok := newestOf(fresh); ok {
			id := newest.ID
			updated[i].Last = &id
		}
		out = append(out, fresh...)
	}

	sortForDelivery(out)
	return out, updated
}

func newestOf(items []model.ContentItem) (model.ContentItem, bool) {
	if len(items) == 0 {
		return model.ContentItem{}, false
	}
	best := items[0]
	for _, it := range items[1:] {
		if it.ID.Instant.After(best.ID.Instant) {
			best = it
		}
	}
	return best, true
}
