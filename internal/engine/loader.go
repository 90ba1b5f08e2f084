package engine

import (
	"context"

	"github.com/asgsync/gallery/internal/observability"
)

// EnsureVisible makes sure the catalog indices covering [first, last] plus
// a prefetch margin are loaded or loading. Already covered indices are never
// refetched; each uncovered gap becomes exactly one page request.
func (e *Engine) EnsureVisible(ctx context.Context, first, last int) {
	e.mu.Lock()
	if e.state != StateReadyToSync && e.state != StateSyncing && e.state != StateConnectedLoading {
		e.mu.Unlock()
		return
	}
	total := e.remoteTotal
	if total == 0 || last < first {
		e.mu.Unlock()
		return
	}

	start := first - e.cfg.PrefetchMargin
	end := last + 1 + e.cfg.PrefetchMargin
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}

	gaps := union(&e.loaded, &e.loading, start, end)
	for _, gap := range gaps {
		e.loading.add(gap.Start, gap.End)
	}
	e.mu.Unlock()

	for _, gap := range gaps {
		go e.fetchRange(ctx, gap)
	}
}

// ItemAt returns the catalog item at the given index, or nil while that
// index is still loading.
func (e *Engine) ItemAt(index int) *DisplayItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.remoteItems) {
		return nil
	}
	item := e.remoteItems[index]
	if item == nil {
		return nil
	}
	dup := *item
	return &DisplayItem{MediaItem: &dup, OnGlasses: true}
}

// fetchRange loads one uncovered span of the catalog. On failure the span
// returns to the uncovered pool so a later viewport pass retries it.
func (e *Engine) fetchRange(ctx context.Context, sp span) {
	page, err := e.catalog.ListMedia(ctx, sp.End-sp.Start, sp.Start)

	e.mu.Lock()
	e.loading.remove(sp.Start, sp.End)
	if err != nil {
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"offset": sp.Start,
			"limit":  sp.End - sp.Start,
		}).Warnf("Catalog page load failed: %v", err)
		return
	}

	for i, item := range page.Items {
		idx := sp.Start + i
		if idx < len(e.remoteItems) {
			e.remoteItems[idx] = item
		}
	}
	loadedEnd := sp.Start + len(page.Items)
	if loadedEnd > sp.End {
		loadedEnd = sp.End
	}
	e.loaded.add(sp.Start, loadedEnd)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	observability.Debugf("Loaded catalog range [%d, %d)", sp.Start, loadedEnd)
	e.notify(snap)
}
