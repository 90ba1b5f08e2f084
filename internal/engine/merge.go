package engine

import (
	"sort"

	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/store"
)

// DisplayItem is one gallery entry as presented to the UI. OnGlasses marks
// items the server still holds; everything else is a phone-only download.
type DisplayItem struct {
	*models.MediaItem
	OnGlasses bool
}

// MergeMedia combines the remote catalog view with locally downloaded
// metadata into one display list. Remote items come first, then local-only
// items, each group sorted newest-first. An item known both remotely and
// locally appears once, in the remote group, carrying both refs. The result
// length is always len(remote) plus the number of local-only names.
func MergeMedia(remote map[string]*models.MediaItem, local map[string]*models.MediaItem) []DisplayItem {
	remoteGroup := make([]DisplayItem, 0, len(remote))
	for name, item := range remote {
		merged := *item
		if lc, ok := local[name]; ok && lc.LocalRef != nil {
			merged.LocalRef = lc.LocalRef
			if merged.CapturingDeviceModel == "" {
				merged.CapturingDeviceModel = lc.CapturingDeviceModel
			}
		}
		merged.LocalRef = viewLocalRef(merged.LocalRef)
		remoteGroup = append(remoteGroup, DisplayItem{MediaItem: &merged, OnGlasses: true})
	}

	localGroup := make([]DisplayItem, 0, len(local))
	for name, item := range local {
		if _, ok := remote[name]; ok {
			continue
		}
		if !item.Listable() {
			continue
		}
		dup := *item
		dup.LocalRef = viewLocalRef(dup.LocalRef)
		localGroup = append(localGroup, DisplayItem{MediaItem: &dup, OnGlasses: false})
	}

	sortNewestFirst(remoteGroup)
	sortNewestFirst(localGroup)

	return append(remoteGroup, localGroup...)
}

// viewLocalRef copies a LocalRef with its paths in the file:// form the
// view layer consumes. The stored item keeps plain filesystem paths.
func viewLocalRef(ref *models.LocalRef) *models.LocalRef {
	if ref == nil {
		return nil
	}
	return &models.LocalRef{
		FilePath:      store.FileURL(ref.FilePath),
		ThumbnailPath: store.FileURL(ref.ThumbnailPath),
	}
}

// sortNewestFirst orders by modification time descending, with name as the
// tiebreaker so equal timestamps still produce a stable order.
func sortNewestFirst(items []DisplayItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ModifiedAt.Equal(items[j].ModifiedAt) {
			return items[i].Name < items[j].Name
		}
		return items[i].ModifiedAt.After(items[j].ModifiedAt)
	})
}
