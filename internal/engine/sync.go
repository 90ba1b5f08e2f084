package engine

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/asgsync/gallery/internal/catalog"
	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/observability"
)

// BatchResult reports one sync cycle. Per-file failures live here as data,
// never as an error from the cycle itself.
type BatchResult struct {
	Downloaded    []string
	Failed        map[string]string
	DeletedRemote []string
	DeletedLocal  []string
	Bytes         int64
	Duration      time.Duration
}

// Complete reports whether every changed file made it down.
func (r *BatchResult) Complete() bool {
	return len(r.Failed) == 0
}

// runSync executes one sync cycle: fetch the delta, download each changed
// file sequentially, persist-then-delete per file, and advance the
// checkpoint only after every file has been attempted. One file's failure
// never stops the rest.
func (e *Engine) runSync(ctx context.Context) {
	ctx, span := observability.StartEngineSpan(ctx, "batch_sync")
	defer span.End()
	started := time.Now()

	cp, err := e.store.ReadCheckpoint()
	if err != nil {
		observability.RecordError(span, err)
		e.fail("checkpoint read failed: " + err.Error())
		return
	}

	delta, err := e.catalog.FetchDeltaSince(ctx, cp.ClientID, cp.LastSyncTime, e.cfg.IncludeThumbnails)
	if err != nil {
		observability.RecordError(span, err)
		e.fail("delta fetch failed: " + err.Error())
		return
	}

	e.logger.WithFields(map[string]interface{}{
		"changed": len(delta.ChangedItems),
		"deleted": len(delta.DeletedNames),
		"size":    humanize.Bytes(uint64(delta.TotalSize)),
	}).Info("Sync delta received")

	result := &BatchResult{Failed: make(map[string]string)}

	for _, item := range delta.ChangedItems {
		if ctx.Err() != nil {
			break
		}
		e.syncOne(ctx, item, result)
	}

	result.DeletedLocal = e.applyRemoteDeletions(delta.DeletedNames)

	// The checkpoint only moves once every file has been attempted.
	// Advancing it earlier would silently drop the files that failed.
	update := models.CheckpointUpdate{
		DownloadedCount: int64(len(result.Downloaded)),
		DownloadedBytes: result.Bytes,
	}
	update.LastSyncTime = &delta.NewCheckpoint
	if err := e.store.WriteCheckpoint(update); err != nil {
		observability.RecordError(span, err)
		e.fail("checkpoint write failed: " + err.Error())
		return
	}

	result.Duration = time.Since(started)
	e.mu.Lock()
	e.lastBatch = result
	e.progress = make(map[string]int)
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"downloaded": len(result.Downloaded),
		"failed":     len(result.Failed),
		"bytes":      humanize.Bytes(uint64(result.Bytes)),
		"duration":   result.Duration.Round(time.Millisecond).String(),
	}).Info("Sync cycle finished")

	observability.SetSuccess(span)
	if !e.transition(StateSyncComplete, "") {
		return
	}
	e.finishSession(ctx)
}

// syncOne downloads one file, persists its metadata, and then deletes the
// remote copy. The remote delete only happens after the local save
// succeeded; a failure at any step records the file as failed and moves on.
func (e *Engine) syncOne(ctx context.Context, item *models.MediaItem, result *BatchResult) {
	layout := e.store.Layout()
	req := catalog.DownloadRequest{
		Name:          item.Name,
		IsVideo:       item.IsVideo,
		WantThumbnail: e.cfg.IncludeThumbnails,
		MediaPath:     layout.MediaPath(item.Name),
		ThumbnailPath: layout.ThumbnailPath(item.Name),
		ExpectedSize:  item.SizeBytes,
		OnProgress: func(pct int) {
			e.reportProgress(item.Name, pct)
		},
	}

	dl, err := e.catalog.DownloadItem(ctx, req)
	if err != nil {
		e.logger.WithField("media_name", item.Name).Warnf("Download failed: %v", err)
		result.Failed[item.Name] = err.Error()
		if e.metrics != nil {
			e.metrics.RecordFailure(ctx)
		}
		return
	}

	item.LocalRef = &models.LocalRef{
		FilePath:      dl.LocalPath,
		ThumbnailPath: dl.ThumbnailPath,
	}
	if dl.MimeType != "" {
		item.MimeType = dl.MimeType
	}
	if dl.Bytes > 0 {
		item.SizeBytes = dl.Bytes
	}
	e.mu.Lock()
	item.CapturingDeviceModel = e.deviceModel
	e.mu.Unlock()

	if err := e.store.SaveMediaMetadata(item); err != nil {
		e.logger.WithField("media_name", item.Name).Warnf("Metadata save failed: %v", err)
		result.Failed[item.Name] = err.Error()
		return
	}

	result.Downloaded = append(result.Downloaded, item.Name)
	result.Bytes += dl.Bytes
	if e.metrics != nil {
		e.metrics.RecordDownload(ctx, dl.Bytes)
	}

	// The local copy is durable; now the remote copy can go. Never the
	// other way around.
	outcome, err := e.catalog.DeleteRemote(ctx, []string{item.Name})
	if err != nil || len(outcome.Deleted) == 0 {
		e.logger.WithField("media_name", item.Name).Warn("Remote delete failed; file will reappear next delta")
		return
	}
	result.DeletedRemote = append(result.DeletedRemote, item.Name)
}

// applyRemoteDeletions drops the remote ref for names the server reports
// deleted. Items with a local copy survive as phone-only entries; items
// never downloaded disappear from the catalog view.
func (e *Engine) applyRemoteDeletions(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	gone := make(map[string]bool, len(names))
	for _, name := range names {
		gone[name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var dropped []string
	for i, item := range e.remoteItems {
		if item == nil || !gone[item.Name] {
			continue
		}
		e.remoteItems[i] = nil
		dropped = append(dropped, item.Name)
	}
	return dropped
}

func (e *Engine) reportProgress(name string, pct int) {
	e.mu.Lock()
	e.progress[name] = pct
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)
}

// finishSession shows the completion state briefly, clears the remote
// catalog, and tears down the transport if this engine raised it.
func (e *Engine) finishSession(ctx context.Context) {
	e.sleep(ctx, e.completeDelay)

	e.mu.Lock()
	e.remoteTotal = 0
	e.remoteItems = nil
	e.loaded = rangeSet{}
	e.loading = rangeSet{}
	opened := e.openedHotspot
	e.openedHotspot = false
	e.mu.Unlock()

	e.transition(StateNoMediaOnGlasses, "")

	if opened {
		if err := e.bridge.SetHotspotState(ctx, false); err != nil {
			e.logger.Warnf("Hotspot teardown failed: %v", err)
		} else {
			e.logger.Info("Hotspot torn down after sync")
		}
	}
}
