// Package store is the durable bookkeeping layer for downloaded media: a
// sqlite metadata database plus the on-disk file layout, and the sync
// checkpoint that drives delta fetches.
package store

import (
	"database/sql"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/observability"
)

const clientIDKey = "client_id"

// MediaStore persists metadata for files already downloaded to the phone
// plus the sync checkpoint. Single-writer from the engine's perspective.
type MediaStore struct {
	db     *sql.DB
	layout *FileLayout
}

// NewMediaStore creates a MediaStore over an initialized database and
// file layout.
func NewMediaStore(db *sql.DB, layout *FileLayout) *MediaStore {
	return &MediaStore{db: db, layout: layout}
}

// Layout exposes the file layout so callers can compute destination paths.
func (s *MediaStore) Layout() *FileLayout {
	return s.layout
}

// EnsureStorageLayout idempotently creates the media directories. Safe to
// call repeatedly.
func (s *MediaStore) EnsureStorageLayout() error {
	return s.layout.Ensure()
}

// GetOrCreateClientID returns the stable random client id, generating and
// persisting one on first call only.
func (s *MediaStore) GetOrCreateClientID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, clientIDKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", models.NewStorageError("read client id", err)
	}

	id = uuid.New().String()
	if _, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, clientIDKey, id); err != nil {
		return "", models.NewStorageError("persist client id", err)
	}
	observability.WithField("client_id", id).Info("Generated new sync client id")
	return id, nil
}

// ReadCheckpoint reads the persisted sync checkpoint. The client id is
// filled in from settings so callers get a complete view.
func (s *MediaStore) ReadCheckpoint() (*models.SyncCheckpoint, error) {
	cp := &models.SyncCheckpoint{}
	err := s.db.QueryRow(`
		SELECT last_sync_time, total_downloaded_count, total_downloaded_bytes
		FROM sync_checkpoint WHERE id = 1`).
		Scan(&cp.LastSyncTime, &cp.TotalDownloadedCount, &cp.TotalDownloadedBytes)
	if err != nil {
		return nil, models.NewStorageError("read checkpoint", err)
	}

	clientID, err := s.GetOrCreateClientID()
	if err != nil {
		return nil, err
	}
	cp.ClientID = clientID
	return cp, nil
}

// WriteCheckpoint merges an update into the stored checkpoint. Counters
// accumulate; the server clock value is replaced only when the update
// carries one. Only a completed sync cycle should call this.
func (s *MediaStore) WriteCheckpoint(update models.CheckpointUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return models.NewStorageError("write checkpoint", err)
	}
	defer tx.Rollback()

	cp := models.SyncCheckpoint{}
	if err := tx.QueryRow(`
		SELECT last_sync_time, total_downloaded_count, total_downloaded_bytes
		FROM sync_checkpoint WHERE id = 1`).
		Scan(&cp.LastSyncTime, &cp.TotalDownloadedCount, &cp.TotalDownloadedBytes); err != nil {
		return models.NewStorageError("write checkpoint", err)
	}

	cp.Apply(update)

	if _, err := tx.Exec(`
		UPDATE sync_checkpoint
		SET last_sync_time = ?, total_downloaded_count = ?, total_downloaded_bytes = ?
		WHERE id = 1`,
		cp.LastSyncTime, cp.TotalDownloadedCount, cp.TotalDownloadedBytes); err != nil {
		return models.NewStorageError("write checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return models.NewStorageError("write checkpoint", err)
	}
	return nil
}

// SaveMediaMetadata upserts the metadata row for a downloaded item. The
// item must carry a local ref; saving a remote-only item is a bug.
func (s *MediaStore) SaveMediaMetadata(item *models.MediaItem) error {
	if item.LocalRef == nil {
		return models.NewStorageError("save media metadata", os.ErrInvalid)
	}

	_, err := s.db.Exec(`
		INSERT INTO media (name, size_bytes, modified_at, is_video, mime_type, file_path, thumbnail_path, device_model, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			modified_at = excluded.modified_at,
			is_video = excluded.is_video,
			mime_type = excluded.mime_type,
			file_path = excluded.file_path,
			thumbnail_path = excluded.thumbnail_path,
			device_model = excluded.device_model,
			downloaded_at = excluded.downloaded_at`,
		item.Name, item.SizeBytes, item.ModifiedAt.UTC(), item.IsVideo, item.MimeType,
		item.LocalRef.FilePath, item.LocalRef.ThumbnailPath, item.CapturingDeviceModel,
		time.Now().UTC())
	if err != nil {
		return models.NewStorageError("save media metadata", err)
	}
	return nil
}

// GetMediaMetadata returns the item for a name, or models.ErrNotFound.
func (s *MediaStore) GetMediaMetadata(name string) (*models.MediaItem, error) {
	row := s.db.QueryRow(`
		SELECT name, size_bytes, modified_at, is_video, mime_type, file_path, thumbnail_path, device_model
		FROM media WHERE name = ?`, name)

	item, err := scanMediaItem(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewStorageError("read media metadata", err)
	}
	return item, nil
}

// GetAllMediaMetadata returns every tracked item keyed by name.
func (s *MediaStore) GetAllMediaMetadata() (map[string]*models.MediaItem, error) {
	rows, err := s.db.Query(`
		SELECT name, size_bytes, modified_at, is_video, mime_type, file_path, thumbnail_path, device_model
		FROM media ORDER BY modified_at DESC`)
	if err != nil {
		return nil, models.NewStorageError("list media metadata", err)
	}
	defer rows.Close()

	items := make(map[string]*models.MediaItem)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, models.NewStorageError("list media metadata", err)
		}
		items[item.Name] = item
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewStorageError("list media metadata", err)
	}
	return items, nil
}

// DeleteMediaMetadata removes an item's files and metadata. Files go first:
// a crash in between leaves an orphaned-but-harmless file, never metadata
// pointing at nothing. Returns false when the name was not tracked.
func (s *MediaStore) DeleteMediaMetadata(name string) (bool, error) {
	item, err := s.GetMediaMetadata(name)
	if err == models.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	removeItemFiles(item)

	res, err := s.db.Exec(`DELETE FROM media WHERE name = ?`, name)
	if err != nil {
		return false, models.NewStorageError("delete media metadata", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearAll deletes every tracked file and clears all metadata. Best effort:
// one file's failure never aborts the rest.
func (s *MediaStore) ClearAll() error {
	items, err := s.GetAllMediaMetadata()
	if err != nil {
		return err
	}

	for _, item := range items {
		removeItemFiles(item)
	}

	if _, err := s.db.Exec(`DELETE FROM media`); err != nil {
		return models.NewStorageError("clear media metadata", err)
	}
	observability.WithField("count", len(items)).Info("Cleared all downloaded media")
	return nil
}

// removeItemFiles deletes an item's binary content, logging failures
// rather than raising them.
func removeItemFiles(item *models.MediaItem) {
	if item.LocalRef == nil {
		return
	}
	for _, path := range []string{item.LocalRef.FilePath, item.LocalRef.ThumbnailPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			observability.WithField("path", path).Warnf("Failed to remove media file: %v", err)
		}
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMediaItem converts the persisted record shape into the MediaItem
// view shape, normalizing paths to file:// URLs for the local ref.
func scanMediaItem(row rowScanner) (*models.MediaItem, error) {
	var (
		item          models.MediaItem
		mimeType      sql.NullString
		thumbnailPath sql.NullString
		deviceModel   sql.NullString
		filePath      string
	)
	if err := row.Scan(&item.Name, &item.SizeBytes, &item.ModifiedAt, &item.IsVideo,
		&mimeType, &filePath, &thumbnailPath, &deviceModel); err != nil {
		return nil, err
	}
	item.MimeType = mimeType.String
	item.CapturingDeviceModel = deviceModel.String
	item.LocalRef = &models.LocalRef{
		FilePath:      filePath,
		ThumbnailPath: thumbnailPath.String,
	}
	return &item, nil
}
