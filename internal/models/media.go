package models

import (
	"path/filepath"
	"strings"
	"time"
)

// MediaItem represents one photo or video known to the gallery, whether it
// currently lives on the glasses, on the phone, or both. Items are keyed by
// filename; the name is authoritative across the remote and local copies.
type MediaItem struct {
	Name                 string     `json:"name"`
	SizeBytes            int64      `json:"sizeBytes"`
	ModifiedAt           time.Time  `json:"modifiedAt"`
	IsVideo              bool       `json:"isVideo"`
	MimeType             string     `json:"mimeType,omitempty"`
	RemoteRef            *RemoteRef `json:"remoteRef,omitempty"`
	LocalRef             *LocalRef  `json:"localRef,omitempty"`
	CapturingDeviceModel string     `json:"capturingDeviceModel,omitempty"`
}

// RemoteRef marks an item as present on the glasses' camera server.
type RemoteRef struct {
	ViewURL     string `json:"viewUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// LocalRef marks an item as downloaded to the phone.
type LocalRef struct {
	FilePath      string `json:"filePath"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
}

// NewMediaItem creates a MediaItem with a sanitized name. At least one of
// remote/local must be attached before the item is listable.
func NewMediaItem(name string, sizeBytes int64, modifiedAt time.Time) (*MediaItem, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyMediaName
	}
	return &MediaItem{
		Name:       SanitizeMediaName(name),
		SizeBytes:  sizeBytes,
		ModifiedAt: modifiedAt,
		IsVideo:    IsVideoFilename(name),
	}, nil
}

// IsRemote reports whether the server currently has this file.
func (m *MediaItem) IsRemote() bool {
	return m.RemoteRef != nil
}

// IsLocal reports whether the file is on the phone.
func (m *MediaItem) IsLocal() bool {
	return m.LocalRef != nil
}

// Listable reports whether the item may appear in any listing. An item with
// neither a remote nor a local copy is a bookkeeping ghost and must be
// dropped.
func (m *MediaItem) Listable() bool {
	return m.RemoteRef != nil || m.LocalRef != nil
}

// IsVideoFilename classifies a media filename by extension. Used as a
// fallback when the server omits mime_type and no signature is available.
func IsVideoFilename(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".3gp":
		return true
	}
	return false
}

// SanitizeMediaName removes path components and invalid characters from a
// server-supplied filename before it is used as a storage key or path.
func SanitizeMediaName(name string) string {
	base := filepath.Base(name)

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(base)
}
