package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/asgsync/gallery/internal/models"
)

const thumbnailDirName = "thumbnails"

// FileLayout owns the on-phone directory structure for downloaded media:
// a base directory for full files and a thumbnails subdirectory.
type FileLayout struct {
	basePath string
}

// NewFileLayout creates a FileLayout rooted at basePath.
func NewFileLayout(basePath string) (*FileLayout, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, models.NewStorageError("file layout", os.ErrInvalid)
	}
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, models.NewStorageError("file layout", err)
	}
	return &FileLayout{basePath: absPath}, nil
}

// Ensure idempotently creates the media and thumbnail directories.
func (l *FileLayout) Ensure() error {
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return models.NewStorageError("create media dir", err)
	}
	if err := os.MkdirAll(l.ThumbnailDir(), 0755); err != nil {
		return models.NewStorageError("create thumbnail dir", err)
	}
	return nil
}

// BasePath returns the media root.
func (l *FileLayout) BasePath() string {
	return l.basePath
}

// ThumbnailDir returns the thumbnail subdirectory.
func (l *FileLayout) ThumbnailDir() string {
	return filepath.Join(l.basePath, thumbnailDirName)
}

// MediaPath returns where the full file for a media name lives.
func (l *FileLayout) MediaPath(name string) string {
	return filepath.Join(l.basePath, models.SanitizeMediaName(name))
}

// ThumbnailPath returns where the thumbnail for a media name lives.
func (l *FileLayout) ThumbnailPath(name string) string {
	return filepath.Join(l.ThumbnailDir(), "thumb_"+models.SanitizeMediaName(name)+".jpg")
}

// FileURL converts an absolute path into the file:// form the view layer
// consumes. Already-prefixed paths pass through unchanged.
func FileURL(path string) string {
	if path == "" || strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + filepath.ToSlash(path)
}
