package models

import (
	"encoding/json"
	"time"
)

// Wire types for the glasses' camera-server JSON contract. Every endpoint
// wraps its payload in a status envelope; non-"success" status or a missing
// expected field is a protocol error on the client side.

const (
	// StatusSuccess is the envelope status for a successful response.
	StatusSuccess = "success"
	// StatusError is the envelope status for a failed response.
	StatusError = "error"

	// ServerTimeLayout is the timestamp format the camera server uses for
	// photo modification times.
	ServerTimeLayout = "2006-01-02 15:04:05"
)

// Envelope is the camera server's response wrapper.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PhotoRecord is one entry in a gallery or delta-sync listing.
type PhotoRecord struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	DownloadURL string `json:"download"`
	Size        int64  `json:"size"`
	Modified    string `json:"modified"`
	MimeType    string `json:"mime_type,omitempty"`
	IsVideo     bool   `json:"is_video,omitempty"`
}

// ModifiedTime parses the record's server-formatted modification time.
// A zero time is returned for unparsable values so a single malformed
// record cannot fail a whole listing.
func (p PhotoRecord) ModifiedTime() time.Time {
	t, err := time.Parse(ServerTimeLayout, p.Modified)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GalleryData is the payload of GET /api/gallery.
type GalleryData struct {
	Photos        []PhotoRecord `json:"photos"`
	TotalCount    int           `json:"total_count"`
	ReturnedCount int           `json:"returned_count"`
	HasMore       bool          `json:"has_more"`
	Offset        int           `json:"offset"`
	Limit         int           `json:"limit"`
	TotalSize     int64         `json:"total_size,omitempty"`
	PackageName   string        `json:"package_name,omitempty"`
}

// SyncData is the payload of GET /api/sync, the server-side diff since a
// client checkpoint.
type SyncData struct {
	ClientID     string        `json:"client_id"`
	ChangedFiles []PhotoRecord `json:"changed_files"`
	DeletedFiles []string      `json:"deleted_files"`
	ServerTime   string        `json:"server_time"`
	TotalChanged int           `json:"total_changed"`
	TotalSize    int64         `json:"total_size"`
}

// DeleteFilesRequest is the body of POST /api/delete-files.
type DeleteFilesRequest struct {
	Files []string `json:"files"`
}

// DeleteFileResult is one entry of the batch-delete response.
type DeleteFileResult struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeleteFilesData is the payload of POST /api/delete-files.
type DeleteFilesData struct {
	Results []DeleteFileResult `json:"results"`
}

// TakePictureData is the payload of POST /api/take-picture.
type TakePictureData struct {
	Message string `json:"message"`
}

// StatusData is the payload of GET /api/status.
type StatusData struct {
	PhotoCount int  `json:"photos"`
	VideoCount int  `json:"videos"`
	TotalCount int  `json:"total"`
	HasContent bool `json:"has_content"`
	CameraBusy bool `json:"camera_busy"`
}

// HealthResponse is the payload of GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
