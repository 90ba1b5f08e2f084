// Package camserver is a faithful stand-in for the glasses' embedded camera
// server. It serves the same wire contract the sync engine consumes, backed
// by an in-memory library, and exists for local development and tests.
package camserver

import (
	"bytes"
	"fmt"
	"image/color"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/asgsync/gallery/internal/models"
)

const thumbnailMaxDim = 500

// mediaFile is one stored capture.
type mediaFile struct {
	Name     string
	Data     []byte
	Thumb    []byte
	Modified time.Time
	IsVideo  bool
	MimeType string
}

// Library is the in-memory media store behind the simulated camera server.
// Deletions are remembered with their timestamps so delta queries can
// report them.
type Library struct {
	mu       sync.Mutex
	files    map[string]*mediaFile
	deleted  map[string]time.Time
	captures int
	now      func() time.Time
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		files:   make(map[string]*mediaFile),
		deleted: make(map[string]time.Time),
		now:     time.Now,
	}
}

// AddPhoto stores a photo with the given content.
func (l *Library) AddPhoto(name string, data []byte, modified time.Time) {
	l.add(&mediaFile{
		Name:     models.SanitizeMediaName(name),
		Data:     data,
		Modified: modified,
		MimeType: "image/jpeg",
	})
}

// AddVideo stores a video with the given content.
func (l *Library) AddVideo(name string, data []byte, modified time.Time) {
	l.add(&mediaFile{
		Name:     models.SanitizeMediaName(name),
		Data:     data,
		Modified: modified,
		IsVideo:  true,
		MimeType: "video/mp4",
	})
}

func (l *Library) add(f *mediaFile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[f.Name] = f
	delete(l.deleted, f.Name)
}

// Capture generates a synthetic photo, as if the shutter fired, and returns
// its name.
func (l *Library) Capture() string {
	l.mu.Lock()
	l.captures++
	seq := l.captures
	now := l.now()
	l.mu.Unlock()

	name := fmt.Sprintf("IMG_%s_%03d.jpg", now.Format("20060102_150405"), seq)
	l.AddPhoto(name, synthesizeJPEG(seq), now)
	return name
}

// Get returns a file by name.
func (l *Library) Get(name string) (*mediaFile, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.files[name]
	return f, ok
}

// Thumbnail returns a downscaled JPEG for a photo, generating and caching
// it on first request. Videos have no server-side thumbnail here.
func (l *Library) Thumbnail(name string) ([]byte, bool) {
	l.mu.Lock()
	f, ok := l.files[name]
	if !ok || f.IsVideo {
		l.mu.Unlock()
		return nil, false
	}
	if f.Thumb != nil {
		thumb := f.Thumb
		l.mu.Unlock()
		return thumb, true
	}
	data := f.Data
	l.mu.Unlock()

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	fitted := imaging.Fit(img, thumbnailMaxDim, thumbnailMaxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, false
	}
	thumb := buf.Bytes()

	l.mu.Lock()
	if f, ok := l.files[name]; ok {
		f.Thumb = thumb
	}
	l.mu.Unlock()
	return thumb, true
}

// Delete removes a file, recording the deletion time for delta queries.
func (l *Library) Delete(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.files[name]; !ok {
		return false
	}
	delete(l.files, name)
	l.deleted[name] = l.now()
	return true
}

// Clear drops every file. Used by the cleanup endpoint.
func (l *Library) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.files)
	now := l.now()
	for name := range l.files {
		l.deleted[name] = now
	}
	l.files = make(map[string]*mediaFile)
	return n
}

// List returns every file, newest first.
func (l *Library) List() []*mediaFile {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*mediaFile, 0, len(l.files))
	for _, f := range l.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].Name < out[j].Name
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out
}

// ChangedSince returns files modified after the cutoff (newest first) and
// names deleted after it.
func (l *Library) ChangedSince(cutoff time.Time) (changed []*mediaFile, deleted []string) {
	for _, f := range l.List() {
		if f.Modified.After(cutoff) {
			changed = append(changed, f)
		}
	}

	l.mu.Lock()
	for name, at := range l.deleted {
		if at.After(cutoff) {
			deleted = append(deleted, name)
		}
	}
	l.mu.Unlock()
	sort.Strings(deleted)
	return changed, deleted
}

// Counts returns photo and video totals.
func (l *Library) Counts() (photos, videos int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.files {
		if f.IsVideo {
			videos++
		} else {
			photos++
		}
	}
	return photos, videos
}

// synthesizeJPEG renders a flat-color frame so captures have real image
// bytes without shipping fixtures.
func synthesizeJPEG(seed int) []byte {
	c := color.NRGBA{
		R: uint8(37 * seed % 256),
		G: uint8(91 * seed % 256),
		B: uint8(173 * seed % 256),
		A: 255,
	}
	img := imaging.New(640, 480, c)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil
	}
	return buf.Bytes()
}
