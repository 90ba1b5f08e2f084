package catalog

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgsync/gallery/internal/config"
	"github.com/asgsync/gallery/internal/models"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := NewClient(config.Camera{
		Host:                   host,
		Port:                   port,
		ProbeTimeoutSec:        1,
		ListTimeoutSec:         5,
		DownloadTimeoutMinutes: 1,
	})
	client.SetRetryPolicy(RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	return client
}

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	payload, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(models.Envelope{Status: models.StatusSuccess, Data: payload})
}

func TestListMedia(t *testing.T) {
	t.Run("maps records to media items", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/gallery", r.URL.Path)
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			assert.Equal(t, "40", r.URL.Query().Get("offset"))
			writeEnvelope(w, models.GalleryData{
				Photos: []models.PhotoRecord{
					{Name: "IMG_001.jpg", URL: "/api/photo?file=IMG_001.jpg", DownloadURL: "/api/download?file=IMG_001.jpg", Size: 2048, Modified: "2026-03-01 10:30:00"},
					{Name: "VID_001.mp4", URL: "/api/photo?file=VID_001.mp4", DownloadURL: "/api/download?file=VID_001.mp4", Size: 1 << 20, Modified: "2026-03-01 10:00:00", IsVideo: true},
				},
				TotalCount: 45,
				HasMore:    true,
			})
		}))

		page, err := client.ListMedia(context.Background(), 20, 40)
		require.NoError(t, err)
		assert.Equal(t, 45, page.TotalCount)
		assert.True(t, page.HasMore)
		require.Len(t, page.Items, 2)

		photo := page.Items[0]
		assert.Equal(t, "IMG_001.jpg", photo.Name)
		assert.False(t, photo.IsVideo)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), photo.ModifiedAt)
		require.NotNil(t, photo.RemoteRef)
		assert.Equal(t, client.BaseURL()+"/api/photo?file=IMG_001.jpg", photo.RemoteRef.ViewURL)

		assert.True(t, page.Items[1].IsVideo)
	})

	t.Run("empty gallery is valid", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, models.GalleryData{Photos: []models.PhotoRecord{}, TotalCount: 0})
		}))

		page, err := client.ListMedia(context.Background(), 20, 0)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Zero(t, page.TotalCount)
	})

	t.Run("missing photos field is a protocol error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, map[string]int{"total_count": 3})
		}))

		_, err := client.ListMedia(context.Background(), 20, 0)
		assert.True(t, models.IsProtocol(err))
	})

	t.Run("error envelope is a protocol error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(models.Envelope{Status: models.StatusError, Message: "storage offline"})
		}))

		_, err := client.ListMedia(context.Background(), 20, 0)
		require.True(t, models.IsProtocol(err))
		assert.Contains(t, err.Error(), "storage offline")
	})

	t.Run("rate limit is retried then succeeds", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= 2 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeEnvelope(w, models.GalleryData{Photos: []models.PhotoRecord{}})
		}))

		_, err := client.ListMedia(context.Background(), 20, 0)
		require.NoError(t, err)
		mu.Lock()
		assert.Equal(t, 3, calls)
		mu.Unlock()
	})

	t.Run("exhausted rate limit surfaces typed error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		}))

		_, err := client.ListMedia(context.Background(), 20, 0)
		require.True(t, models.IsRateLimit(err))
		var rle *models.RateLimitError
		require.ErrorAs(t, err, &rle)
		assert.Equal(t, 2*time.Second, rle.RetryAfter)
	})

	t.Run("unreachable server is a transport error", func(t *testing.T) {
		client := NewClient(config.Camera{Host: "127.0.0.1", Port: 1, ProbeTimeoutSec: 1, ListTimeoutSec: 1, DownloadTimeoutMinutes: 1})
		_, err := client.ListMedia(context.Background(), 20, 0)
		assert.True(t, models.IsTransport(err))
	})
}

func TestFetchDeltaSince(t *testing.T) {
	t.Run("maps the delta payload", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/sync", r.URL.Path)
			assert.Equal(t, "client-1", r.URL.Query().Get("client_id"))
			assert.Equal(t, "2026-03-01 09:00:00", r.URL.Query().Get("last_sync_time"))
			writeEnvelope(w, models.SyncData{
				ClientID:     "client-1",
				ChangedFiles: []models.PhotoRecord{{Name: "IMG_002.jpg", Modified: "2026-03-01 09:30:00", Size: 512}},
				DeletedFiles: []string{"IMG_000.jpg"},
				ServerTime:   "2026-03-01 10:00:00",
				TotalChanged: 1,
				TotalSize:    512,
			})
		}))

		delta, err := client.FetchDeltaSince(context.Background(), "client-1", "2026-03-01 09:00:00", true)
		require.NoError(t, err)
		require.Len(t, delta.ChangedItems, 1)
		assert.Equal(t, "IMG_002.jpg", delta.ChangedItems[0].Name)
		assert.Equal(t, []string{"IMG_000.jpg"}, delta.DeletedNames)
		assert.Equal(t, "2026-03-01 10:00:00", delta.NewCheckpoint)
	})

	t.Run("missing server_time is a protocol error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, models.SyncData{ChangedFiles: []models.PhotoRecord{}})
		}))

		_, err := client.FetchDeltaSince(context.Background(), "client-1", "", true)
		assert.True(t, models.IsProtocol(err))
	})
}

func TestDownloadItem(t *testing.T) {
	body := append(append([]byte(nil), jpegHeader...), make([]byte, 4096)...)

	t.Run("streams to disk with progress bookends", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/photo", r.URL.Path)
			assert.Equal(t, "IMG_001.jpg", r.URL.Query().Get("file"))
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(body)
		}))

		dir := t.TempDir()
		dest := filepath.Join(dir, "IMG_001.jpg")

		var mu sync.Mutex
		var progress []int
		res, err := client.DownloadItem(context.Background(), DownloadRequest{
			Name:         "IMG_001.jpg",
			MediaPath:    dest,
			ExpectedSize: int64(len(body)),
			OnProgress: func(pct int) {
				mu.Lock()
				progress = append(progress, pct)
				mu.Unlock()
			},
		})
		require.NoError(t, err)
		assert.Equal(t, dest, res.LocalPath)
		assert.Equal(t, int64(len(body)), res.Bytes)
		// The generic header loses to the sniffed signature.
		assert.Equal(t, "image/jpeg", res.MimeType)

		written, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, body, written)

		_, err = os.Stat(dest + ".part")
		assert.True(t, os.IsNotExist(err), "temp file must not survive a successful download")

		require.NotEmpty(t, progress)
		assert.Equal(t, 0, progress[0])
		assert.Equal(t, 100, progress[len(progress)-1])
	})

	t.Run("photo endpoint failure falls back to download endpoint", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/photo" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			require.Equal(t, "/api/download", r.URL.Path)
			w.Write(body)
		}))

		dest := filepath.Join(t.TempDir(), "IMG_001.jpg")
		res, err := client.DownloadItem(context.Background(), DownloadRequest{Name: "IMG_001.jpg", MediaPath: dest})
		require.NoError(t, err)
		assert.Equal(t, int64(len(body)), res.Bytes)
	})

	t.Run("videos use the download endpoint directly", func(t *testing.T) {
		var paths []string
		var mu sync.Mutex
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths = append(paths, r.URL.Path)
			mu.Unlock()
			w.Write([]byte("videobytes"))
		}))

		dest := filepath.Join(t.TempDir(), "VID_001.mp4")
		_, err := client.DownloadItem(context.Background(), DownloadRequest{Name: "VID_001.mp4", IsVideo: true, MediaPath: dest})
		require.NoError(t, err)
		assert.Equal(t, []string{"/api/download"}, paths)
	})

	t.Run("failed download leaves no partial file", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		dest := filepath.Join(t.TempDir(), "IMG_404.jpg")
		_, err := client.DownloadItem(context.Background(), DownloadRequest{Name: "IMG_404.jpg", MediaPath: dest})
		require.Error(t, err)

		_, serr := os.Stat(dest)
		assert.True(t, os.IsNotExist(serr))
		_, serr = os.Stat(dest + ".part")
		assert.True(t, os.IsNotExist(serr))
	})
}

func TestDeleteRemote(t *testing.T) {
	t.Run("partial failure is data, not an error", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req models.DeleteFilesRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, req.Files)
			writeEnvelope(w, models.DeleteFilesData{Results: []models.DeleteFileResult{
				{File: "a.jpg", Success: true},
				{File: "b.jpg", Success: false, Error: "locked"},
			}})
		}))

		outcome, err := client.DeleteRemote(context.Background(), []string{"a.jpg", "b.jpg", "c.jpg"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.jpg"}, outcome.Deleted)
		// b failed explicitly; c was never reported on, which counts the same.
		assert.ElementsMatch(t, []string{"b.jpg", "c.jpg"}, outcome.Failed)
	})

	t.Run("empty request is a no-op", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		}))

		outcome, err := client.DeleteRemote(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, outcome.Deleted)
	})
}

func TestProbeReachable(t *testing.T) {
	t.Run("healthy server", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		assert.True(t, client.ProbeReachable(context.Background()))
	})

	t.Run("unreachable server never errors", func(t *testing.T) {
		client := NewClient(config.Camera{Host: "127.0.0.1", Port: 1, ProbeTimeoutSec: 1, ListTimeoutSec: 1, DownloadTimeoutMinutes: 1})
		assert.False(t, client.ProbeReachable(context.Background()))
	})
}

func TestSetEndpoint(t *testing.T) {
	client := NewClient(config.Camera{Host: "192.168.4.1", Port: 8089, ProbeTimeoutSec: 1, ListTimeoutSec: 1, DownloadTimeoutMinutes: 1})

	assert.False(t, client.SetEndpoint("192.168.4.1", 8089), "unchanged endpoint is a no-op")
	assert.True(t, client.SetEndpoint("172.20.10.1", 8089))
	assert.Equal(t, "http://172.20.10.1:8089", client.BaseURL())
}
