// Package catalog is the HTTP client for the glasses' embedded camera
// server. It is stateless except for the base URL: every call takes a
// context and returns typed results, and rate limiting (HTTP 429) is
// absorbed here so callers never see a raw 429.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/asgsync/gallery/internal/config"
	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/observability"
)

// MediaPage is one page of the remote catalog.
type MediaPage struct {
	Items      []*models.MediaItem
	TotalCount int
	HasMore    bool
}

// Delta is the server-side diff since a sync checkpoint.
type Delta struct {
	ChangedItems  []*models.MediaItem
	DeletedNames  []string
	NewCheckpoint string
	TotalChanged  int
	TotalSize     int64
}

// DeleteOutcome is the result of a best-effort batch delete.
type DeleteOutcome struct {
	Deleted []string
	Failed  []string
}

// DownloadRequest describes one file transfer from the glasses.
type DownloadRequest struct {
	Name          string
	IsVideo       bool
	WantThumbnail bool
	MediaPath     string
	ThumbnailPath string
	ExpectedSize  int64
	OnProgress    func(percent int)
}

// DownloadResult reports where the file landed and what it turned out to be.
type DownloadResult struct {
	LocalPath     string
	ThumbnailPath string
	MimeType      string
	Bytes         int64
}

// Client talks to the camera server. Safe for concurrent use; the base URL
// is the only mutable state.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient      *http.Client
	retry           RetryPolicy
	probeTimeout    time.Duration
	listTimeout     time.Duration
	downloadTimeout time.Duration
}

// NewClient creates a Client for the configured camera endpoint.
func NewClient(cfg config.Camera) *Client {
	return &Client{
		baseURL:         fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpClient:      &http.Client{},
		retry:           DefaultRetryPolicy(),
		probeTimeout:    cfg.ProbeTimeout(),
		listTimeout:     cfg.ListTimeout(),
		downloadTimeout: cfg.DownloadTimeout(),
	}
}

// SetRetryPolicy overrides the rate-limit retry policy. Intended for tests
// with a fake sleeper.
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry = p
}

// SetEndpoint reconfigures the base URL. Returns false (a no-op) when the
// endpoint is unchanged, so callers can skip redundant cache invalidation.
func (c *Client) SetEndpoint(host string, port int) bool {
	next := fmt.Sprintf("http://%s:%d", host, port)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL == next {
		return false
	}
	c.baseURL = next
	return true
}

// BaseURL returns the current camera-server base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// ListMedia fetches one page of the remote catalog. Zero photos with a
// success envelope is a valid terminal state, not an error; a missing
// photos field is a protocol error.
func (c *Client) ListMedia(ctx context.Context, limit, offset int) (*MediaPage, error) {
	ctx, span := observability.StartCameraSpan(ctx, "/api/gallery")
	defer span.End()

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	// Photos is a pointer so an absent field is distinguishable from an
	// empty gallery.
	var data struct {
		Photos        *[]models.PhotoRecord `json:"photos"`
		TotalCount    int                   `json:"total_count"`
		ReturnedCount int                   `json:"returned_count"`
		HasMore       bool                  `json:"has_more"`
	}
	if err := c.getJSON(ctx, "/api/gallery", q, c.listTimeout, &data); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if data.Photos == nil {
		err := models.NewProtocolError("/api/gallery", "missing photos field")
		observability.RecordError(span, err)
		return nil, err
	}

	base := c.BaseURL()
	page := &MediaPage{
		Items:      make([]*models.MediaItem, 0, len(*data.Photos)),
		TotalCount: data.TotalCount,
		HasMore:    data.HasMore,
	}
	for _, rec := range *data.Photos {
		page.Items = append(page.Items, recordToItem(base, rec))
	}

	observability.SetSuccess(span)
	return page, nil
}

// FetchDeltaSince asks the server for everything changed since the given
// checkpoint. The server tracks "since", not "consumed": the same
// checkpoint always yields the same delta.
func (c *Client) FetchDeltaSince(ctx context.Context, clientID, checkpoint string, includeThumbnails bool) (*Delta, error) {
	ctx, span := observability.StartCameraSpan(ctx, "/api/sync")
	defer span.End()

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("last_sync_time", checkpoint)
	q.Set("include_thumbnails", strconv.FormatBool(includeThumbnails))

	var data models.SyncData
	if err := c.getJSON(ctx, "/api/sync", q, c.listTimeout, &data); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if data.ServerTime == "" {
		err := models.NewProtocolError("/api/sync", "missing server_time field")
		observability.RecordError(span, err)
		return nil, err
	}

	base := c.BaseURL()
	delta := &Delta{
		ChangedItems:  make([]*models.MediaItem, 0, len(data.ChangedFiles)),
		DeletedNames:  data.DeletedFiles,
		NewCheckpoint: data.ServerTime,
		TotalChanged:  data.TotalChanged,
		TotalSize:     data.TotalSize,
	}
	for _, rec := range data.ChangedFiles {
		delta.ChangedItems = append(delta.ChangedItems, recordToItem(base, rec))
	}

	observability.SetSuccess(span)
	return delta, nil
}

// DownloadItem streams one file from the glasses to phone storage with
// progress callbacks and MIME sniffing. Videos come from the full-file
// endpoint; photos from the image endpoint. WantThumbnail additionally
// fetches the server-side thumbnail for videos.
func (c *Client) DownloadItem(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	ctx, span := observability.StartCameraSpan(ctx, "/api/download")
	span.SetAttributes(observability.MediaName(req.Name))
	defer span.End()

	endpoint := "/api/photo"
	if req.IsVideo {
		endpoint = "/api/download"
	}

	written, mime, err := c.fetchBinary(ctx, endpoint, req.Name, req.MediaPath, req.ExpectedSize, req.OnProgress)
	if err != nil && endpoint == "/api/photo" {
		// The image endpoint can reject large originals; the download
		// endpoint always serves the stored file.
		written, mime, err = c.fetchBinary(ctx, "/api/download", req.Name, req.MediaPath, req.ExpectedSize, req.OnProgress)
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	result := &DownloadResult{
		LocalPath: req.MediaPath,
		MimeType:  mime,
		Bytes:     written,
	}

	if req.WantThumbnail && req.IsVideo && req.ThumbnailPath != "" {
		// Best effort: a video without a thumbnail is still synced.
		if _, _, terr := c.fetchBinary(ctx, "/api/photo", req.Name, req.ThumbnailPath, 0, nil); terr == nil {
			result.ThumbnailPath = req.ThumbnailPath
		} else {
			observability.WithContext(ctx).WithField("media_name", req.Name).
				Warnf("thumbnail fetch failed: %v", terr)
		}
	}

	observability.SetSuccess(span)
	return result, nil
}

// DeleteRemote requests deletion of the named files on the glasses. Partial
// failure never raises an error; only a total request failure does.
func (c *Client) DeleteRemote(ctx context.Context, names []string) (*DeleteOutcome, error) {
	ctx, span := observability.StartCameraSpan(ctx, "/api/delete-files")
	defer span.End()

	if len(names) == 0 {
		return &DeleteOutcome{}, nil
	}

	body, err := json.Marshal(models.DeleteFilesRequest{Files: names})
	if err != nil {
		return nil, models.NewProtocolError("/api/delete-files", err.Error())
	}

	var data models.DeleteFilesData
	if err := c.postJSON(ctx, "/api/delete-files", body, c.listTimeout, &data); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	outcome := &DeleteOutcome{}
	reported := make(map[string]bool, len(data.Results))
	for _, res := range data.Results {
		reported[res.File] = true
		if res.Success {
			outcome.Deleted = append(outcome.Deleted, res.File)
		} else {
			outcome.Failed = append(outcome.Failed, res.File)
		}
	}
	// Names the server did not report on count as failed.
	for _, name := range names {
		if !reported[name] {
			outcome.Failed = append(outcome.Failed, name)
		}
	}

	observability.SetSuccess(span)
	return outcome, nil
}

// ProbeReachable is a lightweight health check with a short timeout. It
// never returns an error; any failure is simply "not reachable".
func (c *Client) ProbeReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

// TakePicture asks the glasses to capture a photo.
func (c *Client) TakePicture(ctx context.Context) (string, error) {
	var data models.TakePictureData
	if err := c.postJSON(ctx, "/api/take-picture", nil, c.listTimeout, &data); err != nil {
		return "", err
	}
	return data.Message, nil
}

// Status fetches the glasses' content summary.
func (c *Client) Status(ctx context.Context) (*models.StatusData, error) {
	var data models.StatusData
	if err := c.getJSON(ctx, "/api/status", nil, c.listTimeout, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// getJSON performs a GET with envelope decoding and rate-limit retries.
func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, timeout time.Duration, out interface{}) error {
	return c.retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		u := c.BaseURL() + endpoint
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
		if err != nil {
			return models.NewProtocolError(endpoint, err.Error())
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return models.NewTransportError("GET "+endpoint, err)
		}
		defer resp.Body.Close()
		return decodeEnvelope(endpoint, resp, out)
	})
}

// postJSON performs a POST with envelope decoding and rate-limit retries.
func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, timeout time.Duration, out interface{}) error {
	return c.retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.BaseURL()+endpoint, strings.NewReader(string(body)))
		if err != nil {
			return models.NewProtocolError(endpoint, err.Error())
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return models.NewTransportError("POST "+endpoint, err)
		}
		defer resp.Body.Close()
		return decodeEnvelope(endpoint, resp, out)
	})
}

// decodeEnvelope maps HTTP status and the server's response envelope onto
// the error taxonomy, then unmarshals the data payload.
func decodeEnvelope(endpoint string, resp *http.Response, out interface{}) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &models.RateLimitError{Endpoint: endpoint, RetryAfter: parseRetryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return models.NewProtocolError(endpoint, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.NewProtocolError(endpoint, "malformed response: "+err.Error())
	}
	if env.Status != models.StatusSuccess {
		reason := env.Message
		if reason == "" {
			reason = "envelope status " + env.Status
		}
		return models.NewProtocolError(endpoint, reason)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return models.NewProtocolError(endpoint, "missing data payload")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return models.NewProtocolError(endpoint, "malformed data payload: "+err.Error())
	}
	return nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// fetchBinary streams one binary endpoint to disk via a temp file, sniffing
// the MIME type from the leading bytes. The rename only happens after the
// body is fully written, so a crash never leaves a truncated file behind
// under the final name.
func (c *Client) fetchBinary(ctx context.Context, endpoint, name, destPath string, expectedSize int64, onProgress func(int)) (int64, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	u := c.BaseURL() + endpoint + "?file=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", models.NewProtocolError(endpoint, err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", models.NewTransportError("GET "+endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, "", &models.RateLimitError{Endpoint: endpoint, RetryAfter: parseRetryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", models.NewProtocolError(endpoint, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	if expectedSize <= 0 {
		expectedSize = resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, "", models.NewStorageError("create media dir", err)
	}
	tmpPath := destPath + ".part"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, "", models.NewStorageError("create media file", err)
	}

	counter := &progressWriter{
		total:      expectedSize,
		onProgress: onProgress,
	}
	counter.emit(0)

	sniffer := newSniffer()
	written, err := io.Copy(io.MultiWriter(file, sniffer, counter), resp.Body)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = models.NewStorageError("close media file", cerr)
	}
	if err != nil {
		os.Remove(tmpPath)
		if models.IsStorage(err) {
			return 0, "", err
		}
		return 0, "", models.NewTransportError("download "+name, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", models.NewStorageError("finalize media file", err)
	}
	counter.emit(100)

	mime := resolveMimeType(resp.Header.Get("Content-Type"), sniffer.detect(), name)
	return written, mime, nil
}

// progressWriter throttles progress callbacks to one per 250ms, plus the
// forced 0 and 100 bookends.
type progressWriter struct {
	total      int64
	written    int64
	lastEmit   time.Time
	lastPct    int
	onProgress func(int)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		pct := int(w.written * 100 / w.total)
		if pct > 99 {
			pct = 99
		}
		if pct > w.lastPct && time.Since(w.lastEmit) >= 250*time.Millisecond {
			w.emit(pct)
		}
	}
	return len(p), nil
}

func (w *progressWriter) emit(pct int) {
	if w.onProgress == nil {
		return
	}
	w.lastPct = pct
	w.lastEmit = time.Now()
	w.onProgress(pct)
}

func recordToItem(base string, rec models.PhotoRecord) *models.MediaItem {
	item := &models.MediaItem{
		Name:       models.SanitizeMediaName(rec.Name),
		SizeBytes:  rec.Size,
		ModifiedAt: rec.ModifiedTime(),
		IsVideo:    rec.IsVideo || models.IsVideoFilename(rec.Name),
		MimeType:   rec.MimeType,
		RemoteRef: &models.RemoteRef{
			ViewURL:     base + rec.URL,
			DownloadURL: base + rec.DownloadURL,
		},
	}
	return item
}
