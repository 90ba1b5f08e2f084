package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgsync/gallery/internal/bridge"
	"github.com/asgsync/gallery/internal/catalog"
	"github.com/asgsync/gallery/internal/config"
	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/store"
)

// eventLog records cross-fake operations in order so tests can assert
// sequencing guarantees.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) record(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *eventLog) indexOf(entry string) int {
	for i, e := range l.snapshot() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeCatalog struct {
	log *eventLog

	mu          sync.Mutex
	items       []*models.MediaItem
	listCalls   []span
	listErrOnce error
	deltaErr    error
	deltaCalls  int
	downloadErr map[string]error
	serverTime  string
}

func (c *fakeCatalog) ListMedia(ctx context.Context, limit, offset int) (*catalog.MediaPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls = append(c.listCalls, span{Start: offset, End: offset + limit})

	if c.listErrOnce != nil {
		err := c.listErrOnce
		c.listErrOnce = nil
		return nil, err
	}

	total := len(c.items)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	return &catalog.MediaPage{
		Items:      append([]*models.MediaItem(nil), c.items[offset:end]...),
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

func (c *fakeCatalog) listCallsSnapshot() []span {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]span(nil), c.listCalls...)
}

func (c *fakeCatalog) FetchDeltaSince(ctx context.Context, clientID, checkpoint string, includeThumbnails bool) (*catalog.Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltaCalls++
	if c.deltaErr != nil {
		return nil, c.deltaErr
	}
	return &catalog.Delta{
		ChangedItems:  append([]*models.MediaItem(nil), c.items...),
		NewCheckpoint: c.serverTime,
		TotalChanged:  len(c.items),
	}, nil
}

func (c *fakeCatalog) DownloadItem(ctx context.Context, req catalog.DownloadRequest) (*catalog.DownloadResult, error) {
	c.mu.Lock()
	err := c.downloadErr[req.Name]
	c.mu.Unlock()
	if err != nil {
		c.log.record("download_failed:%s", req.Name)
		return nil, err
	}
	c.log.record("download:%s", req.Name)
	return &catalog.DownloadResult{LocalPath: req.MediaPath, Bytes: 100, MimeType: "image/jpeg"}, nil
}

func (c *fakeCatalog) DeleteRemote(ctx context.Context, names []string) (*catalog.DeleteOutcome, error) {
	for _, name := range names {
		c.log.record("remote_delete:%s", name)
	}
	return &catalog.DeleteOutcome{Deleted: names}, nil
}

type fakeStore struct {
	log    *eventLog
	layout *store.FileLayout

	mu         sync.Mutex
	saved      map[string]*models.MediaItem
	checkpoint models.SyncCheckpoint
	cpWrites   []models.CheckpointUpdate
	writeErr   error
}

func (s *fakeStore) EnsureStorageLayout() error { return nil }
func (s *fakeStore) Layout() *store.FileLayout  { return s.layout }

func (s *fakeStore) ReadCheckpoint() (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.checkpoint
	cp.ClientID = "client-1"
	return &cp, nil
}

func (s *fakeStore) WriteCheckpoint(update models.CheckpointUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.checkpoint.Apply(update)
	s.cpWrites = append(s.cpWrites, update)
	s.log.record("checkpoint")
	return nil
}

func (s *fakeStore) SaveMediaMetadata(item *models.MediaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[item.Name] = item
	s.log.record("save:%s", item.Name)
	return nil
}

func (s *fakeStore) GetAllMediaMetadata() (map[string]*models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.MediaItem, len(s.saved))
	for k, v := range s.saved {
		out[k] = v
	}
	return out, nil
}

type fakeConn struct {
	mu        sync.Mutex
	reachable bool
	subs      []func(models.ConnectivityState)
}

func (c *fakeConn) State() models.ConnectivityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ConnectivityState{GalleryReachable: c.reachable}
}

func (c *fakeConn) CheckConnectivity(ctx context.Context) models.ConnectivityState {
	return c.State()
}

func (c *fakeConn) ReportGlassesStatus(wifiConnected bool, ssid, gatewayIP string) {}

func (c *fakeConn) Subscribe(fn func(models.ConnectivityState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	return func() {}
}

func (c *fakeConn) setReachable(reachable bool) {
	c.mu.Lock()
	c.reachable = reachable
	subs := append(([]func(models.ConnectivityState))(nil), c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(models.ConnectivityState{GalleryReachable: reachable})
	}
}

type fakeBridge struct {
	mu       sync.Mutex
	events   chan bridge.Event
	commands []string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{events: make(chan bridge.Event, 16)}
}

func (b *fakeBridge) Events() <-chan bridge.Event { return b.events }

func (b *fakeBridge) SetHotspotState(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, fmt.Sprintf("hotspot:%v", enabled))
	return nil
}

func (b *fakeBridge) QueryGalleryStatus(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, "query_gallery")
	return nil
}

func (b *fakeBridge) JoinWifi(ctx context.Context, ssid, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, "join:"+ssid)
	return nil
}

func (b *fakeBridge) Close() error { return nil }

func (b *fakeBridge) commandList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

type testRig struct {
	engine *Engine
	cat    *fakeCatalog
	store  *fakeStore
	conn   *fakeConn
	bridge *fakeBridge
	log    *eventLog
}

func newTestRig(t *testing.T, items []*models.MediaItem) *testRig {
	t.Helper()

	log := &eventLog{}
	layout, err := store.NewFileLayout(t.TempDir())
	require.NoError(t, err)

	cat := &fakeCatalog{
		log:         log,
		items:       items,
		downloadErr: make(map[string]error),
		serverTime:  "2026-03-01 12:00:00",
	}
	st := &fakeStore{log: log, layout: layout, saved: make(map[string]*models.MediaItem)}
	conn := &fakeConn{}
	br := newFakeBridge()

	eng := NewEngine(cat, st, conn, br, config.Sync{PageSize: 20, PrefetchMargin: 5, IncludeThumbnails: true}, nil)
	eng.completeDelay = time.Millisecond
	eng.rateLimitDelay = time.Millisecond

	return &testRig{engine: eng, cat: cat, store: st, conn: conn, bridge: br, log: log}
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.State() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, e.State())
}

func syntheticItems(n int) []*models.MediaItem {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := make([]*models.MediaItem, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("IMG_%03d.jpg", n-i)
		items = append(items, &models.MediaItem{
			Name:       name,
			SizeBytes:  100,
			ModifiedAt: base.Add(-time.Duration(i) * time.Minute),
			RemoteRef:  &models.RemoteRef{ViewURL: "/api/photo?file=" + name},
		})
	}
	return items
}

func TestEngineFullLifecycle(t *testing.T) {
	rig := newTestRig(t, syntheticItems(3))
	ctx := context.Background()

	require.NoError(t, rig.engine.Start(ctx))
	assert.Equal(t, StateQueryingGlasses, rig.engine.State())
	assert.Contains(t, rig.bridge.commandList(), "query_gallery")

	rig.engine.HandleEvent(ctx, bridge.GalleryStatusEvent{Total: 3, HasContent: true})
	assert.Equal(t, StateUserCancelledWifi, rig.engine.State())

	rig.engine.RequestSync(ctx)
	assert.Equal(t, StateWaitingForWifiPrompt, rig.engine.State())
	assert.Contains(t, rig.bridge.commandList(), "hotspot:true")

	rig.engine.HandleEvent(ctx, bridge.HotspotStatusEvent{
		Enabled: true, SSID: "ASG-Hotspot", Password: "secret", LocalIP: "192.168.4.1",
	})
	assert.Equal(t, StateConnectingToHotspot, rig.engine.State())
	assert.Contains(t, rig.bridge.commandList(), "join:ASG-Hotspot")

	rig.conn.setReachable(true)
	rig.engine.HandleEvent(ctx, bridge.WifiJoinResultEvent{Joined: true, SSID: "ASG-Hotspot"})

	// Loading, sync, and completion all proceed without further input.
	waitForState(t, rig.engine, StateNoMediaOnGlasses)

	entries := rig.log.snapshot()
	for _, name := range []string{"IMG_001.jpg", "IMG_002.jpg", "IMG_003.jpg"} {
		dl := rig.log.indexOf("download:" + name)
		save := rig.log.indexOf("save:" + name)
		del := rig.log.indexOf("remote_delete:" + name)
		require.GreaterOrEqual(t, dl, 0, "missing download for %s", name)
		require.GreaterOrEqual(t, save, 0, "missing save for %s", name)
		require.GreaterOrEqual(t, del, 0, "missing remote delete for %s", name)
		assert.Less(t, dl, save, "%s saved before downloaded", name)
		assert.Less(t, save, del, "%s deleted remotely before local save", name)
	}

	cpIdx := rig.log.indexOf("checkpoint")
	require.GreaterOrEqual(t, cpIdx, 0)
	assert.Equal(t, len(entries)-1, cpIdx, "checkpoint must be the final operation")

	require.Len(t, rig.store.cpWrites, 1)
	require.NotNil(t, rig.store.cpWrites[0].LastSyncTime)
	assert.Equal(t, "2026-03-01 12:00:00", *rig.store.cpWrites[0].LastSyncTime)
	assert.Equal(t, int64(3), rig.store.cpWrites[0].DownloadedCount)
	assert.Equal(t, int64(300), rig.store.cpWrites[0].DownloadedBytes)

	// The engine raised the hotspot, so it must drop it.
	assert.Contains(t, rig.bridge.commandList(), "hotspot:false")
}

func TestEngineHandshakeStateSequence(t *testing.T) {
	rig := newTestRig(t, syntheticItems(1))
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	rig.engine.SetOnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != snap.State {
			states = append(states, snap.State)
		}
	})

	require.NoError(t, rig.engine.Start(ctx))
	rig.engine.HandleEvent(ctx, bridge.GalleryStatusEvent{Total: 1, HasContent: true})
	rig.engine.RequestSync(ctx)
	rig.engine.HandleEvent(ctx, bridge.HotspotStatusEvent{
		Enabled: true, SSID: "net", Password: "pw", LocalIP: "192.168.4.1",
	})
	rig.conn.setReachable(true)
	rig.engine.HandleEvent(ctx, bridge.WifiJoinResultEvent{Joined: true, SSID: "net"})
	waitForState(t, rig.engine, StateNoMediaOnGlasses)

	// MEDIA_AVAILABLE immediately hands off to the tap-to-connect prompt,
	// and every transport phase gets its own state in order.
	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()
	assert.Equal(t, []State{
		StateQueryingGlasses,
		StateMediaAvailable,
		StateUserCancelledWifi,
		StateRequestingHotspot,
		StateWaitingForWifiPrompt,
		StateConnectingToHotspot,
		StateConnectedLoading,
		StateReadyToSync,
		StateSyncing,
		StateSyncComplete,
		StateNoMediaOnGlasses,
	}, got)
}

func TestEngineNoContentOnGlasses(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.engine.Start(ctx))
	rig.engine.HandleEvent(ctx, bridge.GalleryStatusEvent{HasContent: false})
	assert.Equal(t, StateNoMediaOnGlasses, rig.engine.State())
}

func TestEngineEmptyGalleryAfterConnect(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// Already reachable: the Bluetooth round trip is skipped entirely.
	rig.conn.setReachable(true)
	require.NoError(t, rig.engine.Start(ctx))

	waitForState(t, rig.engine, StateNoMediaOnGlasses)
	assert.Zero(t, rig.cat.deltaCalls, "an empty gallery must not trigger a sync")
}

func TestEngineUserCancelledWifi(t *testing.T) {
	rig := newTestRig(t, syntheticItems(1))
	ctx := context.Background()

	require.NoError(t, rig.engine.Start(ctx))
	rig.engine.HandleEvent(ctx, bridge.GalleryStatusEvent{HasContent: true})
	rig.engine.RequestSync(ctx)
	rig.engine.HandleEvent(ctx, bridge.HotspotStatusEvent{Enabled: true, SSID: "net", Password: "pw"})
	assert.Equal(t, StateConnectingToHotspot, rig.engine.State())

	rig.engine.HandleEvent(ctx, bridge.WifiJoinResultEvent{Joined: false, UserCancelled: true})
	assert.Equal(t, StateUserCancelledWifi, rig.engine.State())

	// The user can tap the prompt again.
	rig.engine.RequestSync(ctx)
	assert.Equal(t, StateWaitingForWifiPrompt, rig.engine.State())
}

func TestEngineRateLimitedLoadRetriesOnce(t *testing.T) {
	rig := newTestRig(t, syntheticItems(2))
	rig.cat.listErrOnce = &models.RateLimitError{Endpoint: "/api/gallery"}
	ctx := context.Background()

	rig.conn.setReachable(true)
	require.NoError(t, rig.engine.Start(ctx))

	waitForState(t, rig.engine, StateNoMediaOnGlasses)
	assert.GreaterOrEqual(t, len(rig.cat.listCallsSnapshot()), 2, "rate-limited load must be retried")
}

func TestEnginePartialBatchFailure(t *testing.T) {
	rig := newTestRig(t, syntheticItems(3))
	rig.cat.downloadErr["IMG_002.jpg"] = errors.New("connection reset")
	ctx := context.Background()

	rig.conn.setReachable(true)
	require.NoError(t, rig.engine.Start(ctx))
	waitForState(t, rig.engine, StateNoMediaOnGlasses)

	snap := rig.engine.Snapshot()
	require.NotNil(t, snap.LastBatch)
	assert.ElementsMatch(t, []string{"IMG_001.jpg", "IMG_003.jpg"}, snap.LastBatch.Downloaded)
	assert.Contains(t, snap.LastBatch.Failed, "IMG_002.jpg")
	assert.False(t, snap.LastBatch.Complete())

	// The failed file keeps its remote copy and the checkpoint still moves,
	// so the next delta offers it again.
	assert.Equal(t, -1, rig.log.indexOf("remote_delete:IMG_002.jpg"))
	require.Len(t, rig.store.cpWrites, 1)
	assert.Equal(t, int64(2), rig.store.cpWrites[0].DownloadedCount)
}

func TestEngineSyncRunsOncePerConnection(t *testing.T) {
	rig := newTestRig(t, syntheticItems(2))
	ctx := context.Background()

	rig.conn.setReachable(true)
	require.NoError(t, rig.engine.Start(ctx))

	// Hammer the trigger while the cycle runs.
	for i := 0; i < 5; i++ {
		rig.engine.StartSync(ctx)
	}
	waitForState(t, rig.engine, StateNoMediaOnGlasses)
	assert.Equal(t, 1, rig.cat.deltaCalls)
}

func TestEngineDeltaFailureThenRetry(t *testing.T) {
	rig := newTestRig(t, syntheticItems(1))
	rig.cat.deltaErr = errors.New("camera server gone")
	ctx := context.Background()

	rig.conn.setReachable(true)
	require.NoError(t, rig.engine.Start(ctx))
	waitForState(t, rig.engine, StateError)
	assert.NotEmpty(t, rig.engine.Snapshot().ErrorMessage)

	rig.cat.mu.Lock()
	rig.cat.deltaErr = nil
	rig.cat.mu.Unlock()

	rig.engine.Retry(ctx)
	waitForState(t, rig.engine, StateNoMediaOnGlasses)
	assert.Equal(t, 2, rig.cat.deltaCalls)
}

func TestEngineIllegalTransitionsRejected(t *testing.T) {
	rig := newTestRig(t, nil)

	assert.False(t, rig.engine.transition(StateSyncing, ""), "INITIALIZING cannot jump to SYNCING")
	assert.Equal(t, StateInitializing, rig.engine.State())

	assert.False(t, rig.engine.transition(StateInitializing, ""), "self transition is rejected")
}

func TestEngineCloseTearsDownOwnedHotspot(t *testing.T) {
	rig := newTestRig(t, syntheticItems(1))
	ctx := context.Background()

	require.NoError(t, rig.engine.Start(ctx))
	rig.engine.HandleEvent(ctx, bridge.GalleryStatusEvent{HasContent: true})
	rig.engine.RequestSync(ctx)

	rig.engine.Close(ctx)
	assert.Contains(t, rig.bridge.commandList(), "hotspot:false")

	// Idempotent: closing again sends nothing new.
	before := len(rig.bridge.commandList())
	rig.engine.Close(ctx)
	assert.Len(t, rig.bridge.commandList(), before)
}

func TestEngineCloseWithoutOwnedHotspot(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.engine.Start(ctx))
	rig.engine.Close(ctx)
	assert.NotContains(t, rig.bridge.commandList(), "hotspot:false")
}
