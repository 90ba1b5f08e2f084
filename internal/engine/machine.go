// Package engine drives the gallery sync lifecycle: query the glasses over
// Bluetooth, bring up a WiFi transport, load the remote catalog, run the
// batch sync, and tear the transport back down. All lifecycle decisions go
// through one explicit state machine with a single transition function.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/asgsync/gallery/internal/bridge"
	"github.com/asgsync/gallery/internal/catalog"
	"github.com/asgsync/gallery/internal/config"
	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/observability"
	"github.com/asgsync/gallery/internal/store"
)

// State is one phase of the sync lifecycle.
type State string

const (
	StateInitializing         State = "INITIALIZING"
	StateQueryingGlasses      State = "QUERYING_GLASSES"
	StateNoMediaOnGlasses     State = "NO_MEDIA_ON_GLASSES"
	StateMediaAvailable       State = "MEDIA_AVAILABLE"
	StateUserCancelledWifi    State = "USER_CANCELLED_WIFI"
	StateRequestingHotspot    State = "REQUESTING_HOTSPOT"
	StateWaitingForWifiPrompt State = "WAITING_FOR_WIFI_PROMPT"
	StateConnectingToHotspot  State = "CONNECTING_TO_HOTSPOT"
	StateConnectedLoading     State = "CONNECTED_LOADING"
	StateReadyToSync          State = "READY_TO_SYNC"
	StateSyncing              State = "SYNCING"
	StateSyncComplete         State = "SYNC_COMPLETE"
	StateError                State = "ERROR"
)

// validNext encodes every legal transition. Anything not listed is rejected
// and logged, never silently applied.
var validNext = map[State][]State{
	StateInitializing:         {StateQueryingGlasses, StateError},
	StateQueryingGlasses:      {StateNoMediaOnGlasses, StateMediaAvailable, StateConnectedLoading, StateError},
	StateNoMediaOnGlasses:     {StateQueryingGlasses, StateMediaAvailable, StateConnectedLoading, StateError},
	StateMediaAvailable:       {StateUserCancelledWifi},
	StateUserCancelledWifi:    {StateRequestingHotspot},
	StateRequestingHotspot:    {StateWaitingForWifiPrompt, StateError},
	StateWaitingForWifiPrompt: {StateConnectingToHotspot},
	StateConnectingToHotspot:  {StateConnectedLoading, StateUserCancelledWifi, StateError},
	StateConnectedLoading:     {StateReadyToSync, StateNoMediaOnGlasses, StateError},
	StateReadyToSync:          {StateSyncing, StateError},
	StateSyncing:              {StateSyncComplete, StateError},
	StateSyncComplete:         {StateNoMediaOnGlasses},
	StateError:                {StateRequestingHotspot, StateConnectedLoading},
}

// Catalog is the slice of the camera-server client the engine needs.
type Catalog interface {
	ListMedia(ctx context.Context, limit, offset int) (*catalog.MediaPage, error)
	FetchDeltaSince(ctx context.Context, clientID, checkpoint string, includeThumbnails bool) (*catalog.Delta, error)
	DownloadItem(ctx context.Context, req catalog.DownloadRequest) (*catalog.DownloadResult, error)
	DeleteRemote(ctx context.Context, names []string) (*catalog.DeleteOutcome, error)
}

// Store is the slice of the media store the engine needs.
type Store interface {
	EnsureStorageLayout() error
	Layout() *store.FileLayout
	ReadCheckpoint() (*models.SyncCheckpoint, error)
	WriteCheckpoint(update models.CheckpointUpdate) error
	SaveMediaMetadata(item *models.MediaItem) error
	GetAllMediaMetadata() (map[string]*models.MediaItem, error)
}

// Connectivity is the slice of the connectivity monitor the engine needs.
type Connectivity interface {
	State() models.ConnectivityState
	CheckConnectivity(ctx context.Context) models.ConnectivityState
	ReportGlassesStatus(wifiConnected bool, ssid, gatewayIP string)
	Subscribe(fn func(models.ConnectivityState)) func()
}

// Snapshot is the engine's externally visible state at one instant.
type Snapshot struct {
	State        State
	ErrorMessage string
	RemoteTotal  int
	GalleryTotal int
	CameraBusy   bool
	Progress     map[string]int
	LastBatch    *BatchResult
}

// Engine is the gallery sync state machine. External inputs arrive as bridge
// events (via Run), connectivity changes (via subscription), and user
// actions (RequestSync, Retry, EnsureVisible). Every input funnels into the
// same transition function.
type Engine struct {
	catalog Catalog
	store   Store
	conn    Connectivity
	bridge  bridge.Bridge
	cfg     config.Sync
	metrics *observability.SyncMetrics
	logger  *observability.Logger

	// Timing knobs, overridable in tests.
	completeDelay  time.Duration
	rateLimitDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error

	deviceModel string
	onChange    func(Snapshot)

	mu            sync.Mutex
	state         State
	errorMessage  string
	openedHotspot bool
	syncStarted   bool
	loadRetried   bool
	hotspotSSID   string
	hotspotPass   string
	galleryTotal  int
	cameraBusy    bool
	remoteTotal   int
	remoteItems   []*models.MediaItem
	loaded        rangeSet
	loading       rangeSet
	progress      map[string]int
	lastBatch     *BatchResult
	unsubConn     func()
	closed        bool
}

// NewEngine wires the engine to its collaborators. metrics may be nil.
func NewEngine(cat Catalog, st Store, conn Connectivity, br bridge.Bridge, cfg config.Sync, metrics *observability.SyncMetrics) *Engine {
	return &Engine{
		catalog:        cat,
		store:          st,
		conn:           conn,
		bridge:         br,
		cfg:            cfg,
		metrics:        metrics,
		logger:         observability.GetLogger(),
		completeDelay:  2 * time.Second,
		rateLimitDelay: 3 * time.Second,
		sleep:          sleepContext,
		state:          StateInitializing,
		progress:       make(map[string]int),
	}
}

// SetOnChange registers the UI notification callback. Must be set before
// Start.
func (e *Engine) SetOnChange(fn func(Snapshot)) {
	e.onChange = fn
}

// SetDeviceModel records the glasses model stamped onto downloaded items.
func (e *Engine) SetDeviceModel(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceModel = model
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the engine's externally visible state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	progress := make(map[string]int, len(e.progress))
	for k, v := range e.progress {
		progress[k] = v
	}
	return Snapshot{
		State:        e.state,
		ErrorMessage: e.errorMessage,
		RemoteTotal:  e.remoteTotal,
		GalleryTotal: e.galleryTotal,
		CameraBusy:   e.cameraBusy,
		Progress:     progress,
		LastBatch:    e.lastBatch,
	}
}

// transition applies a state change if it is legal, returning whether it was
// applied. Illegal transitions are logged and dropped; stale async work
// completing after the state moved on must never corrupt the machine.
func (e *Engine) transition(to State, errMsg string) bool {
	e.mu.Lock()
	from := e.state
	if !transitionAllowed(from, to) {
		e.mu.Unlock()
		e.logger.WithFields(map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		}).Warn("Rejected illegal state transition")
		return false
	}
	e.state = to
	e.errorMessage = errMsg
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}).Info("Sync state changed")

	e.notify(snap)
	return true
}

func transitionAllowed(from, to State) bool {
	if from == to {
		return false
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (e *Engine) notify(snap Snapshot) {
	if e.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("State change listener panicked: %v", r)
		}
	}()
	e.onChange(snap)
}

// fail moves the machine to ERROR with a user-facing message.
func (e *Engine) fail(msg string) {
	e.transition(StateError, msg)
}

// Start begins the lifecycle: prepare storage, watch connectivity, and ask
// the glasses what they have. If the camera server is already reachable the
// Bluetooth round trip is skipped and loading starts immediately.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.EnsureStorageLayout(); err != nil {
		e.fail("storage unavailable: " + err.Error())
		return err
	}

	e.mu.Lock()
	e.unsubConn = e.conn.Subscribe(func(st models.ConnectivityState) {
		e.onConnectivityChange(st)
	})
	e.mu.Unlock()

	if !e.transition(StateQueryingGlasses, "") {
		return nil
	}

	if e.conn.State().GalleryReachable {
		e.enterLoading(ctx)
		return nil
	}

	if err := e.bridge.QueryGalleryStatus(ctx); err != nil {
		e.logger.Warnf("Gallery status query failed: %v", err)
		e.fail("glasses unreachable over bluetooth")
		return err
	}
	return nil
}

// Run consumes bridge events until the stream closes or the context ends.
// Intended to run on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.bridge.Events():
			if !ok {
				return
			}
			e.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent dispatches one inbound bridge event into the state machine.
func (e *Engine) HandleEvent(ctx context.Context, ev bridge.Event) {
	switch ev := ev.(type) {
	case bridge.GalleryStatusEvent:
		e.handleGalleryStatus(ev)
	case bridge.HotspotStatusEvent:
		e.handleHotspotStatus(ctx, ev)
	case bridge.WifiJoinResultEvent:
		e.handleWifiJoinResult(ctx, ev)
	case bridge.GlassesWifiStatusEvent:
		e.conn.ReportGlassesStatus(ev.Connected, ev.SSID, ev.GatewayIP)
	default:
		e.logger.Warnf("Unhandled bridge event %T", ev)
	}
}

func (e *Engine) handleGalleryStatus(ev bridge.GalleryStatusEvent) {
	e.mu.Lock()
	e.galleryTotal = ev.Total
	e.cameraBusy = ev.CameraBusy
	state := e.state
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(snap)

	if state != StateQueryingGlasses && state != StateNoMediaOnGlasses {
		return
	}
	if !ev.HasContent {
		e.transition(StateNoMediaOnGlasses, "")
		return
	}
	// Content exists; surface the tap-to-connect prompt instead of forcing a
	// join attempt. MEDIA_AVAILABLE is a pass-through state.
	if e.transition(StateMediaAvailable, "") {
		e.transition(StateUserCancelledWifi, "")
	}
}

// handleHotspotStatus reacts to the hotspot coming up: record the
// credentials, move to CONNECTING_TO_HOTSPOT, and ask the phone to join.
func (e *Engine) handleHotspotStatus(ctx context.Context, ev bridge.HotspotStatusEvent) {
	if !ev.Enabled {
		return
	}

	e.mu.Lock()
	e.hotspotSSID = ev.SSID
	e.hotspotPass = ev.Password
	state := e.state
	e.mu.Unlock()

	if ev.LocalIP != "" {
		e.conn.ReportGlassesStatus(true, ev.SSID, ev.LocalIP)
	}
	if state == StateRequestingHotspot {
		// The hotspot came up before the enable acknowledgement settled;
		// pass through the waiting state so the UI sequence stays intact.
		if !e.transition(StateWaitingForWifiPrompt, "") {
			return
		}
	} else if state != StateWaitingForWifiPrompt {
		return
	}
	if !e.transition(StateConnectingToHotspot, "") {
		return
	}
	if err := e.bridge.JoinWifi(ctx, ev.SSID, ev.Password); err != nil {
		e.fail("wifi join request failed: " + err.Error())
	}
}

// handleWifiJoinResult resolves CONNECTING_TO_HOTSPOT: a cancelled OS prompt
// returns to the tap-to-connect state, a failed join errors, and a
// successful join still waits for the camera server to answer a probe
// before loading.
func (e *Engine) handleWifiJoinResult(ctx context.Context, ev bridge.WifiJoinResultEvent) {
	switch {
	case ev.UserCancelled:
		e.transition(StateUserCancelledWifi, "")
	case !ev.Joined:
		msg := ev.Error
		if msg == "" {
			msg = "wifi join failed"
		}
		e.fail(msg)
	default:
		if st := e.conn.CheckConnectivity(ctx); st.GalleryReachable {
			e.enterLoading(ctx)
		}
	}
}

// onConnectivityChange reacts to reachability flips. Becoming reachable
// while connecting finishes the handshake; anything else is informational.
func (e *Engine) onConnectivityChange(st models.ConnectivityState) {
	if !st.GalleryReachable {
		return
	}
	e.mu.Lock()
	connecting := e.state == StateConnectingToHotspot
	e.mu.Unlock()
	if connecting {
		e.enterLoading(context.Background())
	}
}

// RequestSync is the user tapping the sync prompt. It asks the glasses to
// raise their hotspot and records that this engine owns the transport.
func (e *Engine) RequestSync(ctx context.Context) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateUserCancelledWifi {
		e.logger.WithField("state", string(state)).Warn("Sync request ignored in current state")
		return
	}
	e.requestHotspot(ctx)
}

// requestHotspot enters REQUESTING_HOTSPOT, issues the hotspot-enable
// command, and advances to WAITING_FOR_WIFI_PROMPT once the command is
// accepted. The hotspot-up event itself arrives later over the bridge.
func (e *Engine) requestHotspot(ctx context.Context) {
	if !e.transition(StateRequestingHotspot, "") {
		return
	}

	e.mu.Lock()
	e.openedHotspot = true
	e.mu.Unlock()

	if err := e.bridge.SetHotspotState(ctx, true); err != nil {
		e.fail("hotspot request failed: " + err.Error())
		return
	}
	e.transition(StateWaitingForWifiPrompt, "")
}

// Retry re-enters the flow after an ERROR. If the camera server is already
// reachable it resumes at loading; otherwise it restarts the transport
// handshake.
func (e *Engine) Retry(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateError {
		e.mu.Unlock()
		return
	}
	e.loadRetried = false
	e.syncStarted = false
	e.mu.Unlock()

	if e.conn.CheckConnectivity(ctx).GalleryReachable {
		e.enterLoading(ctx)
		return
	}
	e.requestHotspot(ctx)
}

// enterLoading transitions to CONNECTED_LOADING and fetches the first page
// on a fresh goroutine.
func (e *Engine) enterLoading(ctx context.Context) {
	if !e.transition(StateConnectedLoading, "") {
		return
	}
	go e.loadFirstPage(ctx)
}

// loadFirstPage fetches page zero of the remote catalog. A rate-limited
// server gets one automatic retry after a pause; any other failure is
// terminal until the user retries.
func (e *Engine) loadFirstPage(ctx context.Context) {
	ctx, span := observability.StartEngineSpan(ctx, "load_gallery")
	defer span.End()

	page, err := e.catalog.ListMedia(ctx, e.cfg.PageSize, 0)
	if err != nil && models.IsRateLimit(err) {
		e.mu.Lock()
		retried := e.loadRetried
		e.loadRetried = true
		e.mu.Unlock()
		if !retried {
			e.logger.Info("Camera server busy, retrying gallery load")
			if e.sleep(ctx, e.rateLimitDelay) == nil {
				page, err = e.catalog.ListMedia(ctx, e.cfg.PageSize, 0)
			}
		}
	}
	if err != nil {
		observability.RecordError(span, err)
		e.fail("gallery load failed: " + err.Error())
		return
	}

	if page.TotalCount == 0 {
		e.transition(StateNoMediaOnGlasses, "")
		return
	}

	e.mu.Lock()
	e.remoteTotal = page.TotalCount
	e.remoteItems = make([]*models.MediaItem, page.TotalCount)
	e.loaded = rangeSet{}
	e.loading = rangeSet{}
	for i, item := range page.Items {
		if i < len(e.remoteItems) {
			e.remoteItems[i] = item
		}
	}
	e.loaded.add(0, min(len(page.Items), page.TotalCount))
	e.mu.Unlock()

	observability.SetSuccess(span)
	if !e.transition(StateReadyToSync, "") {
		return
	}
	e.StartSync(ctx)
}

// StartSync launches the batch sync exactly once per connection. Re-entrant
// calls while a sync is running or already finished are no-ops.
func (e *Engine) StartSync(ctx context.Context) {
	e.mu.Lock()
	if e.syncStarted {
		e.mu.Unlock()
		return
	}
	e.syncStarted = true
	e.mu.Unlock()

	if !e.transition(StateSyncing, "") {
		e.mu.Lock()
		e.syncStarted = false
		e.mu.Unlock()
		return
	}
	go e.runSync(ctx)
}

// MergedList returns the current gallery view: remote items merged with
// downloaded metadata per the reconciliation rules.
func (e *Engine) MergedList() ([]DisplayItem, error) {
	local, err := e.store.GetAllMediaMetadata()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	remote := make(map[string]*models.MediaItem, len(e.remoteItems))
	for _, item := range e.remoteItems {
		if item != nil {
			remote[item.Name] = item
		}
	}
	e.mu.Unlock()

	return MergeMedia(remote, local), nil
}

// Close tears the engine down. The hotspot is dropped if and only if this
// engine raised it; the teardown attempt happens regardless of how the
// session went.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	opened := e.openedHotspot
	e.openedHotspot = false
	unsub := e.unsubConn
	e.unsubConn = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if opened {
		if err := e.bridge.SetHotspotState(ctx, false); err != nil {
			e.logger.Warnf("Hotspot teardown failed: %v", err)
		} else {
			e.logger.Info("Hotspot torn down")
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
