// Package connectivity is the single source of truth for "can we reach the
// glasses' camera server right now". It merges phone-side network events
// with glasses-side status pushed from the native bridge, and verifies
// reachability with an active probe rather than trusting SSID comparison.
package connectivity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/asgsync/gallery/internal/models"
	"github.com/asgsync/gallery/internal/observability"
)

// PhoneNetwork is the phone-side network snapshot delivered by the host
// platform.
type PhoneNetwork struct {
	Connected   bool
	SSID        string
	HasInternet bool
}

// PhoneNetworkSource abstracts the platform's network-state feed.
type PhoneNetworkSource interface {
	// Current returns the present phone network state.
	Current(ctx context.Context) (PhoneNetwork, error)
	// Subscribe registers a change callback and returns an unsubscribe
	// function.
	Subscribe(fn func(PhoneNetwork)) (unsubscribe func())
}

// Prober checks whether the camera server answers, and can be repointed
// when the glasses' gateway IP changes.
type Prober interface {
	ProbeReachable(ctx context.Context) bool
	SetEndpoint(host string, port int) bool
}

// hotspotHints are SSID substrings that indicate a personal hotspot. When
// the phone hosts the hotspot it reports no SSID of its own, which would
// otherwise trigger a false "different networks" warning.
var hotspotHints = []string{"hotspot", "iphone", "android", "phone", "mobile"}

// Monitor tracks connectivity and fans out state changes to subscribers.
type Monitor struct {
	prober     Prober
	phone      PhoneNetworkSource
	cameraPort int
	metrics    *observability.SyncMetrics

	mu            sync.Mutex
	state         models.ConnectivityState
	subscribers   map[int]func(models.ConnectivityState)
	nextSubID     int
	probeInFlight bool
	started       bool
	unsubscribe   func()
}

// NewMonitor creates a Monitor. metrics may be nil.
func NewMonitor(prober Prober, phone PhoneNetworkSource, cameraPort int, metrics *observability.SyncMetrics) *Monitor {
	return &Monitor{
		prober:      prober,
		phone:       phone,
		cameraPort:  cameraPort,
		metrics:     metrics,
		subscribers: make(map[int]func(models.ConnectivityState)),
	}
}

// Start subscribes to phone network-change events and performs one
// immediate check. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.unsubscribe = m.phone.Subscribe(func(PhoneNetwork) {
		m.CheckConnectivity(context.Background())
	})

	m.CheckConnectivity(ctx)
	observability.Info("Connectivity monitor started")
}

// Stop unsubscribes from phone network events.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	observability.Info("Connectivity monitor stopped")
}

// State returns the last computed connectivity state.
func (m *Monitor) State() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a state-change callback and returns an unsubscribe
// function. Callbacks are recovered per listener so one bad subscriber
// cannot break the rest.
func (m *Monitor) Subscribe(fn func(models.ConnectivityState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// ReportGlassesStatus is pushed by the native bridge whenever the glasses'
// WiFi state changes. A change to connected-state or SSID triggers a
// reachability re-probe.
func (m *Monitor) ReportGlassesStatus(wifiConnected bool, ssid, gatewayIP string) {
	m.mu.Lock()
	changed := m.state.GlassesWifiConnected != wifiConnected || m.state.GlassesSSID != ssid
	m.state.GlassesWifiConnected = wifiConnected
	m.state.GlassesSSID = ssid
	m.state.GlassesGatewayIP = gatewayIP
	m.mu.Unlock()

	if gatewayIP != "" {
		if m.prober.SetEndpoint(gatewayIP, m.cameraPort) {
			observability.WithField("gateway_ip", gatewayIP).Info("Camera endpoint repointed")
		}
	}

	if changed {
		m.CheckConnectivity(context.Background())
	}
}

// CheckConnectivity re-evaluates the merged state: reads the phone network,
// probes the camera server if the glasses are connected and an IP is
// known, and notifies subscribers of the result. Probes are serialized via
// an in-flight guard; an overlapping call returns the current snapshot
// without launching a second probe.
func (m *Monitor) CheckConnectivity(ctx context.Context) models.ConnectivityState {
	m.mu.Lock()
	if m.probeInFlight {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.probeInFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.probeInFlight = false
		m.mu.Unlock()
	}()

	phone, err := m.phone.Current(ctx)
	if err != nil {
		observability.Warnf("Phone network state unavailable: %v", err)
		phone = PhoneNetwork{}
	}

	m.mu.Lock()
	glassesConnected := m.state.GlassesWifiConnected
	glassesSSID := m.state.GlassesSSID
	gatewayIP := m.state.GlassesGatewayIP
	m.mu.Unlock()

	reachable := false
	if glassesConnected && gatewayIP != "" {
		reachable = m.prober.ProbeReachable(ctx)
		if m.metrics != nil {
			m.metrics.RecordProbe(ctx, reachable)
		}
	}

	m.mu.Lock()
	m.state.PhoneWifiConnected = phone.Connected
	m.state.PhoneSSID = phone.SSID
	m.state.GalleryReachable = reachable
	m.state.LikelyPersonalHotspot = isLikelyPersonalHotspot(phone, glassesSSID)
	m.state.CheckedAt = time.Now()
	state := m.state
	subs := make([]func(models.ConnectivityState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		m.notify(fn, state)
	}
	return state
}

func (m *Monitor) notify(fn func(models.ConnectivityState), state models.ConnectivityState) {
	defer func() {
		if r := recover(); r != nil {
			observability.Errorf("Connectivity subscriber panicked: %v", r)
		}
	}()
	fn(state)
}

// isLikelyPersonalHotspot applies the hotspot heuristic: the phone reports
// general connectivity but no SSID of its own, and the glasses' SSID looks
// like a phone-hosted network.
func isLikelyPersonalHotspot(phone PhoneNetwork, glassesSSID string) bool {
	if phone.SSID != "" || !phone.HasInternet || glassesSSID == "" {
		return false
	}
	lower := strings.ToLower(glassesSSID)
	for _, hint := range hotspotHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
