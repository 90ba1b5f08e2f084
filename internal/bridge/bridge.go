// Package bridge is the typed channel to the native shell that owns the
// Bluetooth and WiFi radios. Inbound events are a tagged union consumed by
// the sync engine; outbound commands are fire-and-forget requests to the
// shell. The engine never touches radio state directly.
package bridge

import "context"

// Event is an inbound message from the native shell.
type Event interface {
	isEvent()
}

// HotspotStatusEvent reports the glasses' hotspot radio state. Credentials
// are only present while the hotspot is up.
type HotspotStatusEvent struct {
	Enabled  bool   `json:"enabled"`
	SSID     string `json:"ssid,omitempty"`
	Password string `json:"password,omitempty"`
	LocalIP  string `json:"local_ip,omitempty"`
}

func (HotspotStatusEvent) isEvent() {}

// GalleryStatusEvent is the glasses' answer to a gallery-status query,
// delivered over the low-bandwidth Bluetooth link before any WiFi
// transport exists.
type GalleryStatusEvent struct {
	Photos     int  `json:"photos"`
	Videos     int  `json:"videos"`
	Total      int  `json:"total"`
	HasContent bool `json:"has_content"`
	CameraBusy bool `json:"camera_busy"`
}

func (GalleryStatusEvent) isEvent() {}

// WifiJoinResultEvent reports the outcome of a phone-side WiFi join
// attempt. UserCancelled distinguishes a declined OS prompt from a
// genuine failure.
type WifiJoinResultEvent struct {
	Joined        bool   `json:"joined"`
	UserCancelled bool   `json:"user_cancelled"`
	SSID          string `json:"ssid,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (WifiJoinResultEvent) isEvent() {}

// GlassesWifiStatusEvent reports the glasses' own WiFi association state,
// used by the connectivity monitor.
type GlassesWifiStatusEvent struct {
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid,omitempty"`
	GatewayIP string `json:"gateway_ip,omitempty"`
}

func (GlassesWifiStatusEvent) isEvent() {}

// Bridge sends commands to and receives events from the native shell.
type Bridge interface {
	// Events is the inbound event stream. Closed when the bridge shuts
	// down.
	Events() <-chan Event

	// SetHotspotState asks the glasses to raise or drop their hotspot.
	// Acceptance is acknowledged via a HotspotStatusEvent.
	SetHotspotState(ctx context.Context, enabled bool) error

	// QueryGalleryStatus asks the glasses for a content summary over
	// Bluetooth. Answered via a GalleryStatusEvent.
	QueryGalleryStatus(ctx context.Context) error

	// JoinWifi asks the phone OS to join the given network. Answered via
	// a WifiJoinResultEvent.
	JoinWifi(ctx context.Context, ssid, password string) error

	// Close tears the bridge down and closes the event stream.
	Close() error
}
