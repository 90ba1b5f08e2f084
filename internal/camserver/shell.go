package camserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/asgsync/gallery/internal/bridge"
	"github.com/asgsync/gallery/internal/observability"
)

// ShellSimulator emulates the native shell's side of the bridge protocol:
// it answers gallery-status queries from the library, grants hotspot
// requests instantly, and approves every WiFi join. Good enough to drive
// the engine through a full sync without hardware.
type ShellSimulator struct {
	lib      *Library
	hotspot  HotspotInfo
	upgrader websocket.Upgrader

	mu      sync.Mutex
	enabled bool
}

// HotspotInfo is the simulated hotspot's identity.
type HotspotInfo struct {
	SSID     string
	Password string
	LocalIP  string
}

// NewShellSimulator creates a simulator over the same library the camera
// server serves.
func NewShellSimulator(lib *Library, hotspot HotspotInfo) *ShellSimulator {
	return &ShellSimulator{
		lib:      lib,
		hotspot:  hotspot,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades the connection and runs the message loop.
func (s *ShellSimulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Warnf("Bridge upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	observability.Info("Bridge client connected")

	var writeMu sync.Mutex
	send := func(ev bridge.Event) {
		msg, err := bridge.EncodeEvent(ev)
		if err != nil {
			observability.Errorf("Failed to encode bridge event: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			observability.Warnf("Bridge write failed: %v", err)
		}
	}

	for {
		var msg bridge.Message
		if err := conn.ReadJSON(&msg); err != nil {
			observability.Info("Bridge client disconnected")
			return
		}
		s.handle(msg, send)
	}
}

func (s *ShellSimulator) handle(msg bridge.Message, send func(bridge.Event)) {
	switch msg.Type {
	case "query_gallery_status":
		photos, videos := s.lib.Counts()
		send(bridge.GalleryStatusEvent{
			Photos:     photos,
			Videos:     videos,
			Total:      photos + videos,
			HasContent: photos+videos > 0,
		})

	case "set_hotspot_state":
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			observability.Warnf("Bad set_hotspot_state payload: %v", err)
			return
		}
		s.mu.Lock()
		s.enabled = req.Enabled
		s.mu.Unlock()

		if req.Enabled {
			send(bridge.HotspotStatusEvent{
				Enabled:  true,
				SSID:     s.hotspot.SSID,
				Password: s.hotspot.Password,
				LocalIP:  s.hotspot.LocalIP,
			})
			send(bridge.GlassesWifiStatusEvent{
				Connected: true,
				SSID:      s.hotspot.SSID,
				GatewayIP: s.hotspot.LocalIP,
			})
		} else {
			send(bridge.HotspotStatusEvent{Enabled: false})
			send(bridge.GlassesWifiStatusEvent{Connected: false})
		}

	case "join_wifi":
		var req struct {
			SSID string `json:"ssid"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			observability.Warnf("Bad join_wifi payload: %v", err)
			return
		}
		send(bridge.WifiJoinResultEvent{Joined: true, SSID: req.SSID})

	default:
		observability.WithField("type", msg.Type).Warn("Unknown bridge command")
	}
}
