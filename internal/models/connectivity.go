package models

import "time"

// ConnectivityState is the merged view of phone-side and glasses-side
// network state. It is derived, never persisted. GalleryReachable is only
// ever set by an explicit probe against the camera server, not inferred
// from SSID comparison.
type ConnectivityState struct {
	PhoneWifiConnected    bool      `json:"phoneWifiConnected"`
	PhoneSSID             string    `json:"phoneSsid,omitempty"`
	GlassesWifiConnected  bool      `json:"glassesWifiConnected"`
	GlassesSSID           string    `json:"glassesSsid,omitempty"`
	GlassesGatewayIP      string    `json:"glassesGatewayIp,omitempty"`
	GalleryReachable      bool      `json:"galleryReachable"`
	LikelyPersonalHotspot bool      `json:"likelyPersonalHotspot"`
	CheckedAt             time.Time `json:"checkedAt"`
}

// OnSameNetwork reports whether the warning about the phone and glasses
// being on different networks should be suppressed. A personal-hotspot
// match counts: the phone hosting the hotspot reports no SSID of its own.
func (s ConnectivityState) OnSameNetwork() bool {
	if s.LikelyPersonalHotspot {
		return true
	}
	return s.PhoneWifiConnected && s.GlassesWifiConnected && s.PhoneSSID != "" && s.PhoneSSID == s.GlassesSSID
}
