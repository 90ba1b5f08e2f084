package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asgsync/gallery/internal/observability"
)

// Message is the wire envelope shared with the native shell.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire message types.
const (
	msgSetHotspotState      = "set_hotspot_state"
	msgQueryGalleryStatus   = "query_gallery_status"
	msgJoinWifi             = "join_wifi"
	msgHotspotStatusChanged = "hotspot_status_changed"
	msgGalleryStatus        = "gallery_status"
	msgWifiJoinResult       = "wifi_join_result"
	msgGlassesWifiStatus    = "glasses_wifi_status"
)

// WSBridge is a Bridge over a WebSocket connection to the native shell.
type WSBridge struct {
	conn    *websocket.Conn
	events  chan Event
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to the native shell's bridge endpoint and starts the
// event reader.
func DialWS(ctx context.Context, url string) (*WSBridge, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", url, err)
	}

	b := &WSBridge{
		conn:   conn,
		events: make(chan Event, 32),
		closed: make(chan struct{}),
	}
	go b.readLoop()

	observability.WithField("url", url).Info("Native bridge connected")
	return b, nil
}

// Events returns the inbound event stream.
func (b *WSBridge) Events() <-chan Event {
	return b.events
}

// SetHotspotState asks the glasses to raise or drop their hotspot.
func (b *WSBridge) SetHotspotState(ctx context.Context, enabled bool) error {
	return b.send(ctx, msgSetHotspotState, map[string]bool{"enabled": enabled})
}

// QueryGalleryStatus asks for the glasses' content summary.
func (b *WSBridge) QueryGalleryStatus(ctx context.Context) error {
	return b.send(ctx, msgQueryGalleryStatus, nil)
}

// JoinWifi asks the phone OS to join the given network.
func (b *WSBridge) JoinWifi(ctx context.Context, ssid, password string) error {
	return b.send(ctx, msgJoinWifi, map[string]string{"ssid": ssid, "password": password})
}

// Close shuts down the connection and the event stream.
func (b *WSBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.conn.Close()
	})
	return err
}

func (b *WSBridge) send(ctx context.Context, msgType string, payload interface{}) error {
	select {
	case <-b.closed:
		return fmt.Errorf("bridge closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = data
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		b.conn.SetWriteDeadline(deadline)
	} else {
		b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	return b.conn.WriteJSON(msg)
}

func (b *WSBridge) readLoop() {
	defer close(b.events)

	for {
		var msg Message
		if err := b.conn.ReadJSON(&msg); err != nil {
			select {
			case <-b.closed:
			default:
				observability.Warnf("Native bridge read failed: %v", err)
				b.Close()
			}
			return
		}

		event, err := DecodeEvent(msg)
		if err != nil {
			observability.WithField("type", msg.Type).Warnf("Dropping bridge message: %v", err)
			continue
		}
		if event == nil {
			continue
		}

		select {
		case b.events <- event:
		case <-b.closed:
			return
		}
	}
}

// DecodeEvent converts a wire message into a typed event. Unknown message
// types return an error; callers drop and log them so shell upgrades never
// wedge the engine.
func DecodeEvent(msg Message) (Event, error) {
	switch msg.Type {
	case msgHotspotStatusChanged:
		var ev HotspotStatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case msgGalleryStatus:
		var ev GalleryStatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case msgWifiJoinResult:
		var ev WifiJoinResultEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case msgGlassesWifiStatus:
		var ev GlassesWifiStatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// EncodeEvent converts a typed event into a wire message. Used by the
// simulator side of the bridge.
func EncodeEvent(event Event) (Message, error) {
	var msgType string
	switch event.(type) {
	case HotspotStatusEvent:
		msgType = msgHotspotStatusChanged
	case GalleryStatusEvent:
		msgType = msgGalleryStatus
	case WifiJoinResultEvent:
		msgType = msgWifiJoinResult
	case GlassesWifiStatusEvent:
		msgType = msgGlassesWifiStatus
	default:
		return Message{}, fmt.Errorf("unknown event type %T", event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: payload}, nil
}
