package gateway

import (
	"encoding/json"
	"strings"
	"time"
)

// Server to client events.
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventNotification = "notification"
	EventPong         = "pong"
	EventError        = "error"
)

// Client to server events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
	EventAck         = "ack"
)

// Frame is the JSON envelope for every message on the socket. AckID is set on
// server frames that expect an "ack" frame back with the same id.
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type statusData struct {
	Status    string    `json:"status"`
	Room      string    `json:"room,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type timestampData struct {
	Timestamp time.Time `json:"timestamp"`
}

type ackData struct {
	Error string `json:"error,omitempty"`
}

// roomFromData accepts either a bare JSON string or {"room": "..."}.
func roomFromData(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return strings.TrimSpace(name)
	}
	var obj struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Room)
	}
	return ""
}

func newFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}
