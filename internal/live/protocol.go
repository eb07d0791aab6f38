package live

import (
	"time"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// MessageType tags an outbound frame.
type MessageType string

const (
	MsgStatus     MessageType = "status"
	MsgSnapshot   MessageType = "snapshot"
	MsgEvent      MessageType = "event"
	MsgSubscribed MessageType = "subscribed"
	MsgPong       MessageType = "pong"
	MsgError      MessageType = "error"
)

// Frame is one outbound websocket message.
type Frame struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// StatusPayload reflects the manager session for the connectivity
// indicator. Sent on attach and on every session transition.
type StatusPayload struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// EventPayload is one manager event shaped for the dashboard. Duplicate
// field keys keep their first value.
type EventPayload struct {
	Name       string            `json:"name"`
	ReceivedAt time.Time         `json:"received_at"`
	Fields     map[string]string `json:"fields"`
}

func eventPayload(ev *ami.Event) EventPayload {
	return EventPayload{
		Name:       ev.Name,
		ReceivedAt: ev.ReceivedAt,
		Fields:     ev.Fields.Map(),
	}
}

// SubscribedPayload echoes the filter a subscribe command installed.
type SubscribedPayload struct {
	Events []string `json:"events"`
}

// PongPayload answers a ping command.
type PongPayload struct {
	Time time.Time `json:"time"`
}

// ErrorPayload reports a rejected command.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Command is one inbound client message.
type Command struct {
	Action string   `json:"action"`
	Events []string `json:"events,omitempty"`
}
