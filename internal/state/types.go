package state

import (
	"time"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// Caller is one waiting caller tracked in a queue.
type Caller struct {
	ami.QueueEntryInfo
	JoinedAt time.Time `json:"joined_at"`
}

// Channel is one live channel on the switch.
type Channel struct {
	ami.ChannelInfo
	SeenAt time.Time `json:"seen_at"`
}

// Queue is the live picture of one call queue: its counters from
// QueueParams, the roll-up from QueueSummary, and the current member
// and caller sets.
type Queue struct {
	Name         string                `json:"name"`
	Strategy     string                `json:"strategy"`
	Max          int                   `json:"max"`
	Calls        int                   `json:"calls"`
	HoldTime     int                   `json:"hold_time"`
	TalkTime     int                   `json:"talk_time"`
	Completed    int                   `json:"completed"`
	Abandoned    int                   `json:"abandoned"`
	ServiceLevel int                   `json:"service_level"`
	Weight       int                   `json:"weight"`
	LoggedIn     int                   `json:"logged_in"`
	Available    int                   `json:"available"`
	Members      []ami.QueueMemberInfo `json:"members"`
	Callers      []Caller              `json:"callers"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Snapshot is a self-consistent copy of the whole registry, served to
// the HTTP snapshot endpoint and pushed to websocket clients on attach.
type Snapshot struct {
	SessionState string    `json:"session_state"`
	Connected    bool      `json:"connected"`
	GeneratedAt  time.Time `json:"generated_at"`
	Queues       []Queue   `json:"queues"`
	Channels     []Channel `json:"channels"`
}

// Stats contains registry counters.
type Stats struct {
	Queues        int
	Channels      int
	Callers       int
	EventsApplied int64
	EventsIgnored int64
}
