package mirror

import (
	"time"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// Config contains batching configuration for the mirror.
type Config struct {
	// BatchSize is the number of pending operations that forces a flush.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     200,
		FlushInterval: 2 * time.Second,
	}
}

// memberRow represents a row in the queue_members table.
type memberRow struct {
	Queue        string
	Interface    string
	Name         string
	Penalty      int
	Paused       bool
	PausedReason string
	Status       int
	CallsTaken   int
	LastCall     int64
	InCall       bool
	UpdatedAt    time.Time
}

// opKind distinguishes pending operations.
type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

// memberOp is one pending mutation, keyed by queue and interface.
type memberOp struct {
	kind opKind
	row  memberRow
}

func (o memberOp) key() string {
	return o.row.Queue + "\x00" + o.row.Interface
}

// Metrics holds mirror counters.
type Metrics struct {
	Upserts int64
	Deletes int64
	Errors  int64
	Flushes int64
	Resyncs int64
}

// memberEventNames are the manager events the mirror consumes.
func memberEventNames() []string {
	return []string{
		"QueueMember",
		"QueueMemberStatus",
		"QueueMemberAdded",
		"QueueMemberPause",
		"QueueMemberPaused",
		"QueueMemberRemoved",
	}
}

// opFromEvent maps a member event onto a pending operation. Events
// without a queue and interface are dropped; both keys are needed to
// address a row.
func opFromEvent(ev *ami.Event) (memberOp, bool) {
	m := ami.ParseQueueMember(ev.Fields)
	if m.Queue == "" || m.Interface == "" {
		return memberOp{}, false
	}

	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	if ev.Name == "QueueMemberRemoved" {
		return memberOp{
			kind: opDelete,
			row:  memberRow{Queue: m.Queue, Interface: m.Interface, UpdatedAt: at},
		}, true
	}

	return memberOp{kind: opUpsert, row: rowFromInfo(m, at)}, true
}

// rowFromInfo converts a parsed membership into a table row.
func rowFromInfo(m ami.QueueMemberInfo, at time.Time) memberRow {
	return memberRow{
		Queue:        m.Queue,
		Interface:    m.Interface,
		Name:         m.Name,
		Penalty:      m.Penalty,
		Paused:       m.Paused,
		PausedReason: m.PausedReason,
		Status:       m.Status,
		CallsTaken:   m.CallsTaken,
		LastCall:     m.LastCall,
		InCall:       m.InCall,
		UpdatedAt:    at,
	}
}

// coalesce collapses pending operations to the last one per row,
// keeping first-seen key order. A burst of status updates for one
// member becomes a single upsert.
func coalesce(ops []memberOp) []memberOp {
	if len(ops) <= 1 {
		return ops
	}

	last := make(map[string]memberOp, len(ops))
	order := make([]string, 0, len(ops))
	for _, op := range ops {
		k := op.key()
		if _, seen := last[k]; !seen {
			order = append(order, k)
		}
		last[k] = op
	}

	out := make([]memberOp, 0, len(order))
	for _, k := range order {
		out = append(out, last[k])
	}
	return out
}
