// Package state keeps the live queue and channel picture assembled from
// the manager event stream, corrected periodically by full resyncs.
package state

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// queueEntry is the mutable registry record for one queue.
type queueEntry struct {
	q       Queue
	members map[string]*ami.QueueMemberInfo // keyed by member interface
	callers map[string]*Caller              // keyed by unique id, channel as fallback
}

func newQueueEntry(name string) *queueEntry {
	return &queueEntry{
		q:       Queue{Name: name},
		members: make(map[string]*ami.QueueMemberInfo),
		callers: make(map[string]*Caller),
	}
}

// Registry holds the thread-safe live state cache.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	queues   map[string]*queueEntry
	channels map[string]*Channel // keyed by unique id, channel as fallback
	session  ami.State

	eventsApplied atomic.Int64
	eventsIgnored atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With("component", "state"),
		queues:   make(map[string]*queueEntry),
		channels: make(map[string]*Channel),
	}
}

// SetSessionState records the manager session state for snapshots.
func (r *Registry) SetSessionState(st ami.State) {
	r.mu.Lock()
	r.session = st
	r.mu.Unlock()
}

// SessionState returns the last recorded session state.
func (r *Registry) SessionState() ami.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// Apply folds one manager event into the live picture. Events that do
// not describe queue or channel state are counted and skipped.
func (r *Registry) Apply(ev *ami.Event) {
	switch ev.Name {
	case "QueueParams":
		r.applyQueueParams(ev)
	case "QueueSummary":
		r.applyQueueSummary(ev)
	case "QueueMember", "QueueMemberStatus", "QueueMemberAdded",
		"QueueMemberPause", "QueueMemberPaused":
		r.applyMember(ev)
	case "QueueMemberRemoved":
		r.applyMemberRemoved(ev)
	case "QueueEntry":
		r.applyCallerJoin(ev)
	case "QueueCallerJoin", "Join":
		r.applyCallerJoin(ev)
	case "QueueCallerLeave", "Leave":
		r.applyCallerLeave(ev, false)
	case "QueueCallerAbandon":
		r.applyCallerLeave(ev, true)
	case "Newchannel":
		r.applyNewchannel(ev)
	case "Newstate":
		r.applyNewstate(ev)
	case "Rename":
		r.applyRename(ev)
	case "Hangup":
		r.applyHangup(ev)
	default:
		r.eventsIgnored.Add(1)
		return
	}
	r.eventsApplied.Add(1)
}

func (r *Registry) applyQueueParams(ev *ami.Event) {
	name := ev.Fields.Get("Queue")
	if name == "" {
		return
	}

	var qi ami.QueueInfo
	ami.ParseQueueParams(ev.Fields, &qi)

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.queueLocked(name)
	e.q.Strategy = qi.Strategy
	e.q.Max = qi.Max
	e.q.Calls = qi.Calls
	e.q.HoldTime = qi.HoldTime
	e.q.TalkTime = qi.TalkTime
	e.q.Completed = qi.Completed
	e.q.Abandoned = qi.Abandoned
	e.q.ServiceLevel = qi.ServiceLevel
	e.q.Weight = qi.Weight
	e.q.UpdatedAt = eventTime(ev)
}

func (r *Registry) applyQueueSummary(ev *ami.Event) {
	sum := ami.ParseQueueSummary(ev.Fields)
	if sum.Queue == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.queueLocked(sum.Queue)
	e.q.LoggedIn = sum.LoggedIn
	e.q.Available = sum.Available
	e.q.UpdatedAt = eventTime(ev)
}

func (r *Registry) applyMember(ev *ami.Event) {
	m := ami.ParseQueueMember(ev.Fields)
	if m.Queue == "" || m.Interface == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.queueLocked(m.Queue)
	mc := m
	e.members[m.Interface] = &mc
	e.q.UpdatedAt = eventTime(ev)
}

func (r *Registry) applyMemberRemoved(ev *ami.Event) {
	m := ami.ParseQueueMember(ev.Fields)
	if m.Queue == "" || m.Interface == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.queues[m.Queue]; ok {
		delete(e.members, m.Interface)
		e.q.UpdatedAt = eventTime(ev)
	}
}

func (r *Registry) applyCallerJoin(ev *ami.Event) {
	entry := ami.ParseQueueEntry(ev.Fields)
	if entry.Queue == "" || (entry.Channel == "" && entry.UniqueID == "") {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.queueLocked(entry.Queue)
	c := &Caller{QueueEntryInfo: entry, JoinedAt: eventTime(ev)}
	if entry.Wait > 0 {
		c.JoinedAt = eventTime(ev).Add(-time.Duration(entry.Wait) * time.Second)
	}
	e.callers[callerKey(entry.UniqueID, entry.Channel)] = c
	if ev.Fields.Has("Count") {
		e.q.Calls = intField(ev.Fields, "Count")
	}
	e.q.UpdatedAt = eventTime(ev)
}

func (r *Registry) applyCallerLeave(ev *ami.Event, abandoned bool) {
	queue := ev.Fields.Get("Queue")
	key := callerKey(ev.Fields.Get("Uniqueid"), ev.Fields.Get("Channel"))
	if queue == "" || key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.queues[queue]
	if !ok {
		return
	}
	delete(e.callers, key)
	if abandoned {
		e.q.Abandoned++
	}
	if ev.Fields.Has("Count") {
		e.q.Calls = intField(ev.Fields, "Count")
	}
	e.q.UpdatedAt = eventTime(ev)
}

func (r *Registry) applyNewchannel(ev *ami.Event) {
	info := ami.ParseChannel(ev.Fields)
	key := callerKey(info.UniqueID, info.Channel)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[key] = &Channel{ChannelInfo: info, SeenAt: eventTime(ev)}
}

func (r *Registry) applyNewstate(ev *ami.Event) {
	info := ami.ParseChannel(ev.Fields)
	key := callerKey(info.UniqueID, info.Channel)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[key]
	if !ok {
		// State change for a channel created before we attached.
		r.channels[key] = &Channel{ChannelInfo: info, SeenAt: eventTime(ev)}
		return
	}
	c.State = info.State
	if info.CallerIDNum != "" {
		c.CallerIDNum = info.CallerIDNum
	}
	if info.CallerIDName != "" {
		c.CallerIDName = info.CallerIDName
	}
	if info.ConnectedLineNum != "" {
		c.ConnectedLineNum = info.ConnectedLineNum
	}
	if info.ConnectedLineName != "" {
		c.ConnectedLineName = info.ConnectedLineName
	}
}

func (r *Registry) applyRename(ev *ami.Event) {
	newName := ev.Fields.Get("Newname")
	key := callerKey(ev.Fields.Get("Uniqueid"), ev.Fields.Get("Channel"))
	if key == "" || newName == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.channels[key]; ok {
		c.Channel = newName
	}
}

func (r *Registry) applyHangup(ev *ami.Event) {
	channel := ev.Fields.Get("Channel")
	key := callerKey(ev.Fields.Get("Uniqueid"), channel)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.channels, key)

	// A caller that hangs up leaves its queue even if the dedicated
	// leave event was missed.
	for _, e := range r.queues {
		delete(e.callers, key)
		if channel != "" {
			for k, c := range e.callers {
				if c.Channel == channel {
					delete(e.callers, k)
				}
			}
		}
	}
}

// ReplaceQueues installs an authoritative queue picture from a full
// QueueStatus listing. Summary roll-ups survive from the previous
// picture until the next summary arrives.
func (r *Registry) ReplaceQueues(infos []ami.QueueInfo) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	queues := make(map[string]*queueEntry, len(infos))
	for _, qi := range infos {
		e := newQueueEntry(qi.Name)
		e.q.Strategy = qi.Strategy
		e.q.Max = qi.Max
		e.q.Calls = qi.Calls
		e.q.HoldTime = qi.HoldTime
		e.q.TalkTime = qi.TalkTime
		e.q.Completed = qi.Completed
		e.q.Abandoned = qi.Abandoned
		e.q.ServiceLevel = qi.ServiceLevel
		e.q.Weight = qi.Weight
		e.q.UpdatedAt = now

		if old, ok := r.queues[qi.Name]; ok {
			e.q.LoggedIn = old.q.LoggedIn
			e.q.Available = old.q.Available
		}

		for _, m := range qi.Members {
			mc := m
			e.members[m.Interface] = &mc
		}
		for _, entry := range qi.Entries {
			c := &Caller{
				QueueEntryInfo: entry,
				JoinedAt:       now.Add(-time.Duration(entry.Wait) * time.Second),
			}
			e.callers[callerKey(entry.UniqueID, entry.Channel)] = c
		}

		queues[qi.Name] = e
	}
	r.queues = queues
}

// ApplySummaries merges QueueSummary roll-ups into known queues.
func (r *Registry) ApplySummaries(sums []ami.QueueSummaryInfo) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sum := range sums {
		if sum.Queue == "" {
			continue
		}
		e := r.queueLocked(sum.Queue)
		e.q.LoggedIn = sum.LoggedIn
		e.q.Available = sum.Available
		e.q.UpdatedAt = now
	}
}

// ReplaceChannels installs an authoritative channel picture from a full
// CoreShowChannels listing.
func (r *Registry) ReplaceChannels(infos []ami.ChannelInfo) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make(map[string]*Channel, len(infos))
	for _, info := range infos {
		key := callerKey(info.UniqueID, info.Channel)
		if key == "" {
			continue
		}
		channels[key] = &Channel{ChannelInfo: info, SeenAt: now}
	}
	r.channels = channels
}

// Snapshot returns a deep copy of the registry with deterministic
// ordering: queues by name, members by interface, callers by position,
// channels by name.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		SessionState: r.session.String(),
		Connected:    r.session == ami.StateReady,
		GeneratedAt:  time.Now(),
		Queues:       make([]Queue, 0, len(r.queues)),
		Channels:     make([]Channel, 0, len(r.channels)),
	}

	for _, e := range r.queues {
		q := e.q
		q.Members = make([]ami.QueueMemberInfo, 0, len(e.members))
		for _, m := range e.members {
			q.Members = append(q.Members, *m)
		}
		sort.Slice(q.Members, func(i, j int) bool {
			return q.Members[i].Interface < q.Members[j].Interface
		})

		q.Callers = make([]Caller, 0, len(e.callers))
		for _, c := range e.callers {
			q.Callers = append(q.Callers, *c)
		}
		sort.Slice(q.Callers, func(i, j int) bool {
			return q.Callers[i].Position < q.Callers[j].Position
		})

		snap.Queues = append(snap.Queues, q)
	}
	sort.Slice(snap.Queues, func(i, j int) bool {
		return snap.Queues[i].Name < snap.Queues[j].Name
	})

	for _, c := range r.channels {
		snap.Channels = append(snap.Channels, *c)
	}
	sort.Slice(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Channel < snap.Channels[j].Channel
	})

	return snap
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Queues:        len(r.queues),
		Channels:      len(r.channels),
		EventsApplied: r.eventsApplied.Load(),
		EventsIgnored: r.eventsIgnored.Load(),
	}
	for _, e := range r.queues {
		st.Callers += len(e.callers)
	}
	return st
}

// queueLocked returns the entry for a queue, creating it on first
// sight. Caller must hold the write lock.
func (r *Registry) queueLocked(name string) *queueEntry {
	e, ok := r.queues[name]
	if !ok {
		e = newQueueEntry(name)
		r.queues[name] = e
	}
	return e
}

func callerKey(uniqueID, channel string) string {
	if uniqueID != "" {
		return uniqueID
	}
	return channel
}

func eventTime(ev *ami.Event) time.Time {
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt
	}
	return time.Now()
}

func intField(f ami.Fields, key string) int {
	n, _ := strconv.Atoi(f.Get(key))
	return n
}
