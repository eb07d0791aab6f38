package state

import (
	"sync"
	"testing"
	"time"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

func ev(name string, kv ...string) *ami.Event {
	var f ami.Fields
	for i := 0; i+1 < len(kv); i += 2 {
		f.Add(kv[i], kv[i+1])
	}
	return &ami.Event{Name: name, Fields: f, ReceivedAt: time.Now()}
}

func TestRegistry_QueueParams(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueParams",
		"Queue", "support",
		"Strategy", "rrmemory",
		"Max", "30",
		"Calls", "2",
		"Holdtime", "14",
		"TalkTime", "95",
		"Completed", "118",
		"Abandoned", "7",
		"ServiceLevel", "60",
		"Weight", "1",
	))

	snap := r.Snapshot()
	if len(snap.Queues) != 1 {
		t.Fatalf("queues = %d, want 1", len(snap.Queues))
	}
	q := snap.Queues[0]
	if q.Name != "support" {
		t.Errorf("Name = %q, want %q", q.Name, "support")
	}
	if q.Strategy != "rrmemory" {
		t.Errorf("Strategy = %q, want %q", q.Strategy, "rrmemory")
	}
	if q.Calls != 2 {
		t.Errorf("Calls = %d, want 2", q.Calls)
	}
	if q.Completed != 118 {
		t.Errorf("Completed = %d, want 118", q.Completed)
	}
	if q.Abandoned != 7 {
		t.Errorf("Abandoned = %d, want 7", q.Abandoned)
	}
	if q.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestRegistry_MemberLifecycle(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueMemberAdded",
		"Queue", "support",
		"Interface", "SIP/1001",
		"MemberName", "Alice",
		"Membership", "dynamic",
		"Penalty", "1",
		"Status", "1",
	))

	snap := r.Snapshot()
	if len(snap.Queues) != 1 || len(snap.Queues[0].Members) != 1 {
		t.Fatalf("expected one queue with one member, got %+v", snap.Queues)
	}
	m := snap.Queues[0].Members[0]
	if m.Interface != "SIP/1001" || m.Name != "Alice" {
		t.Errorf("member = %+v, want SIP/1001/Alice", m)
	}
	if m.Paused {
		t.Error("member should not start paused")
	}

	// Pause arrives with the full member row.
	r.Apply(ev("QueueMemberPause",
		"Queue", "support",
		"Interface", "SIP/1001",
		"MemberName", "Alice",
		"Paused", "1",
		"PausedReason", "lunch",
	))

	m = r.Snapshot().Queues[0].Members[0]
	if !m.Paused {
		t.Error("member should be paused")
	}
	if m.PausedReason != "lunch" {
		t.Errorf("PausedReason = %q, want %q", m.PausedReason, "lunch")
	}

	r.Apply(ev("QueueMemberRemoved",
		"Queue", "support",
		"Interface", "SIP/1001",
	))

	if got := len(r.Snapshot().Queues[0].Members); got != 0 {
		t.Errorf("members = %d after removal, want 0", got)
	}
}

func TestRegistry_MemberStatusUpdate(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueMember",
		"Queue", "support",
		"Interface", "SIP/1001",
		"Status", "1",
		"CallsTaken", "4",
	))
	r.Apply(ev("QueueMemberStatus",
		"Queue", "support",
		"Interface", "SIP/1001",
		"Status", "2",
		"CallsTaken", "5",
		"InCall", "1",
	))

	m := r.Snapshot().Queues[0].Members[0]
	if m.Status != 2 {
		t.Errorf("Status = %d, want 2", m.Status)
	}
	if m.CallsTaken != 5 {
		t.Errorf("CallsTaken = %d, want 5", m.CallsTaken)
	}
	if !m.InCall {
		t.Error("InCall should be true")
	}
}

func TestRegistry_CallerJoinLeave(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueCallerJoin",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000001",
		"Uniqueid", "1724580001.17",
		"CallerIDNum", "+998711234567",
		"Position", "1",
		"Count", "1",
	))

	snap := r.Snapshot()
	if len(snap.Queues) != 1 || len(snap.Queues[0].Callers) != 1 {
		t.Fatalf("expected one waiting caller, got %+v", snap.Queues)
	}
	c := snap.Queues[0].Callers[0]
	if c.Channel != "PJSIP/trunk-00000001" {
		t.Errorf("Channel = %q", c.Channel)
	}
	if c.Position != 1 {
		t.Errorf("Position = %d, want 1", c.Position)
	}
	if snap.Queues[0].Calls != 1 {
		t.Errorf("Calls = %d, want 1", snap.Queues[0].Calls)
	}
	if c.JoinedAt.IsZero() {
		t.Error("JoinedAt should be set")
	}

	r.Apply(ev("QueueCallerLeave",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000001",
		"Uniqueid", "1724580001.17",
		"Count", "0",
	))

	snap = r.Snapshot()
	if got := len(snap.Queues[0].Callers); got != 0 {
		t.Errorf("callers = %d after leave, want 0", got)
	}
	if snap.Queues[0].Calls != 0 {
		t.Errorf("Calls = %d, want 0", snap.Queues[0].Calls)
	}
	if snap.Queues[0].Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0 (answered, not abandoned)", snap.Queues[0].Abandoned)
	}
}

func TestRegistry_CallerAbandon(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueCallerJoin",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000002",
		"Uniqueid", "1724580002.18",
		"Position", "1",
		"Count", "1",
	))
	r.Apply(ev("QueueCallerAbandon",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000002",
		"Uniqueid", "1724580002.18",
		"Position", "1",
		"OriginalPosition", "1",
		"HoldTime", "42",
	))

	snap := r.Snapshot()
	if got := len(snap.Queues[0].Callers); got != 0 {
		t.Errorf("callers = %d after abandon, want 0", got)
	}
	if snap.Queues[0].Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", snap.Queues[0].Abandoned)
	}
}

func TestRegistry_CallerJoinBackdatesWait(t *testing.T) {
	r := NewRegistry(nil)

	// QueueEntry rows from a listing carry the elapsed wait.
	r.Apply(ev("QueueEntry",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000003",
		"Uniqueid", "1724580003.19",
		"Position", "2",
		"Wait", "30",
	))

	c := r.Snapshot().Queues[0].Callers[0]
	age := time.Since(c.JoinedAt)
	if age < 29*time.Second || age > 35*time.Second {
		t.Errorf("JoinedAt backdated by %v, want about 30s", age)
	}
}

func TestRegistry_ChannelLifecycle(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("Newchannel",
		"Channel", "PJSIP/1001-00000004",
		"Uniqueid", "1724580004.20",
		"ChannelStateDesc", "Ring",
		"CallerIDNum", "1001",
		"Exten", "200",
		"Context", "internal",
	))

	snap := r.Snapshot()
	if len(snap.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(snap.Channels))
	}
	c := snap.Channels[0]
	if c.Channel != "PJSIP/1001-00000004" {
		t.Errorf("Channel = %q", c.Channel)
	}
	if c.State != "Ring" {
		t.Errorf("State = %q, want Ring", c.State)
	}

	r.Apply(ev("Newstate",
		"Channel", "PJSIP/1001-00000004",
		"Uniqueid", "1724580004.20",
		"ChannelStateDesc", "Up",
		"ConnectedLineNum", "200",
	))

	c = r.Snapshot().Channels[0]
	if c.State != "Up" {
		t.Errorf("State = %q, want Up", c.State)
	}
	if c.ConnectedLineNum != "200" {
		t.Errorf("ConnectedLineNum = %q, want 200", c.ConnectedLineNum)
	}

	r.Apply(ev("Hangup",
		"Channel", "PJSIP/1001-00000004",
		"Uniqueid", "1724580004.20",
		"Cause", "16",
	))

	if got := len(r.Snapshot().Channels); got != 0 {
		t.Errorf("channels = %d after hangup, want 0", got)
	}
}

func TestRegistry_NewstateBeforeNewchannel(t *testing.T) {
	r := NewRegistry(nil)

	// Attaching mid-call means the first sighting can be a state change.
	r.Apply(ev("Newstate",
		"Channel", "PJSIP/1001-00000005",
		"Uniqueid", "1724580005.21",
		"ChannelStateDesc", "Up",
	))

	snap := r.Snapshot()
	if len(snap.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(snap.Channels))
	}
	if snap.Channels[0].State != "Up" {
		t.Errorf("State = %q, want Up", snap.Channels[0].State)
	}
}

func TestRegistry_Rename(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("Newchannel",
		"Channel", "PJSIP/1001-00000006",
		"Uniqueid", "1724580006.22",
		"ChannelStateDesc", "Up",
	))
	r.Apply(ev("Rename",
		"Channel", "PJSIP/1001-00000006",
		"Newname", "PJSIP/1001-00000006<MASQ>",
		"Uniqueid", "1724580006.22",
	))

	snap := r.Snapshot()
	if len(snap.Channels) != 1 {
		t.Fatalf("channels = %d, want 1", len(snap.Channels))
	}
	if got := snap.Channels[0].Channel; got != "PJSIP/1001-00000006<MASQ>" {
		t.Errorf("Channel = %q after rename", got)
	}
}

func TestRegistry_HangupClearsQueueCaller(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueCallerJoin",
		"Queue", "support",
		"Channel", "PJSIP/trunk-00000007",
		"Uniqueid", "1724580007.23",
		"Position", "1",
	))
	r.Apply(ev("Hangup",
		"Channel", "PJSIP/trunk-00000007",
		"Uniqueid", "1724580007.23",
	))

	if got := len(r.Snapshot().Queues[0].Callers); got != 0 {
		t.Errorf("callers = %d after hangup, want 0", got)
	}
}

func TestRegistry_UnknownEventIgnored(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("FullyBooted"))
	r.Apply(ev("PeerStatus", "Peer", "SIP/1001"))

	st := r.Stats()
	if st.EventsIgnored != 2 {
		t.Errorf("EventsIgnored = %d, want 2", st.EventsIgnored)
	}
	if st.EventsApplied != 0 {
		t.Errorf("EventsApplied = %d, want 0", st.EventsApplied)
	}
}

func TestRegistry_ReplaceQueues(t *testing.T) {
	r := NewRegistry(nil)

	// Event-driven entry that the full listing no longer knows.
	r.Apply(ev("QueueParams", "Queue", "stale", "Calls", "1"))
	r.ApplySummaries([]ami.QueueSummaryInfo{{Queue: "support", LoggedIn: 4, Available: 2}})

	r.ReplaceQueues([]ami.QueueInfo{
		{
			Name:     "support",
			Strategy: "leastrecent",
			Calls:    1,
			Members: []ami.QueueMemberInfo{
				{Queue: "support", Interface: "SIP/1001", Name: "Alice"},
			},
			Entries: []ami.QueueEntryInfo{
				{Queue: "support", Channel: "PJSIP/t-1", UniqueID: "u1", Position: 1, Wait: 10},
			},
		},
	})

	snap := r.Snapshot()
	if len(snap.Queues) != 1 {
		t.Fatalf("queues = %d, want 1 (stale queue should be gone)", len(snap.Queues))
	}
	q := snap.Queues[0]
	if q.Name != "support" {
		t.Errorf("Name = %q, want support", q.Name)
	}
	if len(q.Members) != 1 || len(q.Callers) != 1 {
		t.Errorf("members/callers = %d/%d, want 1/1", len(q.Members), len(q.Callers))
	}
	// Summary roll-up survives the replace.
	if q.LoggedIn != 4 || q.Available != 2 {
		t.Errorf("LoggedIn/Available = %d/%d, want 4/2", q.LoggedIn, q.Available)
	}
}

func TestRegistry_ReplaceChannels(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("Newchannel", "Channel", "PJSIP/old-1", "Uniqueid", "old.1"))

	r.ReplaceChannels([]ami.ChannelInfo{
		{Channel: "PJSIP/new-1", UniqueID: "new.1", State: "Up"},
		{Channel: "PJSIP/new-2", UniqueID: "new.2", State: "Ring"},
	})

	snap := r.Snapshot()
	if len(snap.Channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(snap.Channels))
	}
	if snap.Channels[0].Channel != "PJSIP/new-1" {
		t.Errorf("Channels[0] = %q, want PJSIP/new-1", snap.Channels[0].Channel)
	}
}

func TestRegistry_SnapshotOrdering(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueParams", "Queue", "zeta"))
	r.Apply(ev("QueueParams", "Queue", "alpha"))
	r.Apply(ev("QueueMember", "Queue", "alpha", "Interface", "SIP/2000"))
	r.Apply(ev("QueueMember", "Queue", "alpha", "Interface", "SIP/1000"))
	r.Apply(ev("QueueCallerJoin", "Queue", "alpha", "Uniqueid", "b", "Position", "2"))
	r.Apply(ev("QueueCallerJoin", "Queue", "alpha", "Uniqueid", "a", "Position", "1"))
	r.Apply(ev("Newchannel", "Channel", "PJSIP/b", "Uniqueid", "cb"))
	r.Apply(ev("Newchannel", "Channel", "PJSIP/a", "Uniqueid", "ca"))

	snap := r.Snapshot()
	if snap.Queues[0].Name != "alpha" || snap.Queues[1].Name != "zeta" {
		t.Errorf("queue order = %q, %q; want alpha, zeta", snap.Queues[0].Name, snap.Queues[1].Name)
	}
	members := snap.Queues[0].Members
	if members[0].Interface != "SIP/1000" || members[1].Interface != "SIP/2000" {
		t.Errorf("member order = %q, %q", members[0].Interface, members[1].Interface)
	}
	callers := snap.Queues[0].Callers
	if callers[0].Position != 1 || callers[1].Position != 2 {
		t.Errorf("caller order = %d, %d; want 1, 2", callers[0].Position, callers[1].Position)
	}
	if snap.Channels[0].Channel != "PJSIP/a" || snap.Channels[1].Channel != "PJSIP/b" {
		t.Errorf("channel order = %q, %q", snap.Channels[0].Channel, snap.Channels[1].Channel)
	}
}

func TestRegistry_SessionState(t *testing.T) {
	r := NewRegistry(nil)

	snap := r.Snapshot()
	if snap.Connected {
		t.Error("new registry should not report connected")
	}

	r.SetSessionState(ami.StateReady)
	snap = r.Snapshot()
	if !snap.Connected {
		t.Error("should report connected when ready")
	}
	if snap.SessionState != ami.StateReady.String() {
		t.Errorf("SessionState = %q, want %q", snap.SessionState, ami.StateReady.String())
	}

	r.SetSessionState(ami.StateConnecting)
	if r.Snapshot().Connected {
		t.Error("should not report connected while reconnecting")
	}
}

func TestRegistry_Stats(t *testing.T) {
	r := NewRegistry(nil)

	r.Apply(ev("QueueParams", "Queue", "support"))
	r.Apply(ev("QueueCallerJoin", "Queue", "support", "Uniqueid", "u1", "Position", "1"))
	r.Apply(ev("Newchannel", "Channel", "PJSIP/a", "Uniqueid", "ca"))
	r.Apply(ev("SomethingElse"))

	st := r.Stats()
	if st.Queues != 1 {
		t.Errorf("Queues = %d, want 1", st.Queues)
	}
	if st.Channels != 1 {
		t.Errorf("Channels = %d, want 1", st.Channels)
	}
	if st.Callers != 1 {
		t.Errorf("Callers = %d, want 1", st.Callers)
	}
	if st.EventsApplied != 3 {
		t.Errorf("EventsApplied = %d, want 3", st.EventsApplied)
	}
	if st.EventsIgnored != 1 {
		t.Errorf("EventsIgnored = %d, want 1", st.EventsIgnored)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Apply(ev("QueueParams", "Queue", "q"+string(rune('A'+id))))
				r.Apply(ev("Newchannel", "Channel", "PJSIP/x", "Uniqueid", "u"))
			}
		}(i)
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Snapshot()
				r.Stats()
			}
		}()
	}

	wg.Wait()
}
