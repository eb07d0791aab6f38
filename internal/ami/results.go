package ami

import (
	"strconv"
	"strings"
)

// QueueMemberInfo is one agent membership row.
type QueueMemberInfo struct {
	Queue        string `json:"queue"`
	Name         string `json:"name"`
	Interface    string `json:"interface"`
	Membership   string `json:"membership"`
	Penalty      int    `json:"penalty"`
	CallsTaken   int    `json:"calls_taken"`
	LastCall     int64  `json:"last_call"`
	Status       int    `json:"status"`
	Paused       bool   `json:"paused"`
	PausedReason string `json:"paused_reason,omitempty"`
	InCall       bool   `json:"in_call"`
}

// QueueEntryInfo is one caller waiting in a queue.
type QueueEntryInfo struct {
	Queue        string `json:"queue"`
	Position     int    `json:"position"`
	Channel      string `json:"channel"`
	UniqueID     string `json:"unique_id"`
	CallerIDNum  string `json:"caller_id_num"`
	CallerIDName string `json:"caller_id_name"`
	Wait         int    `json:"wait"`
}

// QueueInfo is a queue with its members and waiting callers, assembled
// from a QueueStatus list.
type QueueInfo struct {
	Name         string            `json:"name"`
	Strategy     string            `json:"strategy"`
	Max          int               `json:"max"`
	Calls        int               `json:"calls"`
	HoldTime     int               `json:"hold_time"`
	TalkTime     int               `json:"talk_time"`
	Completed    int               `json:"completed"`
	Abandoned    int               `json:"abandoned"`
	ServiceLevel int               `json:"service_level"`
	Weight       int               `json:"weight"`
	Members      []QueueMemberInfo `json:"members"`
	Entries      []QueueEntryInfo  `json:"entries"`
}

// QueueSummaryInfo is the per-queue roll-up from a QueueSummary list.
type QueueSummaryInfo struct {
	Queue           string `json:"queue"`
	LoggedIn        int    `json:"logged_in"`
	Available       int    `json:"available"`
	Callers         int    `json:"callers"`
	HoldTime        int    `json:"hold_time"`
	TalkTime        int    `json:"talk_time"`
	LongestHoldTime int    `json:"longest_hold_time"`
}

// ChannelInfo is one live channel from a CoreShowChannels list. Duration
// stays in the peer's HH:MM:SS text form.
type ChannelInfo struct {
	Channel           string `json:"channel"`
	UniqueID          string `json:"unique_id"`
	LinkedID          string `json:"linked_id"`
	CallerIDNum       string `json:"caller_id_num"`
	CallerIDName      string `json:"caller_id_name"`
	ConnectedLineNum  string `json:"connected_line_num"`
	ConnectedLineName string `json:"connected_line_name"`
	State             string `json:"state"`
	Context           string `json:"context"`
	Exten             string `json:"exten"`
	Application       string `json:"application"`
	ApplicationData   string `json:"application_data"`
	Duration          string `json:"duration"`
	AccountCode       string `json:"account_code"`
	BridgeID          string `json:"bridge_id"`
}

// ParseQueueParams fills queue-level counters from a QueueParams event.
func ParseQueueParams(f Fields, q *QueueInfo) {
	q.Name = f.Get("Queue")
	q.Strategy = f.Get("Strategy")
	q.Max = fieldInt(f, "Max")
	q.Calls = fieldInt(f, "Calls")
	q.HoldTime = fieldInt(f, "Holdtime")
	q.TalkTime = fieldInt(f, "TalkTime")
	q.Completed = fieldInt(f, "Completed")
	q.Abandoned = fieldInt(f, "Abandoned")
	q.ServiceLevel = fieldInt(f, "ServiceLevel")
	q.Weight = fieldInt(f, "Weight")
}

// ParseQueueMember shapes a QueueMember family event. The peer names the
// member Interface "Location" and the Name "MemberName" in older releases.
func ParseQueueMember(f Fields) QueueMemberInfo {
	iface := f.Get("Interface")
	if iface == "" {
		iface = f.Get("Location")
	}
	name := f.Get("MemberName")
	if name == "" {
		name = f.Get("Name")
	}
	return QueueMemberInfo{
		Queue:        f.Get("Queue"),
		Name:         name,
		Interface:    iface,
		Membership:   f.Get("Membership"),
		Penalty:      fieldInt(f, "Penalty"),
		CallsTaken:   fieldInt(f, "CallsTaken"),
		LastCall:     fieldInt64(f, "LastCall"),
		Status:       fieldInt(f, "Status"),
		Paused:       fieldBool(f, "Paused"),
		PausedReason: f.Get("PausedReason"),
		InCall:       fieldBool(f, "InCall"),
	}
}

// ParseQueueEntry shapes a QueueEntry event.
func ParseQueueEntry(f Fields) QueueEntryInfo {
	return QueueEntryInfo{
		Queue:        f.Get("Queue"),
		Position:     fieldInt(f, "Position"),
		Channel:      f.Get("Channel"),
		UniqueID:     f.Get("Uniqueid"),
		CallerIDNum:  f.Get("CallerIDNum"),
		CallerIDName: f.Get("CallerIDName"),
		Wait:         fieldInt(f, "Wait"),
	}
}

// ParseQueueSummary shapes a QueueSummary event.
func ParseQueueSummary(f Fields) QueueSummaryInfo {
	return QueueSummaryInfo{
		Queue:           f.Get("Queue"),
		LoggedIn:        fieldInt(f, "LoggedIn"),
		Available:       fieldInt(f, "Available"),
		Callers:         fieldInt(f, "Callers"),
		HoldTime:        fieldInt(f, "HoldTime"),
		TalkTime:        fieldInt(f, "TalkTime"),
		LongestHoldTime: fieldInt(f, "LongestHoldTime"),
	}
}

// ParseChannel shapes a CoreShowChannel event.
func ParseChannel(f Fields) ChannelInfo {
	return ChannelInfo{
		Channel:           f.Get("Channel"),
		UniqueID:          f.Get("Uniqueid"),
		LinkedID:          f.Get("Linkedid"),
		CallerIDNum:       f.Get("CallerIDNum"),
		CallerIDName:      f.Get("CallerIDName"),
		ConnectedLineNum:  f.Get("ConnectedLineNum"),
		ConnectedLineName: f.Get("ConnectedLineName"),
		State:             f.Get("ChannelStateDesc"),
		Context:           f.Get("Context"),
		Exten:             f.Get("Exten"),
		Application:       f.Get("Application"),
		ApplicationData:   f.Get("ApplicationData"),
		Duration:          f.Get("Duration"),
		AccountCode:       f.Get("AccountCode"),
		BridgeID:          f.Get("BridgeId"),
	}
}

func fieldInt(f Fields, key string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(f.Get(key)))
	return n
}

func fieldInt64(f Fields, key string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(f.Get(key)), 10, 64)
	return n
}

func fieldBool(f Fields, key string) bool {
	switch strings.ToLower(strings.TrimSpace(f.Get(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
