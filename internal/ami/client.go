package ami

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Client is the action gateway: typed call, queue, and channel commands
// over one session. Peer rejections surface as *ActionError; transport
// conditions surface as the session's sentinel errors.
type Client struct {
	session *Session
	logger  *slog.Logger
}

// NewClient creates an action gateway over session.
func NewClient(session *Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{session: session, logger: logger}
}

// Session exposes the underlying session for state and stats readers.
func (c *Client) Session() *Session {
	return c.session
}

// OriginateRequest places a new outbound call. Either an extension in a
// dialplan context or an application must be given.
type OriginateRequest struct {
	Channel     string
	Exten       string
	Context     string
	Priority    int           // 0 means 1
	Application string
	Data        string
	CallerID    string
	Timeout     time.Duration // 0 means 30s
	Variables   []string      // KEY=value pairs, one Variable line each
}

// RedirectRequest moves an answered channel to another dialplan position.
type RedirectRequest struct {
	Channel      string
	ExtraChannel string // Second leg to move along, optional
	Exten        string
	Context      string
	Priority     int // 0 means 1
}

// QueueAddRequest adds a member interface to a queue.
type QueueAddRequest struct {
	Queue      string
	Interface  string
	MemberName string
	Penalty    int
	Paused     bool
}

// Ping checks manager liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "Ping", nil)
	return err
}

// Originate places a call. The action is submitted asynchronously on the
// peer side so the response reports acceptance, not call outcome.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) error {
	if req.Channel == "" {
		return fmt.Errorf("originate: channel required")
	}
	if req.Exten == "" && req.Application == "" {
		return fmt.Errorf("originate: exten or application required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	params := Fields{}
	params.Add("Channel", req.Channel)
	if req.Application != "" {
		params.Add("Application", req.Application)
		if req.Data != "" {
			params.Add("Data", req.Data)
		}
	} else {
		params.Add("Exten", req.Exten)
		params.Add("Context", req.Context)
		params.Add("Priority", strconv.Itoa(orOne(req.Priority)))
	}
	if req.CallerID != "" {
		params.Add("CallerID", req.CallerID)
	}
	params.Add("Timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	for _, v := range req.Variables {
		params.Add("Variable", v)
	}
	params.Add("Async", "true")

	_, err := c.do(ctx, "Originate", params)
	return err
}

// Hangup tears down a channel. A zero cause leaves the cause code to the
// peer.
func (c *Client) Hangup(ctx context.Context, channel string, cause int) error {
	if channel == "" {
		return fmt.Errorf("hangup: channel required")
	}
	params := Fields{}
	params.Add("Channel", channel)
	if cause > 0 {
		params.Add("Cause", strconv.Itoa(cause))
	}
	_, err := c.do(ctx, "Hangup", params)
	return err
}

// Redirect moves a live channel to another dialplan position.
func (c *Client) Redirect(ctx context.Context, req RedirectRequest) error {
	if req.Channel == "" || req.Exten == "" || req.Context == "" {
		return fmt.Errorf("redirect: channel, exten and context required")
	}
	params := Fields{}
	params.Add("Channel", req.Channel)
	if req.ExtraChannel != "" {
		params.Add("ExtraChannel", req.ExtraChannel)
	}
	params.Add("Exten", req.Exten)
	params.Add("Context", req.Context)
	params.Add("Priority", strconv.Itoa(orOne(req.Priority)))
	_, err := c.do(ctx, "Redirect", params)
	return err
}

// QueuePause pauses or unpauses a member on one queue, or on every queue
// when queue is empty.
func (c *Client) QueuePause(ctx context.Context, queue, iface string, paused bool, reason string) error {
	if iface == "" {
		return fmt.Errorf("queue pause: interface required")
	}
	params := Fields{}
	params.Add("Interface", iface)
	params.Add("Paused", boolValue(paused))
	if queue != "" {
		params.Add("Queue", queue)
	}
	if reason != "" {
		params.Add("Reason", reason)
	}
	_, err := c.do(ctx, "QueuePause", params)
	return err
}

// QueueAdd adds a member to a queue.
func (c *Client) QueueAdd(ctx context.Context, req QueueAddRequest) error {
	if req.Queue == "" || req.Interface == "" {
		return fmt.Errorf("queue add: queue and interface required")
	}
	params := Fields{}
	params.Add("Queue", req.Queue)
	params.Add("Interface", req.Interface)
	if req.MemberName != "" {
		params.Add("MemberName", req.MemberName)
	}
	if req.Penalty > 0 {
		params.Add("Penalty", strconv.Itoa(req.Penalty))
	}
	if req.Paused {
		params.Add("Paused", "true")
	}
	_, err := c.do(ctx, "QueueAdd", params)
	return err
}

// QueueRemove removes a member from a queue.
func (c *Client) QueueRemove(ctx context.Context, queue, iface string) error {
	if queue == "" || iface == "" {
		return fmt.Errorf("queue remove: queue and interface required")
	}
	params := Fields{}
	params.Add("Queue", queue)
	params.Add("Interface", iface)
	_, err := c.do(ctx, "QueueRemove", params)
	return err
}

// QueueReload reloads queue configuration on the peer, one queue or all.
func (c *Client) QueueReload(ctx context.Context, queue string) error {
	params := Fields{}
	if queue != "" {
		params.Add("Queue", queue)
	}
	_, err := c.do(ctx, "QueueReload", params)
	return err
}

// GetVar reads a channel (or global) variable.
func (c *Client) GetVar(ctx context.Context, channel, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("getvar: variable name required")
	}
	params := Fields{}
	if channel != "" {
		params.Add("Channel", channel)
	}
	params.Add("Variable", name)
	resp, err := c.do(ctx, "Getvar", params)
	if err != nil {
		return "", err
	}
	return resp.Fields.Get("Value"), nil
}

// SetVar writes a channel (or global) variable.
func (c *Client) SetVar(ctx context.Context, channel, name, value string) error {
	if name == "" {
		return fmt.Errorf("setvar: variable name required")
	}
	params := Fields{}
	if channel != "" {
		params.Add("Channel", channel)
	}
	params.Add("Variable", name)
	params.Add("Value", value)
	_, err := c.do(ctx, "Setvar", params)
	return err
}

// Command runs a CLI command on the peer and returns its output. Newer
// peers send the output as repeated Output lines.
func (c *Client) Command(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command: command required")
	}
	params := Fields{}
	params.Add("Command", command)
	resp, err := c.do(ctx, "Command", params)
	if err != nil {
		return "", err
	}
	return strings.Join(resp.Fields.Values("Output"), "\n"), nil
}

// QueueStatus fetches queues with their members and waiting callers,
// all of them when queue is empty. The peer answers with a run of
// QueueParams, QueueMember and QueueEntry events closed by
// QueueStatusComplete.
func (c *Client) QueueStatus(ctx context.Context, queue string) ([]QueueInfo, error) {
	var params Fields
	if queue != "" {
		params.Add("Queue", queue)
	}
	resp, events, err := c.session.SubmitList(ctx, "QueueStatus", params, "QueueStatusComplete", 0)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ActionError{Action: "QueueStatus", Message: resp.Message}
	}

	byName := make(map[string]*QueueInfo)
	var order []string
	ensure := func(name string) *QueueInfo {
		if q, ok := byName[name]; ok {
			return q
		}
		q := &QueueInfo{Name: name}
		byName[name] = q
		order = append(order, name)
		return q
	}

	for _, ev := range events {
		name := ev.Fields.Get("Queue")
		if name == "" {
			continue
		}
		switch {
		case strings.EqualFold(ev.Name, "QueueParams"):
			ParseQueueParams(ev.Fields, ensure(name))
		case strings.EqualFold(ev.Name, "QueueMember"):
			q := ensure(name)
			q.Members = append(q.Members, ParseQueueMember(ev.Fields))
		case strings.EqualFold(ev.Name, "QueueEntry"):
			q := ensure(name)
			q.Entries = append(q.Entries, ParseQueueEntry(ev.Fields))
		}
	}

	out := make([]QueueInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

// QueueSummary fetches the per-queue roll-up counters, all queues when
// queue is empty.
func (c *Client) QueueSummary(ctx context.Context, queue string) ([]QueueSummaryInfo, error) {
	var params Fields
	if queue != "" {
		params.Add("Queue", queue)
	}
	resp, events, err := c.session.SubmitList(ctx, "QueueSummary", params, "QueueSummaryComplete", 0)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ActionError{Action: "QueueSummary", Message: resp.Message}
	}

	var out []QueueSummaryInfo
	for _, ev := range events {
		if !strings.EqualFold(ev.Name, "QueueSummary") {
			continue
		}
		out = append(out, ParseQueueSummary(ev.Fields))
	}
	return out, nil
}

// Channels fetches the live channel list.
func (c *Client) Channels(ctx context.Context) ([]ChannelInfo, error) {
	resp, events, err := c.session.SubmitList(ctx, "CoreShowChannels", nil, "CoreShowChannelsComplete", 0)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ActionError{Action: "CoreShowChannels", Message: resp.Message}
	}

	var out []ChannelInfo
	for _, ev := range events {
		if !strings.EqualFold(ev.Name, "CoreShowChannel") {
			continue
		}
		out = append(out, ParseChannel(ev.Fields))
	}
	return out, nil
}

// do submits one action and turns an Error response into *ActionError.
func (c *Client) do(ctx context.Context, action string, params Fields) (*Response, error) {
	resp, err := c.session.Submit(ctx, action, params, 0)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, &ActionError{Action: action, Message: resp.Message}
	}
	return resp, nil
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
