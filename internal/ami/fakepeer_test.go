package ami

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// peer drives one accepted manager-side connection in tests.
type peer struct {
	t *testing.T
	c net.Conn
	r *bufio.Reader
}

// startPeer starts a fake manager endpoint. handler runs once per
// accepted connection.
func startPeer(t *testing.T, handler func(p *peer)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(&peer{t: t, c: c, r: bufio.NewReader(c)})
		}
	}()

	return ln.Addr().String()
}

func (p *peer) greet() {
	p.send("Asterisk Call Manager/5.0.2\r\n")
}

func (p *peer) send(s string) {
	p.c.Write([]byte(s))
}

func (p *peer) sendBlock(lines ...string) {
	p.send(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func (p *peer) sendEvent(name string, kv ...string) {
	lines := []string{"Event: " + name}
	for i := 0; i+1 < len(kv); i += 2 {
		lines = append(lines, kv[i]+": "+kv[i+1])
	}
	p.sendBlock(lines...)
}

func (p *peer) sendResponse(id string, success bool, kv ...string) {
	status := "Success"
	if !success {
		status = "Error"
	}
	lines := []string{"Response: " + status}
	if id != "" {
		lines = append(lines, "ActionID: "+id)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		lines = append(lines, kv[i]+": "+kv[i+1])
	}
	p.sendBlock(lines...)
}

// readBlock reads one action block, first value winning for duplicate
// keys. Returns nil once the connection is gone.
func (p *peer) readBlock() map[string]string {
	m := make(map[string]string)
	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(m) == 0 {
				continue
			}
			return m
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			key = strings.TrimSpace(key)
			if _, dup := m[key]; !dup {
				m[key] = strings.TrimSpace(value)
			}
		}
	}
}

func (p *peer) expectAction(name string) map[string]string {
	m := p.readBlock()
	if m == nil {
		p.t.Errorf("peer: connection closed awaiting %s", name)
		return nil
	}
	if m["Action"] != name {
		p.t.Errorf("peer: got action %q, want %q", m["Action"], name)
	}
	return m
}

// acceptLogin performs the greeting and accepts the Login action.
func (p *peer) acceptLogin() map[string]string {
	p.greet()
	m := p.expectAction("Login")
	if m != nil {
		p.sendResponse(m["ActionID"], true, "Message", "Authentication accepted")
	}
	return m
}

func (p *peer) close() {
	p.c.Close()
}

func testSessionConfig(addr string) SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Address = addr
	cfg.Username = "dash"
	cfg.Secret = "secret"
	cfg.ActionTimeout = 2 * time.Second
	cfg.ReconnectBaseWait = 20 * time.Millisecond
	cfg.ReconnectMaxWait = 100 * time.Millisecond
	return cfg
}

func startSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()

	s := NewSession(cfg, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state = %v, want %v", s.State(), want)
}
