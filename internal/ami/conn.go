package ami

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Conn owns one TCP stream to the manager interface and frames it into
// Key: Value blocks terminated by a blank line.
type Conn struct {
	cfg    ConnConfig
	logger *slog.Logger

	tcp    net.Conn
	reader *bufio.Reader
	banner string

	// Write serialization
	writeMu sync.Mutex

	// State
	mu     sync.Mutex
	closed bool
}

// Dial connects to the manager interface and consumes the greeting line
// the peer sends before any block.
func Dial(ctx context.Context, cfg ConnConfig, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	tcp, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial manager %s: %w", cfg.Address, err)
	}

	c := &Conn{
		cfg:    cfg,
		logger: logger,
		tcp:    tcp,
		reader: bufio.NewReader(tcp),
	}

	if cfg.BannerTimeout > 0 {
		tcp.SetReadDeadline(time.Now().Add(cfg.BannerTimeout))
	}
	banner, err := c.reader.ReadString('\n')
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("read manager greeting: %w", err)
	}
	tcp.SetReadDeadline(time.Time{})
	c.banner = strings.TrimRight(banner, "\r\n")

	logger.Debug("manager connected", "address", cfg.Address, "banner", c.banner)

	return c, nil
}

// Banner returns the greeting line sent by the peer on connect.
func (c *Conn) Banner() string {
	return c.banner
}

// ReadBlock reads one framed block. End of stream surfaces as io.EOF. A
// line that does not follow the Key: Value form fails the block with
// *FramingError after consuming through the next blank line, so the
// following ReadBlock starts on a clean boundary.
func (c *Conn) ReadBlock() (Fields, error) {
	var frame Fields

	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}

		if line == "" {
			// Stray blank lines between blocks are skipped.
			if len(frame) == 0 {
				continue
			}
			return frame, nil
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			c.resync()
			return nil, &FramingError{Line: line}
		}
		frame.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
}

// readLine reads one line with the trailing terminator stripped. The peer
// sends CRLF; bare LF is accepted too.
func (c *Conn) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if c.isClosed() {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// resync consumes lines through the next blank line after a framing
// failure. Read errors end the resync; the next ReadBlock reports them.
func (c *Conn) resync() {
	for {
		line, err := c.readLine()
		if err != nil || line == "" {
			return
		}
	}
}

// WriteBlock writes one encoded action block. Writes are serialized so
// concurrent submitters never interleave partial frames.
func (c *Conn) WriteBlock(data []byte) error {
	if c.isClosed() {
		return ErrConnectionLost
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.tcp.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.tcp.Write(data); err != nil {
		return fmt.Errorf("write action block: %w", err)
	}
	return nil
}

// Close releases the socket. Idempotent; a blocked ReadBlock observes
// end of stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.tcp.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
