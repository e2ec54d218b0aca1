package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/mtc-agent/internal/shdr"
)

// errKind categorizes why connectAndServe returned, so Run can decide
// whether to retry, mirroring adapter.cpp::thread's split between a
// malformed target (stop, don't retry) and a connection that failed or
// was closed after dialing (retry after reconnect_interval).
type errKind int

const (
	errKindIO errKind = iota
	errKindInvalidArgument
)

type connError struct {
	kind errKind
	err  error
}

func (e *connError) Error() string { return e.err.Error() }
func (e *connError) Unwrap() error { return e.err }

// EventHandler receives a decoded SHDR event (command or data line),
// tagged with the adapter's identity and the option snapshot in effect
// when the event was decoded.
type EventHandler func(identity string, ev shdr.Event, opts Options)

// StatusHandler is notified whenever the adapter's connection state
// changes, so the caller can emit a CONNECTION_STATUS observation.
type StatusHandler func(identity string, state State)

// Config configures a single adapter connection.
type Config struct {
	Host              string
	Port              int
	LegacyTimeout     time.Duration // default 600s
	ReconnectInterval time.Duration // default 10s
	Log               zerolog.Logger
	OnEvent           EventHandler
	OnStatus          StatusHandler
}

// Connection is a single TCP client connection to an adapter, owning its
// socket, parser, and option snapshot.
type Connection struct {
	cfg      Config
	identity string

	state   atomic.Int32
	stopped atomic.Bool

	opts atomic.Pointer[Options]

	connMu sync.Mutex
	conn   net.Conn

	lastRead atomic.Pointer[time.Time]

	wg sync.WaitGroup
}

// New returns a connection in state CLOSED, not yet dialing.
func New(cfg Config) *Connection {
	if cfg.LegacyTimeout <= 0 {
		cfg.LegacyTimeout = 600 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	c := &Connection{
		cfg:      cfg,
		identity: fmt.Sprintf("_%s_%d", cfg.Host, cfg.Port),
	}
	empty := Options{}
	c.opts.Store(&empty)
	c.setState(StateClosed)
	return c
}

// Identity returns the "_host_port" tag used for data items and observations.
func (c *Connection) Identity() string {
	return c.identity
}

// State returns the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Options returns the current option snapshot.
func (c *Connection) Options() Options {
	return *c.opts.Load()
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(c.identity, s)
	}
}

// Run dials, reads, and reconnects until ctx is cancelled or Stop is
// called. It blocks until the worker has exited; callers typically run
// it in its own goroutine.
func (c *Connection) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	for !c.stopped.Load() {
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.connectAndServe(ctx); err != nil {
			c.cfg.Log.Warn().Err(err).Str("adapter", c.identity).Msg("adapter connection ended")
			var ce *connError
			if errors.As(err, &ce) && ce.kind == errKindInvalidArgument {
				c.cfg.Log.Error().Err(err).Str("adapter", c.identity).Msg("adapter target is invalid, stopping without retry")
				c.stopped.Store(true)
			}
		}

		if c.stopped.Load() {
			c.setState(StateStopped)
			return
		}
		c.setState(StateClosed)

		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// connectAndServe dials once and serves the connection until it ends
// for any reason (remote close, I/O error, heartbeat timeout, or Stop).
func (c *Connection) connectAndServe(ctx context.Context) error {
	dialer := net.Dialer{}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		kind := errKindIO
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) {
			kind = errKindInvalidArgument
		}
		return &connError{kind: kind, err: fmt.Errorf("dial %s: %w", addr, err)}
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	c.setState(StateEstablished)
	now := time.Now()
	c.lastRead.Store(&now)

	go c.watchHeartbeat(ctx)

	parser := &shdr.Parser{}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		now := time.Now()
		c.lastRead.Store(&now)

		if strings.TrimSpace(line) == "* PING" {
			c.sendPong()
			continue
		}

		ev := parser.Feed(line)
		switch ev.Kind {
		case shdr.EventCommand:
			if shdr.IsRecognizedOption(ev.Command.Key) {
				c.opts.Store(ptr(c.Options().WithOption(ev.Command.Key, ev.Command.Value, shdr.IsTrue)))
			}
			if c.cfg.OnEvent != nil {
				c.cfg.OnEvent(c.identity, ev, c.Options())
			}
		case shdr.EventData:
			if c.cfg.OnEvent != nil {
				c.cfg.OnEvent(c.identity, ev, c.Options())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &connError{kind: errKindIO, err: fmt.Errorf("read: %w", err)}
	}
	return nil
}

func (c *Connection) sendPong() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	msg := fmt.Sprintf("* PONG %d\n", c.cfg.LegacyTimeout.Milliseconds())
	_, _ = conn.Write([]byte(msg))
}

// watchHeartbeat closes the connection if no bytes have been received
// within legacy_timeout*2, per spec §4.3.
func (c *Connection) watchHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.LegacyTimeout)
	defer ticker.Stop()

	threshold := c.cfg.LegacyTimeout * 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := c.lastRead.Load()
			if last == nil {
				continue
			}
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				return
			}
			if time.Since(*last) > threshold {
				c.cfg.Log.Warn().Str("adapter", c.identity).Msg("heartbeat timeout, closing connection")
				conn.Close()
				return
			}
		}
	}
}

// Stop requests a graceful shutdown: sets the stopped flag, closes the
// socket to unblock the read, and waits for the worker to exit.
func (c *Connection) Stop() {
	c.stopped.Store(true)
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
	c.wg.Wait()
}

func ptr[T any](v T) *T { return &v }
