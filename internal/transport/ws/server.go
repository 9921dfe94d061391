// Package ws carries codec frames over websocket binary messages. The server
// side admits connections as session bridges; Dial returns the same bridge
// for clients.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ticksync.dev/internal/observability"
	"ticksync.dev/internal/server/sessions"
)

var (
	ErrClosed    = errors.New("ws: bridge closed")
	ErrQueueFull = errors.New("ws: send queue full")
)

type Config struct {
	// QueueSize bounds both the inbound and the outbound frame queue.
	QueueSize int
	// MaxFrameBytes caps one inbound websocket message.
	MaxFrameBytes int64
	// InboundPerSecond and InboundBurst shape inbound frames per connection.
	// Zero disables the limit.
	InboundPerSecond float64
	InboundBurst     int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		MaxFrameBytes: 1 << 20,
		ReadTimeout:   60 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Manager upgrades HTTP requests and queues the resulting bridges until the
// tick loop accepts them.
type Manager struct {
	log logr.Logger
	cfg Config

	upgrader websocket.Upgrader
	pending  chan *Bridge
}

func NewManager(cfg Config, log logr.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		log: log,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		pending: make(chan *Bridge, 64),
	}
}

// Accept returns the next connected bridge without blocking.
func (m *Manager) Accept() (sessions.Bridge, bool) {
	select {
	case b := <-m.pending:
		return b, true
	default:
		return nil, false
	}
}

func (m *Manager) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := m.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			m.log.V(1).Info("upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		b := newBridge(conn, m.cfg, m.log)
		go b.writeLoop()

		select {
		case m.pending <- b:
		default:
			m.log.Info("accept queue full", "remote", b.RemoteAddr())
			b.closeWith(websocket.CloseTryAgainLater, "server busy")
			return
		}

		// Reader loop.
		b.readLoop()
	}
}

// Dial connects to a server endpoint and starts the bridge's reader and
// writer.
func Dial(ctx context.Context, url string, cfg Config, log logr.Logger) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	b := newBridge(conn, cfg.withDefaults(), log)
	go b.writeLoop()
	go b.readLoop()
	return b, nil
}

// Bridge is one websocket connection. Receive, Send and Close may be called
// from any goroutine.
type Bridge struct {
	log  logr.Logger
	cfg  Config
	conn *websocket.Conn

	limiter *rate.Limiter
	in      chan []byte
	out     chan []byte
	// closing tells the writer to flush out and end the connection.
	closing chan struct{}

	connected   atomic.Bool
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	remote      string
}

func newBridge(conn *websocket.Conn, cfg Config, log logr.Logger) *Bridge {
	b := &Bridge{
		log:     log,
		cfg:     cfg,
		conn:    conn,
		in:      make(chan []byte, cfg.QueueSize),
		out:     make(chan []byte, cfg.QueueSize),
		closing: make(chan struct{}),
		remote:  conn.RemoteAddr().String(),
	}
	if cfg.InboundPerSecond > 0 {
		burst := max(cfg.InboundBurst, 1)
		b.limiter = rate.NewLimiter(rate.Limit(cfg.InboundPerSecond), burst)
	}
	b.connected.Store(true)
	conn.SetReadLimit(cfg.MaxFrameBytes)
	return b
}

func (b *Bridge) Receive() ([]byte, bool) {
	select {
	case f := <-b.in:
		return f, true
	default:
		return nil, false
	}
}

// Send queues frame for the writer. It never blocks: a full queue drops the
// frame and reports ErrQueueFull.
func (b *Bridge) Send(frame []byte) error {
	if !b.connected.Load() {
		return ErrClosed
	}
	select {
	case b.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bridge) Connected() bool    { return b.connected.Load() }
func (b *Bridge) RemoteAddr() string { return b.remote }

// Close stops accepting frames and returns without blocking. Frames queued
// before Close are still written, followed by a close message.
func (b *Bridge) Close() error {
	b.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (b *Bridge) closeWith(code int, reason string) {
	b.closeOnce.Do(func() {
		b.closeCode, b.closeReason = code, reason
		b.connected.Store(false)
		close(b.closing)
	})
}

func (b *Bridge) readLoop() {
	defer b.Close()
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		kind, msg, err := b.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.V(1).Info("read failed", "remote", b.remote, "err", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			observability.RecordFrameDropped("text")
			continue
		}
		if b.limiter != nil && !b.limiter.Allow() {
			observability.RecordFrameDropped("rate")
			continue
		}
		select {
		case b.in <- msg:
		default:
			observability.RecordFrameDropped("queue")
		}
	}
}

// writeLoop owns every write on conn and closes it when it returns.
func (b *Bridge) writeLoop() {
	defer b.conn.Close()
	for {
		select {
		case <-b.closing:
			b.flush()
			_ = b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(b.closeCode, b.closeReason), time.Now().Add(time.Second))
			return
		case f := <-b.out:
			if err := b.write(f); err != nil {
				b.log.V(1).Info("write failed", "remote", b.remote, "err", err)
				b.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// flush writes what is still queued once closing has been signalled.
func (b *Bridge) flush() {
	for {
		select {
		case f := <-b.out:
			if err := b.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (b *Bridge) write(f []byte) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return b.conn.WriteMessage(websocket.BinaryMessage, f)
}
