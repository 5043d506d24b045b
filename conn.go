package gocdp

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Message Codec: DefaultReadBufferSize/DefaultWriteBufferSize
// bound the per-connection websocket buffers.
var (
	// DefaultReadBufferSize is the default maximum read buffer size.
	DefaultReadBufferSize = 25 * 1024 * 1024

	// DefaultWriteBufferSize is the default maximum write buffer size.
	DefaultWriteBufferSize = 10 * 1024 * 1024

	// DefaultPingInterval is how often Conn pings an idle websocket to
	// surface a dead peer as a Read error quickly, rather than waiting on
	// the OS-level TCP timeout — the faster that error arrives, the sooner
	// Browser.tryReconnect (see browser.go) gets a chance to redial.
	DefaultPingInterval = 15 * time.Second
)

// Transport is the common interface used to send/receive CDP messages over
// the single duplex connection to a browser.
type Transport interface {
	Read(*cdproto.Message) error
	Write(*cdproto.Message) error
	io.Closer
}

// Conn wraps a gorilla/websocket.Conn and implements the Message Codec: it
// serializes commands to JSON (auto-assigning nothing itself — id assignment
// is the Connection Core's job) and decodes inbound text frames into
// cdproto.Message values; sorting them into responses and events is left to
// Browser.handleInbound.
type Conn struct {
	*websocket.Conn

	// buf reuses read space across calls to avoid an allocation per frame.
	buf bytes.Buffer

	// lexer/writer are reused across Read/Write to avoid per-call easyjson
	// allocations.
	lexer  jlexer.Lexer
	writer jwriter.Writer

	dbgf func(string, ...interface{})

	writeMu sync.Mutex

	pingInterval time.Duration
	stopPing     chan struct{}
	pingOnce     sync.Once

	closeOnce sync.Once

	bytesRead    int64
	bytesWritten int64
}

// DialContext dials urlstr (the browser-level debugger WebSocket URL) using
// gorilla/websocket and starts its keepalive ping loop.
func DialContext(ctx context.Context, urlstr string, opts ...DialOption) (*Conn, error) {
	d := &websocket.Dialer{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
	}

	conn, _, err := d.DialContext(ctx, urlstr, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{Conn: conn, pingInterval: DefaultPingInterval, stopPing: make(chan struct{})}
	for _, o := range opts {
		o(c)
	}
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// pingLoop periodically writes a websocket ping control frame. A peer that
// stopped responding (crashed renderer, dropped NAT binding, killed browser
// process) will eventually fail this write, which unblocks a concurrent Read
// waiting in NextReader far sooner than most OS read timeouts would.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.stopPing:
			return
		}
	}
}

func (c *Conn) bufReadAll(r io.Reader) ([]byte, error) {
	c.buf.Reset()
	_, err := c.buf.ReadFrom(r)
	return c.buf.Bytes(), err
}

// Read decodes the next inbound frame into msg. A binary frame is a protocol
// violation: CDP only ever sends text frames.
func (c *Conn) Read(msg *cdproto.Message) error {
	typ, r, err := c.NextReader()
	if err != nil {
		return err
	}
	if typ != websocket.TextMessage {
		return ErrInvalidWebsocketMessage
	}

	buf, err := c.bufReadAll(r)
	if err != nil {
		return err
	}
	atomic.AddInt64(&c.bytesRead, int64(len(buf)))
	if c.dbgf != nil {
		c.dbgf("<- %s", buf)
	}

	c.lexer = jlexer.Lexer{Data: buf}
	msg.UnmarshalEasyJSON(&c.lexer)
	if err := c.lexer.Error(); err != nil {
		return err
	}

	// buf is backed by c.buf's internal storage and msg.Result is an
	// easyjson.RawMessage pointing into it; copy it out so the next Read
	// doesn't corrupt an in-flight result.
	msg.Result = append([]byte{}, msg.Result...)
	return nil
}

// Write encodes and sends msg. Writes are serialized against the ping loop's
// control frames, since gorilla/websocket forbids concurrent writers on one
// connection.
func (c *Conn) Write(msg *cdproto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w, err := c.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	defer w.Close()

	c.writer = jwriter.Writer{}
	msg.MarshalEasyJSON(&c.writer)
	if err := c.writer.Error; err != nil {
		return err
	}

	var n int
	if c.dbgf != nil {
		buf, _ := c.writer.BuildBytes()
		c.dbgf("-> %s", buf)
		if n, err = w.Write(buf); err != nil {
			return err
		}
	} else {
		n64, err := c.writer.DumpTo(w)
		n = int(n64)
		if err != nil {
			return err
		}
	}
	atomic.AddInt64(&c.bytesWritten, int64(n))
	return w.Close()
}

// Close stops the ping loop and closes the underlying websocket connection.
// Idempotent: Browser.tryReconnect and Browser.Shutdown can both reach a
// stale Conn's Close without double-closing the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.pingOnce.Do(func() { close(c.stopPing) })
		err = c.Conn.Close()
	})
	return err
}

// Stats returns the cumulative bytes read from and written to this
// connection, for callers wiring up connection-health diagnostics alongside
// the Network Log Store.
func (c *Conn) Stats() (read, written int64) {
	return atomic.LoadInt64(&c.bytesRead), atomic.LoadInt64(&c.bytesWritten)
}

// ForceIP forces the host component of urlstr to be an IP address.
//
// Since Chrome 66+, CDP clients connecting to a browser must send the
// "Host:" header as either an IP address or "localhost".
func ForceIP(urlstr string) string {
	if i := strings.Index(urlstr, "://"); i != -1 {
		scheme := urlstr[:i+3]
		host, port, path := urlstr[len(scheme):], "", ""
		if i := strings.Index(host, "/"); i != -1 {
			host, path = host[:i], host[i:]
		}
		if i := strings.Index(host, ":"); i != -1 {
			host, port = host[:i], host[i:]
		}
		if addr, err := net.ResolveIPAddr("ip", host); err == nil {
			urlstr = scheme + addr.IP.String() + port + path
		}
	}
	return urlstr
}

// DialOption configures a Conn at dial time.
type DialOption func(*Conn)

// WithConnDebugf sets a protocol logger invoked with every raw frame
// read/written, for low-level debugging.
func WithConnDebugf(f func(string, ...interface{})) DialOption {
	return func(c *Conn) { c.dbgf = f }
}

// WithPingInterval overrides DefaultPingInterval for one Conn. An interval
// of zero disables the keepalive ping loop entirely.
func WithPingInterval(d time.Duration) DialOption {
	return func(c *Conn) { c.pingInterval = d }
}
