package gocdp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/sirupsen/logrus"
)

// Connection Core: Browser owns the single duplex WebSocket and the
// command/response correlation table. It is the only thing that ever calls
// Transport.Write; every other type (Session, Tab, WebElement) reaches the
// socket through Browser.Execute.

// Executor is satisfied by anything that can run a CDP command and decode
// its result, matching cdproto's own generated call signature.
type Executor interface {
	Execute(ctx context.Context, method string, params, res interface{}) error
}

type cmdJob struct {
	msg  *cdproto.Message
	resp chan *cdproto.Message
}

// Browser is the root of the object model: one Browser per WebSocket
// connection to a browser's debugger endpoint.
type Browser struct {
	conn Transport

	next int64 // atomic command id counter

	cmdQueue chan cmdJob

	mu      sync.Mutex
	pending map[int64]chan *cdproto.Message
	closed  chan struct{}
	closeOnce sync.Once

	// redial, when set, lets run re-establish the Connection Core after a
	// transient read failure instead of shutting down permanently. Attached
	// Sessions are marked stale and lazily re-attached on next use (see
	// Session.Execute and SessionManager.reattach) rather than eagerly
	// replayed here.
	redial func(ctx context.Context) (Transport, error)

	sessions *SessionManager
	router   *EventRouter

	log *logrus.Entry

	logf    func(string, ...interface{})
	errf    func(string, ...interface{})
	consolf func(string, ...interface{})
}

// BrowserOption configures a Browser at construction time.
type BrowserOption func(*Browser)

// WithLogf sets the informational logging func (default: logrus Info).
func WithLogf(f func(string, ...interface{})) BrowserOption {
	return func(b *Browser) { b.logf = f }
}

// WithErrorf sets the error logging func (default: logrus Error).
func WithErrorf(f func(string, ...interface{})) BrowserOption {
	return func(b *Browser) { b.errf = f }
}

// WithConsolef sets the func invoked for Runtime.consoleAPICalled messages
// forwarded from the page (default: logrus Debug).
func WithConsolef(f func(string, ...interface{})) BrowserOption {
	return func(b *Browser) { b.consolf = f }
}

// WithLogEntry attaches a *logrus.Entry used for structured component
// logging, in place of the package-wide fallback logger.
func WithLogEntry(entry *logrus.Entry) BrowserOption {
	return func(b *Browser) { b.log = entry }
}

// WithRedialer enables transient-disconnect recovery: when the inbound read
// pump fails, run calls redial to obtain a fresh Transport instead of
// shutting down permanently. Every attached Session is marked stale and
// re-attaches lazily, the next time it is used, rather than all at once.
// Without a redialer, any read failure is terminal.
func WithRedialer(redial func(ctx context.Context) (Transport, error)) BrowserOption {
	return func(b *Browser) { b.redial = redial }
}

// NewBrowser wraps conn in a Browser, ready for Start.
func NewBrowser(conn Transport, opts ...BrowserOption) *Browser {
	b := &Browser{
		conn:     conn,
		cmdQueue: make(chan cmdJob),
		pending:  make(map[int64]chan *cdproto.Message),
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = logrus.NewEntry(baseLogger)
	}
	b.log = componentLogger(b.log, "browser")
	if b.logf == nil {
		b.logf = b.log.Infof
	}
	if b.errf == nil {
		b.errf = b.log.Errorf
	}
	if b.consolf == nil {
		b.consolf = b.log.Debugf
	}
	b.router = NewEventRouter(b.log)
	b.sessions = NewSessionManager(b, b.log)
	return b
}

// Start launches the inbound read pump and the outbound command writer.
// Callers invoke it once, immediately after NewBrowser.
func (b *Browser) Start(ctx context.Context) {
	go b.run(ctx)
}

// Shutdown closes the underlying transport and unblocks every command
// waiting on a response with ErrConnectionClosed.
func (b *Browser) Shutdown() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.conn.Close()

		b.mu.Lock()
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
	})
	return err
}

// run is the single inbound pump: it alternates between reading frames off
// the socket and servicing outbound command jobs, exactly as the original
// client library's Browser.run does, so that writes are serialized onto one
// goroutine even though Execute is called concurrently from many callers.
// A transient read failure no longer shuts the Browser down permanently: if
// a redialer was configured (WithRedialer), run re-dials and resumes pumping
// instead of returning, surviving the kind of brief disconnect a websocket
// proxy restart or flaky network hop can cause.
func (b *Browser) run(ctx context.Context) {
	defer b.Shutdown()

	for {
		if !b.pump(ctx) {
			return
		}
		if !b.tryReconnect(ctx) {
			return
		}
	}
}

// pump drains inbound frames and outbound command jobs against the current
// b.conn until it fails, the context is cancelled, or Shutdown runs. It
// returns true for a transient read failure (the caller should attempt a
// reconnect) and false for deliberate shutdown/cancellation.
func (b *Browser) pump(ctx context.Context) bool {
	inbound := make(chan *cdproto.Message)
	inboundErr := make(chan error, 1)
	go func() {
		for {
			msg := new(cdproto.Message)
			if err := b.conn.Read(msg); err != nil {
				inboundErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-b.closed:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-b.closed:
			return false
		case err := <-inboundErr:
			b.errf("connection read failed: %v", err)
			return true

		case msg := <-inbound:
			b.handleInbound(ctx, msg)

		case job := <-b.cmdQueue:
			if err := b.conn.Write(job.msg); err != nil {
				b.errf("connection write failed: %v", err)
				b.mu.Lock()
				delete(b.pending, job.msg.ID)
				b.mu.Unlock()
				close(job.resp)
			}
		}
	}
}

// maxReconnectAttempts bounds how many times tryReconnect redials before
// giving up and letting the Browser shut down for good.
const maxReconnectAttempts = 5

// tryReconnect redials via b.redial with exponential backoff, swapping in
// the new Transport on success and marking every attached Session stale so
// it re-attaches lazily (see SessionManager.reattach) the next time it is
// used, instead of eagerly replaying every target's state up front.
func (b *Browser) tryReconnect(ctx context.Context) bool {
	if b.redial == nil {
		return false
	}

	backoff := 250 * time.Millisecond
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-b.closed:
			return false
		case <-time.After(backoff):
		}

		conn, err := b.redial(ctx)
		if err != nil {
			b.errf("reconnect attempt %d/%d failed: %v", attempt, maxReconnectAttempts, err)
			backoff *= 2
			continue
		}

		b.mu.Lock()
		b.conn = conn
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()

		b.logf("reconnected after %d attempt(s)", attempt)
		b.sessions.markAllStale()
		return true
	}

	b.errf("giving up reconnecting after %d attempts", maxReconnectAttempts)
	return false
}

func (b *Browser) handleInbound(ctx context.Context, msg *cdproto.Message) {
	switch {
	case msg.Method != "":
		b.handleEvent(ctx, msg)
	case msg.ID != 0:
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		if ok {
			delete(b.pending, msg.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- msg
			close(ch)
		}
	}
}

func (b *Browser) handleEvent(ctx context.Context, msg *cdproto.Message) {
	if msg.Method == runtime.EventConsoleAPICalled {
		b.consolf("console event on session %s", msg.SessionID)
	}
	if msg.Method == target.EventReceivedMessageFromTarget ||
		msg.Method == target.EventAttachedToTarget ||
		msg.Method == target.EventDetachedFromTarget {
		b.sessions.handleTargetEvent(ctx, msg)
		return
	}

	ev, err := cdproto.UnmarshalMessage(msg)
	if err != nil {
		b.errf("failed to unmarshal event %s: %v", msg.Method, err)
		return
	}
	b.router.Dispatch(ctx, msg.SessionID, msg.Method, ev)
}

// Execute sends method with params over sessID's session (sessID=="" means
// the browser-level target) and decodes the result into res. It blocks
// until a response, ctx cancellation, or connection close, whichever comes
// first.
func (b *Browser) Execute(ctx context.Context, sessID target.SessionID, method string, params, res interface{}) error {
	id := atomic.AddInt64(&b.next, 1)

	buf, err := marshalParams(params)
	if err != nil {
		return err
	}

	msg := &cdproto.Message{
		ID:        id,
		Method:    cdproto.MethodType(method),
		Params:    buf,
		SessionID: sessID,
	}

	ch := make(chan *cdproto.Message, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	select {
	case b.cmdQueue <- cmdJob{msg: msg, resp: ch}:
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return ctx.Err()
	case <-b.closed:
		return ErrConnectionClosed
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnectionClosed
		}
		if resp.Error != nil {
			return &cdpError{code: resp.Error.Code, message: resp.Error.Message}
		}
		if res == nil || len(resp.Result) == 0 {
			return nil
		}
		return unmarshalResult(resp.Result, res)
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrConnectionClosed
	}
}

// ExecuteWithTimeout is a convenience wrapper applying a per-call deadline,
// surfacing ErrCommandTimeout instead of the generic context error so
// callers can distinguish a slow browser from an explicitly cancelled
// caller context.
func (b *Browser) ExecuteWithTimeout(ctx context.Context, sessID target.SessionID, method string, params, res interface{}, timeout time.Duration) error {
	if timeout <= 0 {
		return b.Execute(ctx, sessID, method, params, res)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := b.Execute(cctx, sessID, method, params, res)
	if err == context.DeadlineExceeded {
		return ErrCommandTimeout
	}
	return err
}

// NewBrowserContext creates a new isolated browser context (an incognito-
// style profile), for running tabs under isolated cookies/cache/storage via
// NewTabInContext.
func (b *Browser) NewBrowserContext(ctx context.Context) (target.BrowserContextID, error) {
	return b.sessions.CreateBrowserContext(ctx)
}

// DisposeBrowserContext disposes browserContextID and every target still
// open within it.
func (b *Browser) DisposeBrowserContext(ctx context.Context, browserContextID target.BrowserContextID) error {
	return b.sessions.DisposeBrowserContext(ctx, browserContextID)
}

// NewTabInContext opens a new page Tab inside browserContextID (as returned
// by NewBrowserContext), or the default context when empty.
func (b *Browser) NewTabInContext(ctx context.Context, urlstr string, browserContextID target.BrowserContextID) (*Tab, error) {
	sess, err := b.sessions.NewPage(ctx, urlstr, browserContextID)
	if err != nil {
		return nil, err
	}
	return newTab(b, sess), nil
}

// executorForTarget returns an Executor bound to a fixed sessID, handed to
// cdproto-generated command structs' .Do(ctx) method via cdp.Executor.
func (b *Browser) executorForTarget(sessID target.SessionID) Executor {
	return &sessionExecutor{browser: b, sessID: sessID}
}

type sessionExecutor struct {
	browser *Browser
	sessID  target.SessionID
}

func (s *sessionExecutor) Execute(ctx context.Context, method string, params, res interface{}) error {
	return s.browser.Execute(ctx, s.sessID, method, params, res)
}

type cdpError struct {
	code    int64
	message string
}

func (e *cdpError) Error() string { return e.message }
