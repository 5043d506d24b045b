package gocdp

import (
	"context"

	"github.com/chromedp/cdproto/target"
)

// contextKey is an unexported type so Context values never collide with
// other packages' context keys.
type contextKey struct{}

// Context carries the Browser and the current default Session through a
// context.Context, the way the original client library's chromedp.Context does.
type Context struct {
	Allocator Allocator
	Browser   *Browser
	session   *Session

	// cancel tears down the Browser when the Context's owning context.Context
	// is cancelled.
	cancel context.CancelFunc
}

// ContextOption configures a Context at NewContext time.
type ContextOption func(*Context)

// WithAllocator overrides the default (NewRemoteAllocator-based) allocator
// a Context uses to obtain its Browser.
func WithAllocator(a Allocator) ContextOption {
	return func(c *Context) { c.Allocator = a }
}

// NewContext returns a new context.Context carrying a *Context, derived from
// parent. The Browser is not dialed until the first Run call (or
// immediately if parent already carries a *Context, in which case it is
// reused). Cancelling the returned context.Context (via the returned
// CancelFunc or parent's own cancellation) shuts the Browser down.
func NewContext(parent context.Context, opts ...ContextOption) (context.Context, context.CancelFunc) {
	c := &Context{}
	if pc, ok := parent.Value(contextKey{}).(*Context); ok {
		c.Allocator = pc.Allocator
		c.Browser = pc.Browser
		c.session = pc.session
	}
	for _, o := range opts {
		o(c)
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	ctx = context.WithValue(ctx, contextKey{}, c)

	return ctx, func() {
		cancel()
		if c.Browser != nil {
			_ = c.Browser.sessions.CloseAll(context.Background())
			_ = c.Browser.Shutdown()
		}
	}
}

// FromContext extracts the *Context value NewContext stored on ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}

// ensureBrowser lazily allocates c.Browser and a default page Session the
// first time Run is called against a fresh Context.
func ensureBrowser(ctx context.Context, c *Context) (*Tab, error) {
	if c.Allocator == nil {
		c.Allocator = NewRemoteAllocator("http://127.0.0.1:9222")
	}
	if c.Browser == nil {
		b, err := c.Allocator.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		b.Start(ctx)
		c.Browser = b
	}
	if c.session == nil {
		sess, err := c.Browser.sessions.NewPage(ctx, "", target.BrowserContextID(""))
		if err != nil {
			return nil, err
		}
		c.session = sess
	}
	return newTab(c.Browser, c.session), nil
}

// Run resolves ctx's Context (creating the Browser/default Tab on first
// use) and invokes each action in order against it, short-circuiting on the
// first error.
func Run(ctx context.Context, actions ...Action) error {
	c, ok := FromContext(ctx)
	if !ok {
		return ErrInvalidContext
	}
	tab, err := ensureBrowser(ctx, c)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := a(ctx, tab); err != nil {
			return err
		}
	}
	return nil
}

// Action is one step of a Run call: an operation against tab.
type Action func(ctx context.Context, tab *Tab) error
