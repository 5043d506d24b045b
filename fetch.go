package gocdp

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
)

// Request Interception Engine: enables the Fetch domain,
// dispatches requestPaused/authRequired events to registered handlers, and
// enforces that every paused request is resolved exactly once
// (continue/fail/fulfill/continueWithAuth), the same invariant go-rod's own
// Fetch-domain plumbing is built around.

// InterceptHandler decides how to resolve one paused request. Returning a
// non-nil Resolution applies it immediately; returning a Resolution built
// with DeferRequest leaves the request open for a later, requestId-keyed
// Tab.ContinueByID/FailByID/FulfillByID call; returning nil lets FetchEngine
// fall through to ContinueRequest (pass the request through unmodified).
type InterceptHandler func(ctx context.Context, ev *fetch.EventRequestPaused) *Resolution

// AuthHandler decides how to answer one Fetch.authRequired challenge not
// already auto-resolved by stored proxy credentials (see
// Tab.SetProxyCredentials).
type AuthHandler func(ctx context.Context, ev *fetch.EventAuthRequired) *fetch.AuthChallengeResponse

// Resolution is the outcome an InterceptHandler picks for a paused request.
type Resolution struct {
	kind resolutionKind

	// Continue fields.
	URL      string
	Method   string
	Headers  []*fetch.HeaderEntry
	PostData string

	// Fail fields.
	ErrorReason network.ErrorReason

	// Fulfill fields.
	ResponseCode    int64
	ResponseHeaders []*fetch.HeaderEntry
	Body            []byte
}

type resolutionKind int

const (
	resolveContinue resolutionKind = iota
	resolveFail
	resolveFulfill
	resolveDefer
)

// ContinueRequest resolves the request unmodified.
func ContinueRequest() *Resolution { return &Resolution{kind: resolveContinue} }

// FailRequest resolves the request by aborting it with reason.
func FailRequest(reason network.ErrorReason) *Resolution {
	return &Resolution{kind: resolveFail, ErrorReason: reason}
}

// FulfillRequest resolves the request by synthesizing a response, without
// it ever reaching the network.
func FulfillRequest(code int64, headers []*fetch.HeaderEntry, body []byte) *Resolution {
	return &Resolution{kind: resolveFulfill, ResponseCode: code, ResponseHeaders: headers, Body: body}
}

// DeferRequest leaves the paused request open: FetchEngine marks nothing
// resolved yet, and the caller is expected to resolve it later by requestId
// via Tab.ContinueByID/FailByID/FulfillByID, e.g. while waiting on some
// out-of-band decision (a human approval, a second network call) that an
// InterceptHandler can't block on without stalling every other in-flight
// request on this tab.
func DeferRequest() *Resolution { return &Resolution{kind: resolveDefer} }

// FetchEngine owns one Tab's Fetch-domain subscriptions and the
// exactly-once bookkeeping for in-flight paused requests.
type FetchEngine struct {
	sess *Session

	mu       sync.Mutex
	resolved map[fetch.RequestID]bool

	onPaused    InterceptHandler
	onAuth      AuthHandler
	unsubscribe []func()

	// proxyUsername/proxyPassword, when set via Tab.SetProxyCredentials, let
	// handleAuth answer a Fetch.authRequired challenge whose AuthChallenge.Source
	// is "Proxy" without involving onAuth at all, mirroring the way a browser
	// launched with --proxy-server answers its own proxy's basic-auth prompt.
	proxyUsername string
	proxyPassword string
	haveProxyAuth bool
}

// Enable turns on request interception. onPaused is invoked for every
// Fetch.requestPaused event; onAuth (may be nil, in which case
// authRequired challenges not resolved by stored proxy credentials are
// answered with Default, deferring to the browser's normal credential
// prompt) for every Fetch.authRequired event.
func (t *Tab) Enable(ctx context.Context, patterns []*fetch.RequestPattern, onPaused InterceptHandler, onAuth AuthHandler) error {
	if t.fetch == nil {
		t.fetch = &FetchEngine{sess: t.sess, resolved: make(map[fetch.RequestID]bool)}
	}
	fe := t.fetch
	fe.onPaused = onPaused
	fe.onAuth = onAuth

	params := fetch.Enable().WithPatterns(patterns).WithHandleAuthRequests(true)
	if err := t.sess.Execute(ctx, string(fetch.CommandEnable), params, nil); err != nil {
		return err
	}

	unsubPaused := t.browser.router.Subscribe(t.sess.SessID, fetch.EventRequestPaused, false, func(ctx context.Context, ev interface{}) error {
		return fe.handlePaused(ctx, ev.(*fetch.EventRequestPaused))
	})
	unsubAuth := t.browser.router.Subscribe(t.sess.SessID, fetch.EventAuthRequired, false, func(ctx context.Context, ev interface{}) error {
		return fe.handleAuth(ctx, ev.(*fetch.EventAuthRequired))
	})
	fe.unsubscribe = append(fe.unsubscribe, func() { t.browser.router.Unsubscribe(unsubPaused) }, func() { t.browser.router.Unsubscribe(unsubAuth) })

	return nil
}

// Disable turns off interception and drops the engine's subscriptions.
func (t *Tab) Disable(ctx context.Context) error {
	if t.fetch == nil {
		return nil
	}
	for _, u := range t.fetch.unsubscribe {
		u()
	}
	t.fetch = nil
	return t.sess.Execute(ctx, string(fetch.CommandDisable), fetch.Disable(), nil)
}

// SetProxyCredentials stores the username/password handleAuth auto-replies
// with whenever a Fetch.authRequired event's AuthChallenge.Source is
// "Proxy", so a page behind an authenticating forward proxy doesn't need an
// AuthHandler at all just to get past it.
func (t *Tab) SetProxyCredentials(username, password string) {
	if t.fetch == nil {
		t.fetch = &FetchEngine{sess: t.sess, resolved: make(map[fetch.RequestID]bool)}
	}
	t.fetch.proxyUsername = username
	t.fetch.proxyPassword = password
	t.fetch.haveProxyAuth = true
}

// ContinueByID resolves a previously DeferRequest-ed (or otherwise still
// in-flight) request by its requestId, for callers that captured the id
// from the original InterceptHandler invocation and are resolving it later
// rather than synchronously within that call.
func (t *Tab) ContinueByID(ctx context.Context, reqID fetch.RequestID, res *Resolution) error {
	if t.fetch == nil {
		return ErrRequestAlreadyResolved
	}
	return t.fetch.resolve(ctx, reqID, res)
}

// FailByID aborts a deferred request by its requestId.
func (t *Tab) FailByID(ctx context.Context, reqID fetch.RequestID, reason network.ErrorReason) error {
	return t.ContinueByID(ctx, reqID, FailRequest(reason))
}

// FulfillByID synthesizes a response for a deferred request by its requestId.
func (t *Tab) FulfillByID(ctx context.Context, reqID fetch.RequestID, code int64, headers []*fetch.HeaderEntry, body []byte) error {
	return t.ContinueByID(ctx, reqID, FulfillRequest(code, headers, body))
}

// markResolved records reqID as resolved, returning false (and leaving the
// map untouched) if it already was — the exactly-once guard.
func (fe *FetchEngine) markResolved(reqID fetch.RequestID) bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.resolved[reqID] {
		return false
	}
	fe.resolved[reqID] = true
	return true
}

func (fe *FetchEngine) handlePaused(ctx context.Context, ev *fetch.EventRequestPaused) error {
	var res *Resolution
	if fe.onPaused != nil {
		res = fe.onPaused(ctx, ev)
	}
	if res == nil {
		res = ContinueRequest()
	}
	if res.kind == resolveDefer {
		return nil
	}
	return fe.resolve(ctx, ev.RequestID, res)
}

// resolve applies res to reqID, the single exit path both the synchronous
// requestPaused dispatch and the standalone ContinueByID/FailByID/FulfillByID
// API funnel through, so the exactly-once guard covers both.
func (fe *FetchEngine) resolve(ctx context.Context, reqID fetch.RequestID, res *Resolution) error {
	if !fe.markResolved(reqID) {
		return ErrRequestAlreadyResolved
	}

	switch res.kind {
	case resolveFail:
		reason := res.ErrorReason
		if reason == "" {
			reason = network.ErrorReasonFailed
		}
		return fe.sess.Execute(ctx, string(fetch.CommandFailRequest), fetch.FailRequest(reqID, reason), nil)

	case resolveFulfill:
		params := fetch.FulfillRequest(reqID, res.ResponseCode).
			WithResponseHeaders(res.ResponseHeaders).
			WithBody(base64.StdEncoding.EncodeToString(res.Body))
		return fe.sess.Execute(ctx, string(fetch.CommandFulfillRequest), params, nil)

	default:
		params := fetch.ContinueRequest(reqID)
		if res.URL != "" {
			params = params.WithURL(res.URL)
		}
		if res.Method != "" {
			params = params.WithMethod(res.Method)
		}
		if len(res.Headers) > 0 {
			params = params.WithHeaders(res.Headers)
		}
		if res.PostData != "" {
			params = params.WithPostData(base64.StdEncoding.EncodeToString([]byte(res.PostData)))
		}
		return fe.sess.Execute(ctx, string(fetch.CommandContinueRequest), params, nil)
	}
}

func (fe *FetchEngine) handleAuth(ctx context.Context, ev *fetch.EventAuthRequired) error {
	if fe.haveProxyAuth && ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
		resp := &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseProvideCredentials,
			Username: fe.proxyUsername,
			Password: fe.proxyPassword,
		}
		params := fetch.ContinueWithAuth(ev.RequestID, resp)
		return fe.sess.Execute(ctx, string(fetch.CommandContinueWithAuth), params, nil)
	}

	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	if fe.onAuth != nil {
		if r := fe.onAuth(ctx, ev); r != nil {
			resp = r
		}
	}
	params := fetch.ContinueWithAuth(ev.RequestID, resp)
	return fe.sess.Execute(ctx, string(fetch.CommandContinueWithAuth), params, nil)
}
