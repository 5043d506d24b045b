package gocdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Target/Session Manager: tracks every attached target,
// performs the flattened-mode attach handshake, and stamps the resulting
// target.SessionID onto every command issued against that target.

// Session represents one flattened-mode attachment to a target (a page, an
// iframe's out-of-process target, a worker, ...).
type Session struct {
	browser  *Browser
	SessID   target.SessionID
	TargetID target.ID
	Type     string // target.TargetInfo.Type: "page", "iframe", "worker", ...
	exec     Executor

	mu          sync.Mutex
	frames      map[cdp.FrameID]*cdp.Frame
	execContext map[cdp.FrameID]runtime.ExecutionContextID
	curFrame    cdp.FrameID

	// stale is set by a Browser reconnect (see Browser.tryReconnect): the
	// target usually survives a transient websocket drop but its flattened
	// attachment does not, so the session must re-attach before its next use.
	stale      bool
	reattachMu sync.Mutex
}

// Execute routes method/params through this session, i.e. stamps its
// sessionId onto the outbound command, lazily re-attaching first if a
// reconnect marked this session stale.
func (s *Session) Execute(ctx context.Context, method string, params, res interface{}) error {
	s.mu.Lock()
	stale := s.stale
	s.mu.Unlock()
	if stale {
		if err := s.browser.sessions.reattach(ctx, s); err != nil {
			return err
		}
	}
	return s.exec.Execute(ctx, method, params, res)
}

// FrameExecutionContext returns the default execution context id for
// frameID, as tracked from Runtime.executionContextCreated events.
func (s *Session) FrameExecutionContext(frameID cdp.FrameID) (runtime.ExecutionContextID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.execContext[frameID]
	return id, ok
}

// SessionManager owns the full target/session table for one Browser.
type SessionManager struct {
	browser *Browser
	log     *logrus.Entry

	mu       sync.Mutex
	sessions map[target.SessionID]*Session
	byTarget map[target.ID]*Session
}

// NewSessionManager creates an empty manager bound to b.
func NewSessionManager(b *Browser, entry *logrus.Entry) *SessionManager {
	return &SessionManager{
		browser:  b,
		log:      componentLogger(entry, "session-manager"),
		sessions: make(map[target.SessionID]*Session),
		byTarget: make(map[target.ID]*Session),
	}
}

// NewPage creates a new page target navigated to urlstr (or about:blank) in
// browserContextID (empty for the default context), attaches to it in
// flattened mode, enables the baseline domain set, and returns the Session.
func (sm *SessionManager) NewPage(ctx context.Context, urlstr string, browserContextID target.BrowserContextID) (*Session, error) {
	createParams := target.CreateTarget(urlstr)
	if urlstr == "" {
		createParams = target.CreateTarget("about:blank")
	}
	if browserContextID != "" {
		createParams = createParams.WithBrowserContextID(browserContextID)
	}

	var createRes struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := sm.browser.Execute(ctx, "", string(target.CommandCreateTarget), createParams, &createRes); err != nil {
		return nil, err
	}

	return sm.Attach(ctx, createRes.TargetID)
}

// Attach performs the flattened-mode Target.attachToTarget handshake against
// an existing targetID and enables the baseline domains a Tab needs.
func (sm *SessionManager) Attach(ctx context.Context, targetID target.ID) (*Session, error) {
	attachParams := target.AttachToTarget(targetID).WithFlatten(true)

	var attachRes struct {
		SessionID target.SessionID `json:"sessionId"`
	}
	if err := sm.browser.Execute(ctx, "", string(target.CommandAttachToTarget), attachParams, &attachRes); err != nil {
		return nil, err
	}

	sess := &Session{
		browser:     sm.browser,
		SessID:      attachRes.SessionID,
		TargetID:    targetID,
		frames:      make(map[cdp.FrameID]*cdp.Frame),
		execContext: make(map[cdp.FrameID]runtime.ExecutionContextID),
	}
	sess.exec = sm.browser.executorForTarget(sess.SessID)

	sm.mu.Lock()
	sm.sessions[sess.SessID] = sess
	sm.byTarget[targetID] = sess
	sm.mu.Unlock()

	if err := sm.enableBaselineDomains(ctx, sess); err != nil {
		return nil, err
	}
	sm.trackExecutionContexts(sess)
	return sess, nil
}

// trackExecutionContexts subscribes to Runtime.executionContextCreated and
// Runtime.executionContextsCleared (not executionContextDestroyed) so Session.FrameExecutionContext can
// answer same-process frame resolution without a round-trip, mirroring the
// original client library's target.go runtimeEvent bookkeeping.
func (sm *SessionManager) trackExecutionContexts(sess *Session) {
	sm.browser.router.Subscribe(sess.SessID, runtime.EventExecutionContextCreated, false, func(ctx context.Context, ev interface{}) error {
		e := ev.(*runtime.EventExecutionContextCreated)
		if e.Context.AuxData == nil {
			return nil
		}
		var aux struct {
			FrameID cdp.FrameID `json:"frameId"`
		}
		if err := unmarshalResult([]byte(e.Context.AuxData), &aux); err != nil || aux.FrameID == "" {
			return nil
		}
		sess.mu.Lock()
		sess.execContext[aux.FrameID] = e.Context.ID
		sess.mu.Unlock()
		return nil
	})

	sm.browser.router.Subscribe(sess.SessID, runtime.EventExecutionContextsCleared, false, func(ctx context.Context, ev interface{}) error {
		sess.mu.Lock()
		sess.execContext = make(map[cdp.FrameID]runtime.ExecutionContextID)
		sess.mu.Unlock()
		return nil
	})
}

func (sm *SessionManager) enableBaselineDomains(ctx context.Context, sess *Session) error {
	type enabler struct {
		name   cdproto.MethodType
		params interface{}
	}
	enablers := []enabler{
		{page.CommandEnable, page.Enable()},
		{runtime.CommandEnable, runtime.Enable()},
		{dom.CommandEnable, dom.Enable()},
		{log.CommandEnable, log.Enable()},
		{inspector.CommandEnable, inspector.Enable()},
	}
	for _, e := range enablers {
		if err := sess.Execute(ctx, string(e.name), e.params, nil); err != nil {
			return err
		}
	}
	return nil
}

// markAllStale flags every currently attached Session as needing
// re-attachment, called once by Browser.tryReconnect right after a
// successful redial.
func (sm *SessionManager) markAllStale() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
	}
}

// reattach re-issues the flattened-mode Target.attachToTarget handshake for
// sess after a reconnect: the sessionId a previous attach produced does not
// survive the socket drop even when the target itself does. Concurrent
// callers serialize on sess.reattachMu so only the first actually redials
// the attach; the rest observe stale==false once it completes and proceed.
func (sm *SessionManager) reattach(ctx context.Context, sess *Session) error {
	sess.reattachMu.Lock()
	defer sess.reattachMu.Unlock()

	sess.mu.Lock()
	stale := sess.stale
	sess.mu.Unlock()
	if !stale {
		return nil
	}

	attachParams := target.AttachToTarget(sess.TargetID).WithFlatten(true)
	var attachRes struct {
		SessionID target.SessionID `json:"sessionId"`
	}
	if err := sm.browser.Execute(ctx, "", string(target.CommandAttachToTarget), attachParams, &attachRes); err != nil {
		return err
	}

	sm.mu.Lock()
	delete(sm.sessions, sess.SessID)
	sm.mu.Unlock()

	sess.mu.Lock()
	sess.SessID = attachRes.SessionID
	sess.exec = sm.browser.executorForTarget(sess.SessID)
	sess.stale = false
	sess.mu.Unlock()

	sm.mu.Lock()
	sm.sessions[sess.SessID] = sess
	sm.byTarget[sess.TargetID] = sess
	sm.mu.Unlock()

	sm.trackExecutionContexts(sess)
	return sm.enableBaselineDomains(ctx, sess)
}

// CreateBrowserContext creates a new isolated browser context (comparable to
// an incognito profile: its own cookie jar and cache, isolated from every
// other context), returning its id for use with NewPage/Browser.NewTabInContext.
func (sm *SessionManager) CreateBrowserContext(ctx context.Context) (target.BrowserContextID, error) {
	var res struct {
		BrowserContextID target.BrowserContextID `json:"browserContextId"`
	}
	params := target.CreateBrowserContext()
	if err := sm.browser.Execute(ctx, "", string(target.CommandCreateBrowserContext), params, &res); err != nil {
		return "", err
	}
	return res.BrowserContextID, nil
}

// DisposeBrowserContext disposes id and every target still open within it.
func (sm *SessionManager) DisposeBrowserContext(ctx context.Context, id target.BrowserContextID) error {
	params := target.DisposeBrowserContext(id)
	return sm.browser.Execute(ctx, "", string(target.CommandDisposeBrowserContext), params, nil)
}

// Detach releases sess: it releases router callbacks scoped to its
// sessionId and forgets it. It does not itself send Target.detachFromTarget
// (Tab.Close does, since closing the target implicitly detaches).
func (sm *SessionManager) Detach(sessID target.SessionID) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessID]
	if ok {
		delete(sm.sessions, sessID)
		delete(sm.byTarget, sess.TargetID)
	}
	sm.mu.Unlock()
	sm.browser.router.ReleaseSession(sessID)
}

// CloseAll closes every currently attached target, collecting any
// individual close failures into one error rather than stopping at the
// first.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mu.Lock()
	targets := make([]target.ID, 0, len(sm.byTarget))
	for id := range sm.byTarget {
		targets = append(targets, id)
	}
	sm.mu.Unlock()

	var result *multierror.Error
	for _, id := range targets {
		sess, ok := sm.ByTargetID(id)
		if !ok {
			continue
		}
		if err := sess.Execute(ctx, string(target.CommandCloseTarget), target.CloseTarget(id), nil); err != nil {
			result = multierror.Append(result, err)
		}
		sm.Detach(sess.SessID)
	}
	return result.ErrorOrNil()
}

// BySessionID looks up an attached Session.
func (sm *SessionManager) BySessionID(sessID target.SessionID) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[sessID]
	return s, ok
}

// ByTargetID looks up an attached Session by the target it is bound to.
func (sm *SessionManager) ByTargetID(targetID target.ID) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.byTarget[targetID]
	return s, ok
}

// handleTargetEvent processes Target domain lifecycle events that the
// Browser's inbound pump special-cases ahead of generic event dispatch:
// attach/detach bookkeeping, and (for any legacy non-flattened delivery)
// unwrapping Target.receivedMessageFromTarget into its inner message.
func (sm *SessionManager) handleTargetEvent(ctx context.Context, msg *cdproto.Message) {
	switch msg.Method {
	case target.EventAttachedToTarget:
		var ev target.EventAttachedToTarget
		if err := unmarshalResult(msg.Params, &ev); err != nil {
			sm.log.WithError(err).Warn("failed to decode attachedToTarget")
			return
		}
		sm.mu.Lock()
		_, known := sm.sessions[ev.SessionID]
		sm.mu.Unlock()
		if !known {
			sess := &Session{
				browser:     sm.browser,
				SessID:      ev.SessionID,
				TargetID:    ev.TargetInfo.TargetID,
				Type:        ev.TargetInfo.Type,
				frames:      make(map[cdp.FrameID]*cdp.Frame),
				execContext: make(map[cdp.FrameID]runtime.ExecutionContextID),
			}
			sess.exec = sm.browser.executorForTarget(sess.SessID)
			sm.mu.Lock()
			sm.sessions[sess.SessID] = sess
			sm.byTarget[sess.TargetID] = sess
			sm.mu.Unlock()
		}
		sm.browser.router.Dispatch(ctx, "", msg.Method, &ev)

	case target.EventDetachedFromTarget:
		var ev target.EventDetachedFromTarget
		if err := unmarshalResult(msg.Params, &ev); err != nil {
			sm.log.WithError(err).Warn("failed to decode detachedFromTarget")
			return
		}
		sm.browser.router.Dispatch(ctx, "", msg.Method, &ev)
		sm.Detach(ev.SessionID)

	case target.EventReceivedMessageFromTarget:
		var ev target.EventReceivedMessageFromTarget
		if err := unmarshalResult(msg.Params, &ev); err != nil {
			sm.log.WithError(err).Warn("failed to decode receivedMessageFromTarget")
			return
		}
		inner := new(cdproto.Message)
		if err := inner.UnmarshalJSON([]byte(ev.Message)); err != nil {
			sm.log.WithError(err).Warn("failed to decode nested target message")
			return
		}
		inner.SessionID = ev.SessionID
		sm.browser.handleInbound(ctx, inner)
	}
}
