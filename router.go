package gocdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/sirupsen/logrus"
)

// Event Router: a per-target ordered callback registry with
// sequential in-order delivery and one-shot callbacks. The "browser"
// pseudo-target is addressed with an empty target.SessionID.

// EventHandler receives a decoded CDP event payload (the concrete *Event...
// type from the matching cdproto domain subpackage). Returning a non-nil
// error only causes it to be logged; the router always continues to the
// next handler.
type EventHandler func(ctx context.Context, ev interface{}) error

type callback struct {
	id       uint64
	method   cdproto.MethodType
	handler  EventHandler
	oneShot  bool
	sessID   target.SessionID
	disabled bool
}

// EventRouter dispatches decoded CDP events to subscribers, scoped by
// sessionId, preserving registration order per (session, method) pair.
type EventRouter struct {
	mu      sync.Mutex
	nextID  uint64
	byEvent map[target.SessionID]map[cdproto.MethodType][]*callback
	byID    map[uint64]*callback

	log *logrus.Entry
}

// NewEventRouter creates an empty router.
func NewEventRouter(log *logrus.Entry) *EventRouter {
	return &EventRouter{
		byEvent: make(map[target.SessionID]map[cdproto.MethodType][]*callback),
		byID:    make(map[uint64]*callback),
		log:     componentLogger(log, "event-router"),
	}
}

// Subscribe registers handler for method, scoped to sessID ("" for the
// browser-level pseudo-target). It returns a callbackId usable with
// Unsubscribe. When oneShot is true, the callback is removed from the list
// before it is invoked for the first time, guaranteeing it never fires
// twice (testable property 2).
func (r *EventRouter) Subscribe(sessID target.SessionID, method cdproto.MethodType, oneShot bool, handler EventHandler) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	cb := &callback{id: r.nextID, method: method, handler: handler, oneShot: oneShot, sessID: sessID}
	r.byID[cb.id] = cb

	m, ok := r.byEvent[sessID]
	if !ok {
		m = make(map[cdproto.MethodType][]*callback)
		r.byEvent[sessID] = m
	}
	m[method] = append(m[method], cb)
	return cb.id
}

// Unsubscribe removes a previously registered callback. It is a no-op if the
// id is unknown (e.g. already removed by a one-shot dispatch).
func (r *EventRouter) Unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(id)
}

func (r *EventRouter) unsubscribeLocked(id uint64) {
	cb, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	list := r.byEvent[cb.sessID][cb.method]
	for i, c := range list {
		if c.id == id {
			r.byEvent[cb.sessID][cb.method] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Dispatch delivers ev (decoded from a message bearing method and sessID) to
// every matching subscriber, in registration order, sequentially — each
// handler completes before the next begins (testable property 3). A handler
// that returns an error is logged; dispatch continues to the next handler.
// A handler panic is recovered and logged the same way, so one broken
// callback never kills the inbound pump.
func (r *EventRouter) Dispatch(ctx context.Context, sessID target.SessionID, method cdproto.MethodType, ev interface{}) {
	r.mu.Lock()
	var list []*callback
	if m, ok := r.byEvent[sessID]; ok {
		list = append(list, m[method]...)
	}
	// Also deliver browser-scoped subscribers watching a specific session's
	// events if they explicitly subscribed with that sessID; cross-session
	// fan-out is not performed here (testable property 4: events with a
	// sessionId are only dispatched to subscribers scoped to that target).
	r.mu.Unlock()

	for _, cb := range list {
		if cb.oneShot {
			r.Unsubscribe(cb.id)
		}
		r.invoke(ctx, cb, ev)
	}
}

func (r *EventRouter) invoke(ctx context.Context, cb *callback, ev interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("method", cb.method).Errorf("event handler panicked: %v", rec)
		}
	}()
	if err := cb.handler(ctx, ev); err != nil {
		r.log.WithField("method", cb.method).WithError(err).Warn("event handler returned an error")
	}
}

// ReleaseSession drops every callback registered for sessID, used when a
// target detaches or the browser context it belongs to is disposed.
func (r *EventRouter) ReleaseSession(sessID target.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.byEvent[sessID] {
		for _, cb := range list {
			delete(r.byID, cb.id)
		}
	}
	delete(r.byEvent, sessID)
}
