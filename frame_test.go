package gocdp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// scriptedResponder answers every command the Browser under test sends with
// a canned result looked up by method name, so the Frame Resolver's
// multi-round-trip pipeline can be driven without a real browser.
type scriptedResponder struct {
	ft       *fakeTransport
	handlers map[string]func(msg *cdproto.Message) (json.RawMessage, error)
}

func newScriptedResponder(ft *fakeTransport) *scriptedResponder {
	return &scriptedResponder{ft: ft, handlers: make(map[string]func(*cdproto.Message) (json.RawMessage, error))}
}

func (r *scriptedResponder) on(method string, fn func(msg *cdproto.Message) (json.RawMessage, error)) {
	r.handlers[method] = fn
}

func (r *scriptedResponder) onResult(method string, result interface{}) {
	r.on(method, func(*cdproto.Message) (json.RawMessage, error) {
		return json.Marshal(result)
	})
}

func (r *scriptedResponder) start() {
	go func() {
		for {
			select {
			case msg := <-r.ft.toBrowser:
				var result json.RawMessage
				var rerr error
				if fn, ok := r.handlers[string(msg.Method)]; ok {
					result, rerr = fn(msg)
				} else {
					result = json.RawMessage(`{}`)
				}
				resp := &cdproto.Message{ID: msg.ID}
				if rerr != nil {
					resp.Error = &cdproto.Error{Code: -32000, Message: rerr.Error()}
				} else {
					resp.Result = result
				}
				select {
				case r.ft.fromBrowser <- resp:
				case <-r.ft.closed:
					return
				}
			case <-r.ft.closed:
				return
			}
		}
	}()
}

// attachedSession builds a Session wired directly into b's SessionManager
// tables, bypassing the AttachToTarget handshake (exercised separately by
// the Target/Session Manager's own tests) so frame-resolution tests can
// focus on the resolver's own round trips.
func attachedSession(b *Browser, sessID target.SessionID, targetID target.ID) *Session {
	sess := &Session{
		browser:     b,
		SessID:      sessID,
		TargetID:    targetID,
		frames:      make(map[cdp.FrameID]*cdp.Frame),
		execContext: make(map[cdp.FrameID]runtime.ExecutionContextID),
	}
	sess.exec = b.executorForTarget(sessID)

	b.sessions.mu.Lock()
	b.sessions.sessions[sessID] = sess
	b.sessions.byTarget[targetID] = sess
	b.sessions.mu.Unlock()
	return sess
}

func TestResolveIFrameSameProcess(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	sess := attachedSession(b, "sess1", "target1")
	sess.execContext["frame1"] = 42 // pre-tracked: same-process fast path

	r := newScriptedResponder(ft)
	r.onResult(string(dom.CommandDescribeNode), map[string]interface{}{
		"node": map[string]interface{}{"backendNodeId": 1, "frameId": "frame1"},
	})
	r.onResult(string(dom.CommandGetFrameOwner), map[string]interface{}{"backendNodeId": 1})
	r.onResult(string(page.CommandCreateIsolatedWorld), map[string]interface{}{"executionContextId": 99})
	r.onResult(string(runtime.CommandEvaluate), map[string]interface{}{
		"result": map[string]interface{}{"objectId": "obj-1"},
	})
	r.start()

	tab := newTab(b, sess)
	el := newWebElement(sess, 10)

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	ic, err := tab.ResolveIFrame(cctx, el)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ic.isOOPIF {
		t.Fatal("expected same-process resolution, got isOOPIF")
	}
	if ic.Session != sess {
		t.Fatal("expected same-process resolution to stay on the owning session")
	}
	if ic.ExecCtxID != 99 {
		t.Fatalf("expected executionContextId 99, got %d", ic.ExecCtxID)
	}
	if ic.documentObjectID != "obj-1" {
		t.Fatalf("expected pinned document object id %q, got %q", "obj-1", ic.documentObjectID)
	}

	// Second resolution of the same owner must hit the cache: DescribeNode
	// runs again to learn the cache key, but the same IFrameContext comes
	// back instead of a freshly built one.
	ic2, err := tab.ResolveIFrame(cctx, el)
	if err != nil {
		t.Fatalf("unexpected error on cached resolve: %v", err)
	}
	if ic2 != ic {
		t.Fatal("expected the cached IFrameContext to be returned")
	}
}

func TestResolveIFrameOOPIFFallback(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	sess := attachedSession(b, "sess1", "target1")

	r := newScriptedResponder(ft)
	r.onResult(string(dom.CommandDescribeNode), map[string]interface{}{
		"node": map[string]interface{}{"backendNodeId": 2, "frameId": "frame2"},
	})
	r.onResult(string(dom.CommandGetFrameOwner), map[string]interface{}{"backendNodeId": 2})
	r.onResult(string(target.CommandGetTargets), map[string]interface{}{
		"targetInfos": []map[string]interface{}{
			{"targetId": "frame2", "type": "iframe"},
		},
	})
	r.onResult(string(target.CommandAttachToTarget), map[string]interface{}{"sessionId": "sess2"})
	r.onResult(string(page.CommandCreateIsolatedWorld), map[string]interface{}{"executionContextId": 100})
	r.onResult(string(runtime.CommandEvaluate), map[string]interface{}{
		"result": map[string]interface{}{"objectId": "obj-2"},
	})
	r.start()

	tab := newTab(b, sess)
	el := newWebElement(sess, 11)

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	ic, err := tab.ResolveIFrame(cctx, el)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ic.isOOPIF {
		t.Fatal("expected out-of-process resolution")
	}
	if ic.Session.SessID != "sess2" {
		t.Fatalf("expected the OOPIF's own session, got %q", ic.Session.SessID)
	}
	if ic.ExecCtxID != 100 {
		t.Fatalf("expected executionContextId 100, got %d", ic.ExecCtxID)
	}
	if ic.documentObjectID != "obj-2" {
		t.Fatalf("expected pinned document object id %q, got %q", "obj-2", ic.documentObjectID)
	}
}

func TestResolveIFrameOwnerMismatchFails(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	sess := attachedSession(b, "sess1", "target1")

	r := newScriptedResponder(ft)
	r.onResult(string(dom.CommandDescribeNode), map[string]interface{}{
		"node": map[string]interface{}{"backendNodeId": 3, "frameId": "frame3"},
	})
	// DOM.getFrameOwner reports a different owner than DescribeNode did: the
	// node is no longer (or never was) frame3's actual owner.
	r.onResult(string(dom.CommandGetFrameOwner), map[string]interface{}{"backendNodeId": 999})
	r.start()

	tab := newTab(b, sess)
	el := newWebElement(sess, 12)

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	if _, err := tab.ResolveIFrame(cctx, el); err != ErrInvalidIFrame {
		t.Fatalf("expected ErrInvalidIFrame, got %v", err)
	}
}

func TestIFrameContextFindElementRoutes(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	sess := attachedSession(b, "sess1", "target1")
	ic := &IFrameContext{FrameID: "frame1", Session: sess, ExecCtxID: 7, documentObjectID: "doc-obj"}

	r := newScriptedResponder(ft)
	r.onResult(string(dom.CommandRequestNode), map[string]interface{}{"nodeId": 5})
	r.onResult(string(dom.CommandPerformSearch), map[string]interface{}{"searchId": "s1", "resultCount": 1})
	r.onResult(string(dom.CommandGetSearchResults), map[string]interface{}{"nodeIds": []int{20}})
	r.onResult(string(dom.CommandDiscardSearchResults), map[string]interface{}{})
	r.start()

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	el, err := ic.FindElement(cctx, FindOptions{CSS: "input"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if el == nil {
		t.Fatal("expected an element")
	}
	if el.route != ic {
		t.Fatal("expected the found element to carry ic as its routing context")
	}
	if el.execSession() != sess {
		t.Fatal("expected execSession to resolve through the iframe's session")
	}
}
