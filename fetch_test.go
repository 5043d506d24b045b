package gocdp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
)

func newTestTab(b *Browser) (*Tab, *Session) {
	sess := attachedSession(b, "sess1", "target1")
	return newTab(b, sess), sess
}

func TestFetchHandlePausedContinuesByDefault(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	tab, _ := newTestTab(b)

	r := newScriptedResponder(ft)
	r.onResult(string(fetch.CommandEnable), map[string]interface{}{})
	seen := make(chan struct{}, 1)
	r.on(string(fetch.CommandContinueRequest), func(msg *cdproto.Message) (json.RawMessage, error) {
		seen <- struct{}{}
		return json.RawMessage(`{}`), nil
	})
	r.start()

	if err := tab.Enable(ctx, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error enabling fetch: %v", err)
	}

	ev := &fetch.EventRequestPaused{RequestID: "req1"}
	if err := tab.fetch.handlePaused(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Fetch.continueRequest to be sent")
	}
}

func TestFetchResolveIsExactlyOnce(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	tab, sess := newTestTab(b)
	tab.fetch = &FetchEngine{sess: sess, resolved: make(map[fetch.RequestID]bool)}

	r := newScriptedResponder(ft)
	r.onResult(string(fetch.CommandContinueRequest), map[string]interface{}{})
	r.start()

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()

	if err := tab.ContinueByID(cctx, "req1", ContinueRequest()); err != nil {
		t.Fatalf("unexpected error on first resolve: %v", err)
	}
	if err := tab.ContinueByID(cctx, "req1", ContinueRequest()); err != ErrRequestAlreadyResolved {
		t.Fatalf("expected ErrRequestAlreadyResolved on second resolve, got %v", err)
	}
}

func TestFetchDeferRequestLeavesUnresolved(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	tab, sess := newTestTab(b)
	tab.fetch = &FetchEngine{
		sess:     sess,
		resolved: make(map[fetch.RequestID]bool),
		onPaused: func(ctx context.Context, ev *fetch.EventRequestPaused) *Resolution { return DeferRequest() },
	}

	r := newScriptedResponder(ft)
	fired := make(chan struct{}, 1)
	r.on(string(fetch.CommandContinueRequest), func(msg *cdproto.Message) (json.RawMessage, error) {
		fired <- struct{}{}
		return json.RawMessage(`{}`), nil
	})
	r.start()

	if err := tab.fetch.handlePaused(ctx, &fetch.EventRequestPaused{RequestID: "req1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("deferred request should not resolve on its own")
	case <-time.After(100 * time.Millisecond):
	}

	cctx, ccancel := context.WithTimeout(ctx, 2*time.Second)
	defer ccancel()
	if err := tab.FailByID(cctx, "req1", network.ErrorReasonBlockedByClient); err != nil {
		t.Fatalf("unexpected error resolving deferred request: %v", err)
	}
}

func TestFetchProxyAuthAutoResolves(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	tab, sess := newTestTab(b)
	tab.fetch = &FetchEngine{sess: sess, resolved: make(map[fetch.RequestID]bool)}
	tab.SetProxyCredentials("proxyuser", "proxypass")

	r := newScriptedResponder(ft)
	type authResp struct {
		Response fetch.AuthChallengeResponseResponse `json:"response"`
		Username string                              `json:"username"`
		Password string                              `json:"password"`
	}
	seen := make(chan authResp, 1)
	r.on(string(fetch.CommandContinueWithAuth), func(msg *cdproto.Message) (json.RawMessage, error) {
		var req struct {
			AuthChallengeResponse authResp `json:"authChallengeResponse"`
		}
		_ = json.Unmarshal(msg.Params, &req)
		seen <- req.AuthChallengeResponse
		return json.RawMessage(`{}`), nil
	})
	r.start()

	ev := &fetch.EventAuthRequired{
		RequestID:     "req1",
		AuthChallenge: &fetch.AuthChallenge{Source: fetch.AuthChallengeSourceProxy},
	}
	if err := tab.fetch.handleAuth(ctx, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-seen:
		if got.Username != "proxyuser" || got.Password != "proxypass" {
			t.Fatalf("expected proxy credentials to be replayed, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Fetch.continueWithAuth to be sent")
	}
}
