package gocdp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
)

// fakeTransport is an in-memory Transport standing in for a real websocket,
// so the Connection Core's request/response correlation and event dispatch
// can be exercised without dialing an actual browser.
type fakeTransport struct {
	toBrowser   chan *cdproto.Message
	fromBrowser chan *cdproto.Message
	closed      chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		toBrowser:   make(chan *cdproto.Message, 16),
		fromBrowser: make(chan *cdproto.Message, 16),
		closed:      make(chan struct{}),
	}
}

func (f *fakeTransport) Read(msg *cdproto.Message) error {
	select {
	case m := <-f.fromBrowser:
		*msg = *m
		return nil
	case <-f.closed:
		return ErrConnectionClosed
	}
}

func (f *fakeTransport) Write(msg *cdproto.Message) error {
	cp := *msg
	select {
	case f.toBrowser <- &cp:
		return nil
	case <-f.closed:
		return ErrConnectionClosed
	}
}

func (f *fakeTransport) Close() error {
	close(f.closed)
	return nil
}

func TestBrowserExecuteRoundTrip(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	// Respond to whatever command arrives with a canned result.
	go func() {
		cmd := <-ft.toBrowser
		result, _ := json.Marshal(map[string]string{"value": "ok"})
		ft.fromBrowser <- &cdproto.Message{ID: cmd.ID, Result: result}
	}()

	var res struct {
		Value string `json:"value"`
	}
	err := b.ExecuteWithTimeout(ctx, "", "Test.method", nil, &res, 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value != "ok" {
		t.Fatalf("expected value %q, got %q", "ok", res.Value)
	}
}

func TestBrowserExecuteSurfacesCDPError(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	go func() {
		cmd := <-ft.toBrowser
		ft.fromBrowser <- &cdproto.Message{
			ID:    cmd.ID,
			Error: &cdproto.Error{Code: -32000, Message: "boom"},
		}
	}()

	err := b.ExecuteWithTimeout(ctx, "", "Test.method", nil, nil, 2*time.Second)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected the CDP error message to surface, got %v", err)
	}
}

func TestBrowserExecuteTimesOut(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	// Never respond.
	go func() { <-ft.toBrowser }()

	err := b.ExecuteWithTimeout(ctx, "", "Test.method", nil, nil, 50*time.Millisecond)
	if err != ErrCommandTimeout {
		t.Fatalf("expected ErrCommandTimeout, got %v", err)
	}
}

func TestBrowserShutdownUnblocksPending(t *testing.T) {
	ft := newFakeTransport()
	b := NewBrowser(ft)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Execute(ctx, "", "Test.method", nil, nil)
	}()

	// Let the command reach cmdQueue/pending before shutting down.
	<-ft.toBrowser
	if err := b.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrConnectionClosed {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Shutdown")
	}
}
