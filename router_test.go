package gocdp

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
)

func TestEventRouterDispatchOrder(t *testing.T) {
	r := NewEventRouter(nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Subscribe("sess1", "Test.event", false, func(ctx context.Context, ev interface{}) error {
			order = append(order, i)
			return nil
		})
	}

	r.Dispatch(context.Background(), "sess1", "Test.event", nil)

	if len(order) != 3 {
		t.Fatalf("expected 3 handlers invoked, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected registration order %v, got %v", []int{0, 1, 2}, order)
		}
	}
}

func TestEventRouterOneShot(t *testing.T) {
	r := NewEventRouter(nil)

	var calls int
	r.Subscribe("sess1", "Test.once", true, func(ctx context.Context, ev interface{}) error {
		calls++
		return nil
	})

	r.Dispatch(context.Background(), "sess1", "Test.once", nil)
	r.Dispatch(context.Background(), "sess1", "Test.once", nil)

	if calls != 1 {
		t.Fatalf("expected one-shot handler to fire exactly once, got %d", calls)
	}
}

func TestEventRouterSessionScoping(t *testing.T) {
	r := NewEventRouter(nil)

	var a, b int
	r.Subscribe("sessA", "Test.event", false, func(ctx context.Context, ev interface{}) error { a++; return nil })
	r.Subscribe("sessB", "Test.event", false, func(ctx context.Context, ev interface{}) error { b++; return nil })

	r.Dispatch(context.Background(), "sessA", "Test.event", nil)

	if a != 1 || b != 0 {
		t.Fatalf("expected dispatch scoped to sessA only, got a=%d b=%d", a, b)
	}
}

func TestEventRouterUnsubscribe(t *testing.T) {
	r := NewEventRouter(nil)

	var calls int
	id := r.Subscribe("sess1", "Test.event", false, func(ctx context.Context, ev interface{}) error {
		calls++
		return nil
	})
	r.Unsubscribe(id)
	r.Dispatch(context.Background(), "sess1", "Test.event", nil)

	if calls != 0 {
		t.Fatalf("expected unsubscribed handler not to fire, got %d calls", calls)
	}
}

func TestEventRouterHandlerPanicIsolated(t *testing.T) {
	r := NewEventRouter(nil)

	r.Subscribe("sess1", "Test.event", false, func(ctx context.Context, ev interface{}) error {
		panic("boom")
	})

	var secondCalled bool
	r.Subscribe("sess1", "Test.event", false, func(ctx context.Context, ev interface{}) error {
		secondCalled = true
		return nil
	})

	r.Dispatch(context.Background(), "sess1", "Test.event", nil)

	if !secondCalled {
		t.Fatal("expected second handler to run despite first handler panicking")
	}
}

func TestEventRouterReleaseSession(t *testing.T) {
	r := NewEventRouter(nil)

	var calls int
	r.Subscribe(target.SessionID("sess1"), cdproto.MethodType("Test.event"), false, func(ctx context.Context, ev interface{}) error {
		calls++
		return nil
	})

	r.ReleaseSession("sess1")
	r.Dispatch(context.Background(), "sess1", "Test.event", nil)

	if calls != 0 {
		t.Fatalf("expected no handlers after ReleaseSession, got %d calls", calls)
	}
}
