package gocdp

import (
	"context"

	"github.com/chromedp/cdproto/input"

	"github.com/gocdp/gocdp/internal/kb"
)

// input.go: tab-level synthetic input, for callers that already have
// coordinates or want to type into whatever currently has focus, as
// distinct from WebElement's element-relative Click/SendKeys. Grounded on
// the original client library's input.go MouseAction/KeyAction dispatch pair.

// ClickAt dispatches a left-button click at viewport coordinates (x, y).
func (t *Tab) ClickAt(ctx context.Context, x, y float64) error {
	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		params := input.DispatchMouseEvent(typ, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := t.sess.Execute(ctx, string(input.CommandDispatchMouseEvent), params, nil); err != nil {
			return err
		}
	}
	return nil
}

// MoveMouse dispatches a mouseMoved event to (x, y), without pressing any
// button — used to trigger hover states before a subsequent ClickAt.
func (t *Tab) MoveMouse(ctx context.Context, x, y float64) error {
	params := input.DispatchMouseEvent(input.MouseMoved, x, y)
	return t.sess.Execute(ctx, string(input.CommandDispatchMouseEvent), params, nil)
}

// TypeText dispatches one key event pair per rune of text to whatever
// element currently has focus in the page.
func (t *Tab) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		keyDown, keyUp, err := kb.Encode(r)
		if err != nil {
			return err
		}
		if err := t.sess.Execute(ctx, string(input.CommandDispatchKeyEvent), keyDown, nil); err != nil {
			return err
		}
		if err := t.sess.Execute(ctx, string(input.CommandDispatchKeyEvent), keyUp, nil); err != nil {
			return err
		}
	}
	return nil
}

// PressKey dispatches the key for rune r (e.g. '\r' for Enter, '\t' for
// Tab, 0x1b for Escape).
func (t *Tab) PressKey(ctx context.Context, r rune) error {
	keyDown, keyUp, err := kb.Encode(r)
	if err != nil {
		return err
	}
	if err := t.sess.Execute(ctx, string(input.CommandDispatchKeyEvent), keyDown, nil); err != nil {
		return err
	}
	return t.sess.Execute(ctx, string(input.CommandDispatchKeyEvent), keyUp, nil)
}
