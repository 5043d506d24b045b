package gocdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/gocdp/gocdp/internal/kb"
)

// WebElement: a handle to one DOM node, scoped to the Session it
// was found in. Every operation re-resolves the node's current box model
// just-in-time rather than caching geometry, since layout can shift between
// find and interact.
type WebElement struct {
	sess   *Session
	nodeID dom.NodeID

	// route is non-nil when e was found inside an iframe's own content
	// document (Tab.ResolveIFrame + IFrameContext.FindElement/QueryElements):
	// every operation resolves through route's Session/ExecCtxID instead of
	// assuming the element's node lives in the document-level context.
	route *IFrameContext
}

func newWebElement(sess *Session, nodeID dom.NodeID) *WebElement {
	return &WebElement{sess: sess, nodeID: nodeID}
}

// execSession is the Session every CDP call for this element is routed
// through: route's Session when e was found inside an iframe, e.sess
// (the session it was found in, same either way) otherwise.
func (e *WebElement) execSession() *Session {
	if e.route != nil {
		return e.route.Session
	}
	return e.sess
}

func (e *WebElement) querySession() *Session { return e.execSession() }

func (e *WebElement) queryRootNodeID(ctx context.Context) (dom.NodeID, error) {
	return e.nodeID, nil
}

// FindElement searches for opts' first match, inheriting e's iframe routing
// (if any) so the result resolves through the same Session/execution
// context as e itself. The search is not limited to e's subtree: it shares
// the document-wide DOM.performSearch index (CDP has no subtree-scoped
// search), so a match outside e is returned as readily as one inside it.
func (e *WebElement) FindElement(ctx context.Context, opts FindOptions) (*WebElement, error) {
	el, err := FindElement(ctx, e, opts)
	if err != nil || el == nil {
		return el, err
	}
	el.route = e.route
	return el, nil
}

// resolveObjectID resolves a live runtime.RemoteObjectID for e's node, used
// to call functions on it via Runtime.callFunctionOn. When e is routed
// through an iframe's isolated world, the resolution is pinned to that
// world's execution context so the returned object id is valid there.
func (e *WebElement) resolveObjectID(ctx context.Context) (runtime.RemoteObjectID, error) {
	var res struct {
		Object *runtime.RemoteObject `json:"object"`
	}
	params := dom.ResolveNode().WithNodeID(e.nodeID)
	if e.route != nil {
		params = params.WithExecutionContextID(e.route.ExecCtxID)
	}
	if err := e.execSession().Execute(ctx, string(dom.CommandResolveNode), params, &res); err != nil {
		return "", err
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", ErrElementNotInteractable
	}
	return res.Object.ObjectID, nil
}

// callOnSelf evaluates js as the body of a function called with this bound
// to e's node, decoding the return value into v (pass nil to discard).
func (e *WebElement) callOnSelf(ctx context.Context, js string, v interface{}) error {
	objID, err := e.resolveObjectID(ctx)
	if err != nil {
		return err
	}

	params := runtime.CallFunctionOn(js).
		WithObjectID(objID).
		WithReturnByValue(true).
		WithAwaitPromise(true)

	var res struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := e.execSession().Execute(ctx, string(runtime.CommandCallFunctionOn), params, &res); err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return &cdpError{message: res.ExceptionDetails.Text}
	}
	if v == nil || res.Result == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return unmarshalResult(res.Result.Value, v)
}

// Text returns the element's trimmed textContent.
func (e *WebElement) Text(ctx context.Context) (string, error) {
	var s string
	if err := e.callOnSelf(ctx, textContentJS, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Attribute returns the named attribute's value and whether it is present.
func (e *WebElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Attributes []string `json:"attributes"`
	}
	params := dom.GetAttributes(e.nodeID)
	if err := e.execSession().Execute(ctx, string(dom.CommandGetAttributes), params, &res); err != nil {
		return "", false, err
	}
	for i := 0; i+1 < len(res.Attributes); i += 2 {
		if res.Attributes[i] == name {
			return res.Attributes[i+1], true, nil
		}
	}
	return "", false, nil
}

// box resolves the element's content-box quad via DOM.getBoxModel.
func (e *WebElement) box(ctx context.Context) (*dom.BoxModel, error) {
	var res struct {
		Model *dom.BoxModel `json:"model"`
	}
	params := dom.GetBoxModel().WithNodeID(e.nodeID)
	if err := e.execSession().Execute(ctx, string(dom.CommandGetBoxModel), params, &res); err != nil {
		if isCouldNotComputeBoxModelError(err) {
			return nil, ErrElementNotInteractable
		}
		return nil, err
	}
	return res.Model, nil
}

func isCouldNotComputeBoxModelError(err error) bool {
	ce, ok := err.(*cdpError)
	return ok && strings.Contains(ce.message, "Could not compute box model")
}

// center returns the midpoint of the element's content quad, the target
// coordinate for a synthetic mouse click.
func (e *WebElement) center(ctx context.Context) (x, y float64, err error) {
	model, err := e.box(ctx)
	if err != nil {
		return 0, 0, err
	}
	c := model.Content
	if len(c) < 8 {
		return 0, 0, ErrInvalidCommand
	}
	x = (c[0] + c[2] + c[4] + c[6]) / 4
	y = (c[1] + c[3] + c[5] + c[7]) / 4
	return x, y, nil
}

// IsVisible reports whether the element has non-zero size and is not
// hidden via CSS (display:none, visibility:hidden, or zero opacity).
func (e *WebElement) IsVisible(ctx context.Context) (bool, error) {
	var visible bool
	if err := e.callOnSelf(ctx, visibleJS, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// Click scrolls the element into view and dispatches a left-button
// press+release at its center (no separate mouseMoved event), the same
// synthetic sequence the
// original client library's MouseClickXY/MouseActionNode build.
func (e *WebElement) Click(ctx context.Context) error {
	visible, err := e.IsVisible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return ErrElementNotVisible
	}

	if err := e.scrollIntoView(ctx); err != nil {
		return err
	}

	x, y, err := e.center(ctx)
	if err != nil {
		return err
	}

	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		params := input.DispatchMouseEvent(typ, x, y).
			WithButton(input.Left).
			WithClickCount(1)
		if err := e.execSession().Execute(ctx, string(input.CommandDispatchMouseEvent), params, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *WebElement) scrollIntoView(ctx context.Context) error {
	return e.execSession().Execute(ctx, string(dom.CommandScrollIntoViewIfNeeded), dom.ScrollIntoViewIfNeeded().WithNodeID(e.nodeID), nil)
}

// SendKeys focuses the element and dispatches a keyDown/keyUp event pair per
// rune of text, using the internal/kb encode table exactly as the original client library's
// KeyAction does.
func (e *WebElement) SendKeys(ctx context.Context, text string) error {
	if err := e.execSession().Execute(ctx, string(dom.CommandFocus), dom.Focus().WithNodeID(e.nodeID), nil); err != nil {
		return err
	}

	for _, r := range text {
		keyDown, keyUp, err := kb.Encode(r)
		if err != nil {
			return err
		}
		if err := e.execSession().Execute(ctx, string(input.CommandDispatchKeyEvent), keyDown, nil); err != nil {
			return err
		}
		if err := e.execSession().Execute(ctx, string(input.CommandDispatchKeyEvent), keyUp, nil); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties an <input>/<textarea>'s value.
func (e *WebElement) Clear(ctx context.Context) error {
	return e.callOnSelf(ctx, clearValueJS, nil)
}

// Screenshot captures a PNG clipped to this element's getBoundingClientRect
// (its border box), using the rectangle's coordinates as returned, without
// rounding.
func (e *WebElement) Screenshot(ctx context.Context) ([]byte, error) {
	var rect struct {
		X, Y, Width, Height float64
	}
	if err := e.callOnSelf(ctx, getClientRectJS, &rect); err != nil {
		return nil, err
	}

	clip := &page.Viewport{
		X: rect.X, Y: rect.Y,
		Width: rect.Width, Height: rect.Height,
		Scale: 1,
	}
	params := page.CaptureScreenshot().WithClip(clip)

	var res struct {
		Data string `json:"data"`
	}
	if err := e.execSession().Execute(ctx, string(page.CommandCaptureScreenshot), params, &res); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// SetInputFiles sets the files of a <input type=file> element directly via
// DOM.setFileInputFiles, without requiring a chooser dialog to open at all.
func (e *WebElement) SetInputFiles(ctx context.Context, files []string) error {
	params := dom.SetFileInputFiles(files).WithNodeID(e.nodeID)
	return e.execSession().Execute(ctx, string(dom.CommandSetFileInputFiles), params, nil)
}

// String implements fmt.Stringer for debug logging.
func (e *WebElement) String() string {
	return fmt.Sprintf("WebElement(nodeId=%d)", e.nodeID)
}
