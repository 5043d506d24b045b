package gocdp

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Tab Controller: the per-page façade bundling navigation,
// script evaluation, screenshot/PDF capture, cookie access, and event
// subscription into one handle, plus the Element Finder and Fetch/Network
// engines rooted at it.

// Tab is one attached page target.
type Tab struct {
	browser *Browser
	sess    *Session

	fetch   *FetchEngine
	netlog  *NetworkLogStore
	frames  *frameResolver

	dialog      *dialogState
	fileChooser *fileChooserState
}

func newTab(b *Browser, sess *Session) *Tab {
	return &Tab{browser: b, sess: sess, frames: newFrameResolver(b)}
}

// ResolveIFrame resolves e (an <iframe> WebElement found within this tab)
// to its execution context, transparently handling out-of-process frames.
func (t *Tab) ResolveIFrame(ctx context.Context, e *WebElement) (*IFrameContext, error) {
	return t.frames.ResolveIFrame(ctx, e)
}

// SessionID exposes the underlying session id, for callers that need to
// correlate Tab with a raw CDP session, e.g. devtools log inspection.
func (t *Tab) SessionID() target.SessionID { return t.sess.SessID }

// TargetID exposes the underlying target id.
func (t *Tab) TargetID() target.ID { return t.sess.TargetID }

// GoTo navigates the tab to urlstr and waits for the Page.loadEventFired
// event, mirroring the original client library's blocking Navigate action.
func (t *Tab) GoTo(ctx context.Context, urlstr string, timeout time.Duration) error {
	cctx := ctx
	cancel := func() {}
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	loaded := make(chan struct{}, 1)
	id := t.browser.router.Subscribe(t.sess.SessID, page.EventLoadEventFired, true, func(ctx context.Context, ev interface{}) error {
		select {
		case loaded <- struct{}{}:
		default:
		}
		return nil
	})
	defer t.browser.router.Unsubscribe(id)

	var navRes struct {
		FrameID   cdp.FrameID `json:"frameId"`
		ErrorText string      `json:"errorText"`
	}
	if err := t.sess.Execute(cctx, string(page.CommandNavigate), page.Navigate(urlstr), &navRes); err != nil {
		return err
	}
	if navRes.ErrorText != "" {
		return ErrNetworkError
	}

	select {
	case <-loaded:
		t.frames.Invalidate()
		return nil
	case <-cctx.Done():
		if cctx.Err() == context.DeadlineExceeded {
			return ErrPageLoadTimeout
		}
		return cctx.Err()
	}
}

// Refresh reloads the current document.
func (t *Tab) Refresh(ctx context.Context) error {
	return t.sess.Execute(ctx, string(page.CommandReload), page.Reload(), nil)
}

// CurrentURL returns the URL of the tab's main frame, via Page.getNavigationHistory.
func (t *Tab) CurrentURL(ctx context.Context) (string, error) {
	var res struct {
		CurrentIndex int64 `json:"currentIndex"`
		Entries      []*page.NavigationEntry `json:"entries"`
	}
	if err := t.sess.Execute(ctx, string(page.CommandGetNavigationHistory), page.GetNavigationHistory(), &res); err != nil {
		return "", err
	}
	if res.CurrentIndex < 0 || int(res.CurrentIndex) >= len(res.Entries) {
		return "", nil
	}
	return res.Entries[res.CurrentIndex].URL, nil
}

// PageSource returns the serialized outer HTML of the document element.
func (t *Tab) PageSource(ctx context.Context) (string, error) {
	var getDocRes struct {
		Root *cdp.Node `json:"root"`
	}
	if err := t.sess.Execute(ctx, string(dom.CommandGetDocument), dom.GetDocument(), &getDocRes); err != nil {
		return "", err
	}

	var outerRes struct {
		OuterHTML string `json:"outerHTML"`
	}
	params := dom.GetOuterHTML().WithNodeID(getDocRes.Root.NodeID)
	if err := t.sess.Execute(ctx, string(dom.CommandGetOuterHTML), params, &outerRes); err != nil {
		return "", err
	}
	return outerRes.OuterHTML, nil
}

// ExecuteScript evaluates expr in the page's default execution context and
// decodes the result into v (pass nil to discard it).
func (t *Tab) ExecuteScript(ctx context.Context, expr string, v interface{}) error {
	params := runtime.Evaluate(expr).
		WithReturnByValue(true).
		WithAwaitPromise(true)

	var res struct {
		Result           *runtime.RemoteObject   `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := t.sess.Execute(ctx, string(runtime.CommandEvaluate), params, &res); err != nil {
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

// ScreenshotOptions configures TakeScreenshot.
type ScreenshotOptions struct {
	Format  page.CaptureScreenshotFormat
	Quality int64
	FullPage bool
}

// TakeScreenshot captures the current viewport (or, with FullPage, the
// entire scrollable page) as PNG/JPEG bytes. It returns
// ErrTopLevelTargetRequired when the tab's session is known to be bound to
// a target other than a page.
func (t *Tab) TakeScreenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if t.sess.Type != "" && t.sess.Type != "page" {
		return nil, ErrTopLevelTargetRequired
	}
	params := page.CaptureScreenshot()
	if opts.Format != "" {
		params = params.WithFormat(opts.Format)
	}
	if opts.Quality > 0 {
		params = params.WithQuality(opts.Quality)
	}

	if opts.FullPage {
		var metrics struct {
			ContentSize *dom.Rect `json:"contentSize"`
		}
		if err := t.sess.Execute(ctx, string(page.CommandGetLayoutMetrics), page.GetLayoutMetrics(), &metrics); err != nil {
			return nil, err
		}
		if metrics.ContentSize != nil {
			clip := &page.Viewport{
				X: metrics.ContentSize.X, Y: metrics.ContentSize.Y,
				Width: metrics.ContentSize.Width, Height: metrics.ContentSize.Height,
				Scale: 1,
			}
			params = params.WithClip(clip)
		}
	}

	var res struct {
		Data string `json:"data"`
	}
	if err := t.sess.Execute(ctx, string(page.CommandCaptureScreenshot), params, &res); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// PrintToPDF renders the page to PDF bytes.
func (t *Tab) PrintToPDF(ctx context.Context) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := t.sess.Execute(ctx, string(page.CommandPrintToPDF), page.PrintToPDF(), &res); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// Cookies returns the cookies visible to the current page.
func (t *Tab) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var res struct {
		Cookies []*network.Cookie `json:"cookies"`
	}
	if err := t.sess.Execute(ctx, string(network.CommandGetCookies), network.GetCookies(), &res); err != nil {
		return nil, err
	}
	return res.Cookies, nil
}

// SetCookies installs cookies via Network.setCookies, sending
// Network.enable first on every call.
func (t *Tab) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if err := t.sess.Execute(ctx, string(network.CommandEnable), network.Enable(), nil); err != nil {
		return err
	}
	return t.sess.Execute(ctx, string(network.CommandSetCookies), network.SetCookies(cookies), nil)
}

// ClearCookies deletes every cookie visible to this tab via
// Network.clearBrowserCookies.
func (t *Tab) ClearCookies(ctx context.Context) error {
	return t.sess.Execute(ctx, string(network.CommandClearBrowserCookies), network.ClearBrowserCookies(), nil)
}

// SetUserAgent overrides the page's reported user agent via
// Network.setUserAgentOverride; platform and accept-language are left as
// they are.
func (t *Tab) SetUserAgent(ctx context.Context, userAgent string) error {
	if err := t.sess.Execute(ctx, string(network.CommandEnable), network.Enable(), nil); err != nil {
		return err
	}
	return t.sess.Execute(ctx, string(network.CommandSetUserAgentOverride), network.SetUserAgentOverride(userAgent), nil)
}

// SetViewport resizes the emulated device viewport.
func (t *Tab) SetViewport(ctx context.Context, width, height int64) error {
	params := emulation.SetDeviceMetricsOverride(width, height, 1, false)
	return t.sess.Execute(ctx, string(emulation.CommandSetDeviceMetricsOverride), params, nil)
}

// On subscribes handler to every occurrence of method on this tab's
// session, returning an unsubscribe func.
func (t *Tab) On(method string, handler EventHandler) func() {
	id := t.browser.router.Subscribe(t.sess.SessID, cdprotoMethod(method), false, handler)
	return func() { t.browser.router.Unsubscribe(id) }
}

// Close detaches and closes the underlying target.
func (t *Tab) Close(ctx context.Context) error {
	err := t.sess.Execute(ctx, string(target.CommandCloseTarget), target.CloseTarget(t.sess.TargetID), nil)
	t.browser.sessions.Detach(t.sess.SessID)
	return err
}

// NewTab opens a new page target in the default browser context, whichever
// context t itself belongs to, and returns its Tab.
func (t *Tab) NewTab(ctx context.Context, urlstr string) (*Tab, error) {
	sess, err := t.browser.sessions.NewPage(ctx, urlstr, "")
	if err != nil {
		return nil, err
	}
	return newTab(t.browser, sess), nil
}
