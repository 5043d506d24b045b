package gocdp

import (
	"context"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
)

// Dialog/file-chooser handling: the Page domain blocks the
// renderer on a javascript dialog (alert/confirm/prompt/beforeunload) or a
// file-chooser open until Page.handleJavaScriptDialog/DOM.setFileInputFiles
// answers it, so both need a standing subscriber rather than a one-shot one.

// DialogHandler decides how to resolve one javascript dialog. promptText is
// only meaningful when accept is true and the dialog is a prompt().
type DialogHandler func(ctx context.Context, ev *page.EventJavascriptDialogOpening) (accept bool, promptText string)

type dialogState struct {
	unsubscribe func()
	handler     DialogHandler
}

// OnDialog installs handler to answer every Page.javascriptDialogOpening
// event on this tab via Page.handleJavaScriptDialog. It is idempotent:
// calling it again swaps in the new handler without re-subscribing.
func (t *Tab) OnDialog(handler DialogHandler) {
	if t.dialog == nil {
		id := t.browser.router.Subscribe(t.sess.SessID, page.EventJavascriptDialogOpening, false, func(ctx context.Context, ev interface{}) error {
			e := ev.(*page.EventJavascriptDialogOpening)
			if t.dialog == nil || t.dialog.handler == nil {
				return nil
			}
			accept, promptText := t.dialog.handler(ctx, e)
			params := page.HandleJavaScriptDialog(accept).WithPromptText(promptText)
			return t.sess.Execute(ctx, string(page.CommandHandleJavaScriptDialog), params, nil)
		})
		t.dialog = &dialogState{unsubscribe: func() { t.browser.router.Unsubscribe(id) }}
	}
	t.dialog.handler = handler
}

// OffDialog removes the installed DialogHandler, if any. Dialogs opened
// after this call block the renderer until a handler is installed again.
func (t *Tab) OffDialog() {
	if t.dialog == nil {
		return
	}
	t.dialog.unsubscribe()
	t.dialog = nil
}

// FileChooserHandler returns the local file paths to supply when a
// <input type=file> chooser opens, or nil to leave it unanswered.
type FileChooserHandler func(ctx context.Context, ev *page.EventFileChooserOpened) []string

type fileChooserState struct {
	unsubscribe func()
	handler     FileChooserHandler
}

// InterceptFileChooser enables Page.setInterceptFileChooserDialog and
// installs handler to answer every Page.fileChooserOpened event by setting
// files directly on the backend node via DOM.setFileInputFiles, bypassing
// the native OS picker entirely. It is idempotent: calling it again swaps in
// the new handler without re-sending the enable command.
func (t *Tab) InterceptFileChooser(ctx context.Context, handler FileChooserHandler) error {
	if t.fileChooser == nil {
		params := page.SetInterceptFileChooserDialog(true)
		if err := t.sess.Execute(ctx, string(page.CommandSetInterceptFileChooserDialog), params, nil); err != nil {
			return err
		}
		id := t.browser.router.Subscribe(t.sess.SessID, page.EventFileChooserOpened, false, func(ctx context.Context, ev interface{}) error {
			e := ev.(*page.EventFileChooserOpened)
			if t.fileChooser == nil || t.fileChooser.handler == nil {
				return nil
			}
			files := t.fileChooser.handler(ctx, e)
			if files == nil {
				return nil
			}
			setParams := dom.SetFileInputFiles(files).WithBackendNodeID(e.BackendNodeID)
			return t.sess.Execute(ctx, string(dom.CommandSetFileInputFiles), setParams, nil)
		})
		t.fileChooser = &fileChooserState{unsubscribe: func() { t.browser.router.Unsubscribe(id) }}
	}
	t.fileChooser.handler = handler
	return nil
}

// DisableFileChooserIntercept turns off file-chooser interception, letting
// choosers fall through to the native OS picker again.
func (t *Tab) DisableFileChooserIntercept(ctx context.Context) error {
	if t.fileChooser == nil {
		return nil
	}
	t.fileChooser.unsubscribe()
	t.fileChooser = nil
	return t.sess.Execute(ctx, string(page.CommandSetInterceptFileChooserDialog), page.SetInterceptFileChooserDialog(false), nil)
}
