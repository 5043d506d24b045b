package gocdp

// Error is a sentinel gocdp error, following the same pattern as the
// original client library's error type: a string that satisfies the error interface so that
// callers can compare with errors.Is without allocating a struct per kind.
type Error string

// Error satisfies the error interface.
func (e Error) Error() string { return string(e) }

// Error kinds returned by this package's operations.
const (
	// ErrInvalidCommand means a command object failed structural validation
	// before it was ever sent.
	ErrInvalidCommand Error = "gocdp: invalid command"

	// ErrCommandTimeout means no response arrived within the per-call
	// deadline passed to Browser.ExecuteWithTimeout.
	ErrCommandTimeout Error = "gocdp: command timeout"

	// ErrConnectionClosed means the socket closed before a response
	// returned, or the scope (Browser/Tab) was closed while a command was
	// outstanding.
	ErrConnectionClosed Error = "gocdp: connection closed"

	// ErrElementNotFound means the Element Finder searched with timeout==0
	// and raiseExc==true, and produced no match.
	ErrElementNotFound Error = "gocdp: element not found"

	// ErrWaitElementTimeout means the Element Finder polled to its deadline
	// without a match.
	ErrWaitElementTimeout Error = "gocdp: timed out waiting for element"

	// ErrElementNotVisible means the visibility precondition for click/type
	// failed.
	ErrElementNotVisible Error = "gocdp: element not visible"

	// ErrElementNotInteractable means the element exists but its geometry
	// could not be computed, or it is obscured.
	ErrElementNotInteractable Error = "gocdp: element not interactable"

	// ErrClickIntercepted means elementFromPoint at the click coordinates
	// returned a different node than the one being clicked.
	ErrClickIntercepted Error = "gocdp: click intercepted by another element"

	// ErrInvalidIFrame means the Frame Resolver could not determine a frame
	// id, isolated world, or document reference for an <iframe> element.
	ErrInvalidIFrame Error = "gocdp: invalid iframe"

	// ErrPageLoadTimeout means navigation gating did not reach the
	// configured readyState within the timeout.
	ErrPageLoadTimeout Error = "gocdp: page load timeout"

	// ErrTopLevelTargetRequired means an operation (Tab.TakeScreenshot) requires
	// a page target but was invoked on a non-top-level target.
	ErrTopLevelTargetRequired Error = "gocdp: operation requires a top-level target"

	// ErrInvalidFileExtension means a screenshot/PDF output path had an
	// unsupported suffix.
	ErrInvalidFileExtension Error = "gocdp: unsupported file extension"

	// ErrNetworkError means the underlying HTTP/WebSocket transport failed.
	ErrNetworkError Error = "gocdp: network error"

	// ErrAuthRequired means an authentication challenge reached the caller
	// unhandled (handleAuth was false and no proxy credentials matched).
	ErrAuthRequired Error = "gocdp: authentication required"

	// ErrInvalidContext means Run was called on a context without a
	// gocdp.Context value (NewContext was never called).
	ErrInvalidContext Error = "gocdp: invalid context"

	// ErrInvalidTarget means an operation was attempted against a target
	// that the Target Manager does not know about, typically because it has
	// already been detached or closed.
	ErrInvalidTarget Error = "gocdp: invalid target"

	// ErrRequestAlreadyResolved means a second continue/fail/fulfill call
	// was made against a paused Fetch request that was already resolved. The
	// requestId-keyed Tab methods also return it when the tab has no Fetch
	// engine at all.
	ErrRequestAlreadyResolved Error = "gocdp: paused request already resolved"

	// ErrNoSuchRequest means a response-body lookup named a requestId the
	// Network Log Store never observed.
	ErrNoSuchRequest Error = "gocdp: no such network request"

	// ErrInvalidWebsocketMessage means a binary WebSocket frame arrived
	// where CDP only ever sends text frames — a protocol violation.
	ErrInvalidWebsocketMessage Error = "gocdp: invalid websocket message (expected text frame)"
)
