package gocdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Allocator hands the Connection Core a working browser debugger
// WebSocket URL. Binary discovery and process spawning are out of scope for
// this module (the host environment is expected to already have a browser
// listening on a debugging port); RemoteAllocator is the one Allocator
// implementation this package ships.
type Allocator interface {
	// Allocate dials the browser at the allocator's target and returns a
	// ready-to-Start Browser.
	Allocate(ctx context.Context, opts ...BrowserOption) (*Browser, error)
}

// RemoteAllocator connects to an already-running browser's debugger
// endpoint, either a direct WebSocket URL or an http(s) base URL whose
// /json/version endpoint advertises one.
type RemoteAllocator struct {
	wsURL  string
	client *http.Client
}

// NewRemoteAllocator builds a RemoteAllocator for addr, which may be either
// a ws(s):// debugger URL or an http(s):// base URL to resolve via
// /json/version (mirroring Chrome's own DevTools frontend discovery).
func NewRemoteAllocator(addr string) *RemoteAllocator {
	return &RemoteAllocator{wsURL: addr, client: &http.Client{Timeout: 10 * time.Second}}
}

// Allocate resolves the debugger WebSocket URL (if addr was an http(s) base)
// and dials it.
func (a *RemoteAllocator) Allocate(ctx context.Context, opts ...BrowserOption) (*Browser, error) {
	wsURL := a.wsURL
	if strings.HasPrefix(wsURL, "http://") || strings.HasPrefix(wsURL, "https://") {
		resolved, err := a.resolveWebSocketURL(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("gocdp: resolving debugger endpoint: %w", err)
		}
		wsURL = resolved
	}
	wsURL = ForceIP(wsURL)

	conn, err := DialContext(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("gocdp: dialing %s: %w", wsURL, err)
	}

	// Redial the same resolved endpoint on a transient disconnect. This
	// assumes the browser process itself survived (its debugger endpoint is
	// unchanged); a full browser restart needs a fresh Allocate call instead.
	redial := func(rctx context.Context) (Transport, error) {
		return DialContext(rctx, wsURL)
	}
	opts = append([]BrowserOption{WithRedialer(redial)}, opts...)

	return NewBrowser(conn, opts...), nil
}

func (a *RemoteAllocator) resolveWebSocketURL(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var v struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return "", err
	}
	if v.WebSocketDebuggerURL == "" {
		return "", ErrNetworkError
	}
	return v.WebSocketDebuggerURL, nil
}
