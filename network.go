package gocdp

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
)

// Network Log Store: an append-only per-target record of
// Network.* traffic, queryable by URL substring, with on-demand response
// body fetch (CDP buffers bodies itself; this store only remembers which
// requestId to ask for).

// NetworkEntry is one observed request/response pair, filled in as the
// underlying events arrive (Response is nil until requestWillBeSent's
// matching responseReceived shows up).
type NetworkEntry struct {
	RequestID network.RequestID
	URL       string
	Method    string
	Request   *network.Request
	Response  *network.Response
	Failed    bool
	ErrorText string
}

// NetworkLogStore accumulates NetworkEntry records for one Tab.
type NetworkLogStore struct {
	sess *Session

	mu      sync.Mutex
	entries []*NetworkEntry
	byID    map[network.RequestID]*NetworkEntry

	unsubscribe []func()
}

// EnableNetworkLog starts recording Network.* events for t. It is idempotent.
func (t *Tab) EnableNetworkLog(ctx context.Context) error {
	if t.netlog != nil {
		return nil
	}
	nl := &NetworkLogStore{sess: t.sess, byID: make(map[network.RequestID]*NetworkEntry)}
	t.netlog = nl

	if err := t.sess.Execute(ctx, string(network.CommandEnable), network.Enable(), nil); err != nil {
		return err
	}

	sub := func(method string, handler EventHandler) {
		id := t.browser.router.Subscribe(t.sess.SessID, cdprotoMethod(method), false, handler)
		nl.unsubscribe = append(nl.unsubscribe, func() { t.browser.router.Unsubscribe(id) })
	}

	sub(string(network.EventRequestWillBeSent), func(ctx context.Context, ev interface{}) error {
		e := ev.(*network.EventRequestWillBeSent)
		nl.record(e.RequestID, func(entry *NetworkEntry) {
			entry.URL = e.Request.URL
			entry.Method = e.Request.Method
			entry.Request = e.Request
		})
		return nil
	})
	sub(string(network.EventResponseReceived), func(ctx context.Context, ev interface{}) error {
		e := ev.(*network.EventResponseReceived)
		nl.record(e.RequestID, func(entry *NetworkEntry) {
			entry.Response = e.Response
		})
		return nil
	})
	sub(string(network.EventLoadingFailed), func(ctx context.Context, ev interface{}) error {
		e := ev.(*network.EventLoadingFailed)
		nl.record(e.RequestID, func(entry *NetworkEntry) {
			entry.Failed = true
			entry.ErrorText = e.ErrorText
		})
		return nil
	})

	return nil
}

// DisableNetworkLog stops recording and forgets accumulated entries.
func (t *Tab) DisableNetworkLog(ctx context.Context) error {
	if t.netlog == nil {
		return nil
	}
	for _, u := range t.netlog.unsubscribe {
		u()
	}
	t.netlog = nil
	return t.sess.Execute(ctx, string(network.CommandDisable), network.Disable(), nil)
}

func (nl *NetworkLogStore) record(id network.RequestID, mutate func(*NetworkEntry)) {
	nl.mu.Lock()
	defer nl.mu.Unlock()

	entry, ok := nl.byID[id]
	if !ok {
		entry = &NetworkEntry{RequestID: id}
		nl.byID[id] = entry
		nl.entries = append(nl.entries, entry)
	}
	mutate(entry)
}

// NetworkEntries returns a snapshot of every recorded entry whose URL contains
// urlSubstring (empty string matches everything).
func (t *Tab) NetworkEntries(urlSubstring string) []*NetworkEntry {
	if t.netlog == nil {
		return nil
	}
	t.netlog.mu.Lock()
	defer t.netlog.mu.Unlock()

	out := make([]*NetworkEntry, 0, len(t.netlog.entries))
	for _, e := range t.netlog.entries {
		if urlSubstring == "" || strings.Contains(e.URL, urlSubstring) {
			out = append(out, e)
		}
	}
	return out
}

// ResponseBody fetches the decoded body for a previously observed request.
func (t *Tab) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	if t.netlog == nil {
		return nil, ErrNoSuchRequest
	}
	t.netlog.mu.Lock()
	_, ok := t.netlog.byID[id]
	t.netlog.mu.Unlock()
	if !ok {
		return nil, ErrNoSuchRequest
	}

	var res struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	if err := t.sess.Execute(ctx, string(network.CommandGetResponseBody), network.GetResponseBody(id), &res); err != nil {
		return nil, err
	}
	if res.Base64Encoded {
		return decodeBase64(res.Body)
	}
	return []byte(res.Body), nil
}
