package gocdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// httpclient.go implements Tab.Request: an HTTP-client-shaped façade that
// actually runs requests through the page's own window.fetch, so cookies,
// CORS, and TLS all behave exactly as they would for the page itself — the
// same trick the pack's browser-automation consumers (chromedp's own
// EvaluateAsDevTools-style evaluation) use to avoid re-implementing an HTTP
// stack when one is already sitting right there in the renderer. Each call
// gets a google/uuid correlation id that is returned in RequestResult for
// caller-side tracing only: it is not sent with the request, so it does not
// appear in NetworkEntries, which CDP keys by network.RequestID.

// RequestOptions configures Tab.Request.
type RequestOptions struct {
	Method  string
	Headers map[string]string
	Body    string
}

// RequestResult is the decoded outcome of a Tab.Request call.
type RequestResult struct {
	CorrelationID string
	Status        int
	Headers       map[string]string
	Body          string
}

// Request performs an HTTP request from within the page's own JavaScript
// context via window.fetch, returning the decoded response.
func (t *Tab) Request(ctx context.Context, urlstr string, opts RequestOptions) (*RequestResult, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	headersJSON, err := json.Marshal(opts.Headers)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()

	expr := fmt.Sprintf(fetchTemplateJS, jsStringLiteral(urlstr), jsStringLiteral(method), string(headersJSON), jsStringLiteral(opts.Body))

	var raw struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := t.ExecuteScript(ctx, expr, &raw); err != nil {
		return nil, err
	}

	return &RequestResult{
		CorrelationID: correlationID,
		Status:        raw.Status,
		Headers:       raw.Headers,
		Body:          raw.Body,
	}, nil
}

const fetchTemplateJS = `(async () => {
	const resp = await fetch(%s, {
		method: %s,
		headers: %s,
		body: %s || undefined,
		credentials: 'include',
	});
	const headers = {};
	resp.headers.forEach((v, k) => { headers[k] = v; });
	const body = await resp.text();
	return {status: resp.status, headers, body};
})()`

func jsStringLiteral(s string) string {
	buf, _ := json.Marshal(s)
	return string(buf)
}
