package gocdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"golang.org/x/exp/slices"
)

// Element Finder: compiles an attribute bag into a CSS selector (or passes
// an explicit CSS/XPath/text query through), then polls
// DOM.performSearch/DOM.getSearchResults until a match appears or the
// deadline elapses. Every query, whatever its syntax, goes to
// DOM.performSearch as is; the finder does not classify it or pick a
// different CDP strategy per kind.

// FindOptions is the attribute bag recognized by the selector compiler.
type FindOptions struct {
	ID        string
	ClassName string
	TagName   string
	Name      string
	Text      string
	CSS       string
	XPath     string
	Attrs     map[string]string

	// Timeout bounds how long FindElement polls before giving up. Zero
	// means search exactly once.
	Timeout time.Duration
	// RaiseOnMissing controls whether a fruitless search returns an error
	// (true: ErrElementNotFound with Timeout zero, ErrWaitElementTimeout
	// once Timeout elapses) or (nil, nil) (false, the zero value).
	RaiseOnMissing bool
}

// compile turns o into the single query string handed to
// DOM.performSearch: CSS, XPath or Text verbatim when set (in that order of
// precedence), otherwise a CSS selector built from the attribute bag.
func (o FindOptions) compile() (string, error) {
	if o.CSS != "" {
		return o.CSS, nil
	}
	if o.XPath != "" {
		return o.XPath, nil
	}
	if o.Text != "" {
		// DOM.performSearch understands a bare text fragment as a text
		// search across the tree, same as Chrome DevTools' own Elements
		// panel search box.
		return o.Text, nil
	}

	var sb strings.Builder
	if o.TagName != "" {
		sb.WriteString(o.TagName)
	} else {
		sb.WriteString("*")
	}
	if o.ID != "" {
		fmt.Fprintf(&sb, "#%s", o.ID)
	}
	if o.ClassName != "" {
		for _, c := range strings.Fields(o.ClassName) {
			fmt.Fprintf(&sb, ".%s", c)
		}
	}
	if o.Name != "" {
		fmt.Fprintf(&sb, "[name=%q]", o.Name)
	}
	for k, v := range o.Attrs {
		fmt.Fprintf(&sb, "[%s=%q]", k, v)
	}

	sel := sb.String()
	if sel == "*" {
		return "", ErrInvalidCommand
	}
	return sel, nil
}

// queryRoot is satisfied by *Tab, *WebElement and *IFrameContext, so
// FindElement and QueryElements can share one implementation. The search
// runs in querySession's document-wide DOM.performSearch index;
// queryRootNodeID is not consulted by it, so a *WebElement root does not
// restrict matches to that element's subtree.
type queryRoot interface {
	querySession() *Session
	queryRootNodeID(ctx context.Context) (dom.NodeID, error)
}

func (t *Tab) querySession() *Session { return t.sess }

func (t *Tab) queryRootNodeID(ctx context.Context) (dom.NodeID, error) {
	var res struct {
		Root *dom_Node `json:"root"`
	}
	if err := t.sess.Execute(ctx, "DOM.getDocument", dom.GetDocument(), &res); err != nil {
		return 0, err
	}
	if res.Root == nil {
		return 0, ErrElementNotFound
	}
	return res.Root.NodeID, nil
}

// dom_Node mirrors the subset of cdp.Node this package decodes directly,
// avoiding an import cycle concern with the full cdp.Node type used
// elsewhere (which is also fine to use directly; kept as a thin alias for
// readability at call sites that only need the root node id).
type dom_Node struct {
	NodeID dom.NodeID `json:"nodeId"`
}

// FindElement searches root for the first match of opts, polling at a fixed
// interval until Timeout elapses.
func FindElement(ctx context.Context, root queryRoot, opts FindOptions) (*WebElement, error) {
	query, err := opts.compile()
	if err != nil {
		return nil, err
	}

	deadline := time.Time{}
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	const pollInterval = 100 * time.Millisecond
	for {
		nodeID, found, err := searchOnce(ctx, root, query)
		if err != nil {
			return nil, err
		}
		if found {
			return newWebElement(root.querySession(), nodeID), nil
		}
		if deadline.IsZero() || time.Now().After(deadline) {
			if !opts.RaiseOnMissing {
				return nil, nil
			}
			if !deadline.IsZero() {
				return nil, ErrWaitElementTimeout
			}
			return nil, ErrElementNotFound
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ErrWaitElementTimeout
		}
	}
}

// QueryElements returns every match of opts under root, searching exactly
// once (no polling — callers wanting "wait for at least one" should loop
// FindElement instead).
func QueryElements(ctx context.Context, root queryRoot, opts FindOptions) ([]*WebElement, error) {
	query, err := opts.compile()
	if err != nil {
		return nil, err
	}

	sess := root.querySession()
	var searchRes struct {
		SearchID   string `json:"searchId"`
		ResultCount int64 `json:"resultCount"`
	}
	if err := sess.Execute(ctx, string(dom.CommandPerformSearch), dom.PerformSearch(query), &searchRes); err != nil {
		return nil, err
	}
	defer sess.Execute(ctx, string(dom.CommandDiscardSearchResults), dom.DiscardSearchResults(searchRes.SearchID), nil)

	if searchRes.ResultCount == 0 {
		return nil, nil
	}

	var getRes struct {
		NodeIds []dom.NodeID `json:"nodeIds"`
	}
	params := dom.GetSearchResults(searchRes.SearchID, 0, searchRes.ResultCount)
	if err := sess.Execute(ctx, string(dom.CommandGetSearchResults), params, &getRes); err != nil {
		return nil, err
	}

	// DOM.getSearchResults does not guarantee document order across calls
	// sharing a searchId; sort by nodeId so repeated QueryElements calls
	// against an unchanged tree are stable for callers that index into the
	// result (e.g. "the second matching row").
	ids := append([]dom.NodeID(nil), getRes.NodeIds...)
	slices.Sort(ids)

	elems := make([]*WebElement, 0, len(ids))
	for _, id := range ids {
		elems = append(elems, newWebElement(sess, id))
	}
	return elems, nil
}

func searchOnce(ctx context.Context, root queryRoot, query string) (dom.NodeID, bool, error) {
	sess := root.querySession()

	var searchRes struct {
		SearchID    string `json:"searchId"`
		ResultCount int64  `json:"resultCount"`
	}
	if err := sess.Execute(ctx, string(dom.CommandPerformSearch), dom.PerformSearch(query), &searchRes); err != nil {
		return 0, false, err
	}
	defer sess.Execute(ctx, string(dom.CommandDiscardSearchResults), dom.DiscardSearchResults(searchRes.SearchID), nil)

	if searchRes.ResultCount == 0 {
		return 0, false, nil
	}

	var getRes struct {
		NodeIds []dom.NodeID `json:"nodeIds"`
	}
	params := dom.GetSearchResults(searchRes.SearchID, 0, 1)
	if err := sess.Execute(ctx, string(dom.CommandGetSearchResults), params, &getRes); err != nil {
		return 0, false, err
	}
	if len(getRes.NodeIds) == 0 {
		return 0, false, nil
	}
	return getRes.NodeIds[0], true, nil
}

// FindElement is a convenience method scoping the package-level FindElement
// func to this Tab as the query root.
func (t *Tab) FindElement(ctx context.Context, opts FindOptions) (*WebElement, error) {
	return FindElement(ctx, t, opts)
}

// QueryElements is a convenience method scoping the package-level
// QueryElements func to this Tab.
func (t *Tab) QueryElements(ctx context.Context, opts FindOptions) ([]*WebElement, error) {
	return QueryElements(ctx, t, opts)
}
