package gocdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Frame Resolver: resolves an <iframe> WebElement to a usable
// execution context, transparently handling both same-process iframes (a
// frameId tracked within the owning session's own execution contexts) and
// out-of-process iframes, which CDP exposes as a wholly separate Target
// requiring its own attachment and isolated world. Grounded on the original
// client library's target.go frame-tree tracking (frameOp closures,
// enclosingFrame, runtimeEvent's ExecutionContextCreated/AuxData.FrameID
// correlation).

// IFrameContext is the resolved handle an iframe WebElement's JS operations
// are routed through: either the owning Session with a dedicated isolated
// world, or a distinct Session attached to the OOPIF's own target.
type IFrameContext struct {
	FrameID   cdp.FrameID
	Session   *Session
	ExecCtxID runtime.ExecutionContextID

	// documentObjectID pins the frame's document.documentElement object id
	// inside ExecCtxID, resolved once at creation so repeat element lookups
	// do not need to re-evaluate "document" every time.
	documentObjectID runtime.RemoteObjectID

	isOOPIF bool
}

// frameResolver caches resolved IFrameContexts per owning frame node, keyed
// by the owner element's backend node id, invalidated on navigation.
type frameResolver struct {
	browser *Browser

	mu    sync.Mutex
	cache map[cdp.BackendNodeID]*IFrameContext
}

func newFrameResolver(b *Browser) *frameResolver {
	return &frameResolver{browser: b, cache: make(map[cdp.BackendNodeID]*IFrameContext)}
}

// ResolveIFrame resolves e (an <iframe> WebElement) to its IFrameContext,
// following the same pipeline whether e turns out to be same-process or
// out-of-process:
//  1. DOM.describeNode to learn e's content frameId and backendNodeId.
//  2. a cache check keyed by that backendNodeId.
//  3. DOM.getFrameOwner to confirm e actually owns frameId.
//  4. a Session.FrameExecutionContext lookup (backed by the execution
//     context tracking the Target/Session Manager already does) to decide
//     whether frameId lives in e's own session or needs its own Target —
//     the fast path; when absent, findOOPIFTarget walks Page.getFrameTree
//     across every attached target to locate the real owner, falling back
//     to the frameId/TargetID alias only when no attached tree contains it.
//  5. create frameID's own isolated world (same-process or OOPIF alike) and
//     evaluate "document.documentElement" inside it, pinning the resulting
//     object id.
//  6. cache the result keyed by backendNodeId; Invalidate drops the whole
//     cache on navigation, since frame identities don't survive it.
func (fr *frameResolver) ResolveIFrame(ctx context.Context, e *WebElement) (*IFrameContext, error) {
	sess := e.execSession()

	var descRes struct {
		Node *cdp.Node `json:"node"`
	}
	params := dom.DescribeNode().WithNodeID(e.nodeID).WithDepth(1)
	if err := sess.Execute(ctx, string(dom.CommandDescribeNode), params, &descRes); err != nil {
		return nil, err
	}
	if descRes.Node == nil || descRes.Node.FrameID == "" {
		return nil, ErrInvalidIFrame
	}
	frameID := descRes.Node.FrameID
	owner := descRes.Node.BackendNodeID

	fr.mu.Lock()
	if cached, ok := fr.cache[owner]; ok {
		fr.mu.Unlock()
		return cached, nil
	}
	fr.mu.Unlock()

	var ownerRes struct {
		BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`
	}
	if err := sess.Execute(ctx, string(dom.CommandGetFrameOwner), dom.GetFrameOwner(frameID), &ownerRes); err != nil {
		return nil, err
	}
	if ownerRes.BackendNodeID != owner {
		return nil, ErrInvalidIFrame
	}

	if _, ok := sess.FrameExecutionContext(frameID); ok {
		return fr.resolveSameProcess(ctx, sess, frameID, owner)
	}
	return fr.resolveOOPIF(ctx, sess, frameID, owner)
}

// resolveSameProcess creates frameID's own isolated world inside sess rather
// than reusing its already-tracked default execution context directly, so
// element operations routed through it never race the page's own scripts
// over globals — the same isolation an OOPIF's world gives for free.
func (fr *frameResolver) resolveSameProcess(ctx context.Context, sess *Session, frameID cdp.FrameID, owner cdp.BackendNodeID) (*IFrameContext, error) {
	execID, docObjID, err := fr.createIsolatedWorld(ctx, sess, frameID)
	if err != nil {
		return nil, err
	}
	ic := &IFrameContext{FrameID: frameID, Session: sess, ExecCtxID: execID, documentObjectID: docObjID}
	fr.store(owner, ic)
	return ic, nil
}

// resolveOOPIF locates the Target backing frameID, attaches to it in
// flattened mode if not already attached, and creates its isolated world.
func (fr *frameResolver) resolveOOPIF(ctx context.Context, parent *Session, frameID cdp.FrameID, owner cdp.BackendNodeID) (*IFrameContext, error) {
	targetID, err := fr.findOOPIFTarget(ctx, parent, frameID)
	if err != nil {
		return nil, err
	}

	sess, ok := fr.browser.sessions.ByTargetID(targetID)
	if !ok {
		attached, err := fr.browser.sessions.Attach(ctx, targetID)
		if err != nil {
			return nil, err
		}
		sess = attached
	}

	execID, docObjID, err := fr.createIsolatedWorld(ctx, sess, frameID)
	if err != nil {
		return nil, err
	}

	ic := &IFrameContext{FrameID: frameID, Session: sess, ExecCtxID: execID, documentObjectID: docObjID, isOOPIF: true}
	fr.store(owner, ic)
	return ic, nil
}

// findOOPIFTarget walks Target.getTargets' TargetInfos, preferring a real
// frame-tree match: for every target already attached, it asks
// Page.getFrameTree and checks whether frameID appears anywhere in it. Only
// when no attached target's tree contains frameID does it fall back to the
// frameId/TargetID string alias Chrome uses for an OOPIF's own root
// document, which is the only correlation available before that target has
// ever been attached.
func (fr *frameResolver) findOOPIFTarget(ctx context.Context, parent *Session, frameID cdp.FrameID) (target.ID, error) {
	var getTargetsRes struct {
		TargetInfos []*target.Info `json:"targetInfos"`
	}
	if err := fr.browser.Execute(ctx, "", string(target.CommandGetTargets), target.GetTargets(), &getTargetsRes); err != nil {
		return "", err
	}

	for _, info := range getTargetsRes.TargetInfos {
		if info.Type != "iframe" && info.Type != "page" {
			continue
		}
		sess, ok := fr.browser.sessions.ByTargetID(info.TargetID)
		if !ok {
			continue
		}
		var treeRes struct {
			FrameTree *page.FrameTree `json:"frameTree"`
		}
		if err := sess.Execute(ctx, string(page.CommandGetFrameTree), page.GetFrameTree(), &treeRes); err != nil {
			continue
		}
		if frameTreeContains(treeRes.FrameTree, frameID) {
			return info.TargetID, nil
		}
	}

	for _, info := range getTargetsRes.TargetInfos {
		if string(info.TargetID) == string(frameID) {
			return info.TargetID, nil
		}
	}

	return "", ErrInvalidIFrame
}

func frameTreeContains(tree *page.FrameTree, frameID cdp.FrameID) bool {
	if tree == nil {
		return false
	}
	if tree.Frame != nil && tree.Frame.ID == frameID {
		return true
	}
	for _, child := range tree.ChildFrames {
		if frameTreeContains(child, frameID) {
			return true
		}
	}
	return false
}

// createIsolatedWorld creates frameID's world under a name unique to that
// frame (Page.createIsolatedWorld's worldName must not collide with another
// frame's world, or re-entering one OOPIF would shadow another's), then
// evaluates "document.documentElement" inside it and returns the pinned
// object id alongside the execution context id.
func (fr *frameResolver) createIsolatedWorld(ctx context.Context, sess *Session, frameID cdp.FrameID) (runtime.ExecutionContextID, runtime.RemoteObjectID, error) {
	var worldRes struct {
		ExecutionContextID runtime.ExecutionContextID `json:"executionContextId"`
	}
	worldName := fmt.Sprintf("gocdp::iframe::%s", frameID)
	worldParams := page.CreateIsolatedWorld(frameID).WithWorldName(worldName)
	if err := sess.Execute(ctx, string(page.CommandCreateIsolatedWorld), worldParams, &worldRes); err != nil {
		return 0, "", err
	}

	var evalRes struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	evalParams := runtime.Evaluate("document.documentElement").WithContextID(worldRes.ExecutionContextID)
	if err := sess.Execute(ctx, string(runtime.CommandEvaluate), evalParams, &evalRes); err != nil {
		return 0, "", err
	}
	if evalRes.ExceptionDetails != nil || evalRes.Result == nil {
		return 0, "", ErrInvalidIFrame
	}

	return worldRes.ExecutionContextID, evalRes.Result.ObjectID, nil
}

func (fr *frameResolver) store(owner cdp.BackendNodeID, ic *IFrameContext) {
	fr.mu.Lock()
	fr.cache[owner] = ic
	fr.mu.Unlock()
}

// Invalidate drops every cached IFrameContext, called whenever the owning
// Tab navigates (frame identities, isolated worlds, and pinned document
// object ids do not survive navigation).
func (fr *frameResolver) Invalidate() {
	fr.mu.Lock()
	fr.cache = make(map[cdp.BackendNodeID]*IFrameContext)
	fr.mu.Unlock()
}

// Evaluate runs expr inside ic's resolved execution context and decodes the
// result into v.
func (ic *IFrameContext) Evaluate(ctx context.Context, expr string, v interface{}) error {
	params := runtime.Evaluate(expr).
		WithContextID(ic.ExecCtxID).
		WithReturnByValue(true).
		WithAwaitPromise(true)

	var res struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := ic.Session.Execute(ctx, string(runtime.CommandEvaluate), params, &res); err != nil {
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

// querySession/queryRootNodeID satisfy queryRoot so FindElement/QueryElements
// can run against ic.Session. queryRootNodeID maps the document object id
// pinned at resolution time to a node id; the finder's DOM.performSearch
// does not use it, so searches cover ic.Session's whole document-wide index.
func (ic *IFrameContext) querySession() *Session { return ic.Session }

func (ic *IFrameContext) queryRootNodeID(ctx context.Context) (dom.NodeID, error) {
	var res struct {
		NodeID dom.NodeID `json:"nodeId"`
	}
	params := dom.RequestNode(ic.documentObjectID)
	if err := ic.Session.Execute(ctx, string(dom.CommandRequestNode), params, &res); err != nil {
		return 0, err
	}
	return res.NodeID, nil
}

// FindElement searches ic.Session's document-wide index for opts' first
// match, routing the resulting WebElement's operations back through ic.
func (ic *IFrameContext) FindElement(ctx context.Context, opts FindOptions) (*WebElement, error) {
	el, err := FindElement(ctx, ic, opts)
	if err != nil || el == nil {
		return el, err
	}
	el.route = ic
	return el, nil
}

// QueryElements searches ic.Session's document-wide index for every match
// of opts, routing each resulting WebElement's operations back through ic.
func (ic *IFrameContext) QueryElements(ctx context.Context, opts FindOptions) ([]*WebElement, error) {
	els, err := QueryElements(ctx, ic, opts)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		el.route = ic
	}
	return els, nil
}
