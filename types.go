package nodedispatch

import (
	"context"
	"net/http"
	"net/url"
)

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)

// Runner exposes a Runnable through an interface
type Runner interface {
	Run(context.Context)
}

// MaybeAppendRunnable appends the Run method of maybeRunner if it has one.
func MaybeAppendRunnable(runnables []Runnable, maybeRunner interface{}) []Runnable {
	if r, ok := maybeRunner.(Runner); ok {
		runnables = append(runnables, r.Run)
	}
	return runnables
}

// NodeSelector decides which node serves the next call.
type NodeSelector interface {
	// Next returns the node to use for the next call.  It must not block or
	// perform any network I/O.  Returns ErrNoAvailableNodes if there are no
	// nodes.  Thread safe.
	Next(affinity Affinity) (Node, error)

	// CurrentNodes returns a read only snapshot of the nodes being selected
	// from.  Intended for diagnostics.  Thread safe.
	CurrentNodes() NodeSet
}

// NodeUpdater receives complete replacement node sets from a topology source.
type NodeUpdater interface {
	// UpdateNodes atomically replaces the node set.  An empty set is rejected
	// with ErrEmptyNodeSet, and the previous set is retained.
	UpdateNodes(nodes NodeSet) error
}

// RefreshRequester is implemented by selectors which can be asked to refresh
// their topology ahead of schedule.  The request is a hint and never blocks.
type RefreshRequester interface {
	RequestRefresh()
}

// Request is a request to be sent to a node.  Path is relative to the node.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is what a node returned, regardless of the status code.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends a Request to a single Node.
type Transport interface {
	// Send returns the node's response, or a *TransportError if no response
	// was received.  Cancellation of ctx aborts the request.
	Send(ctx context.Context, node Node, req *Request) (*Response, error)
}
