package nodedispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableNodes is returned by a NodeSelector when it has no nodes to pick from.
	ErrNoAvailableNodes = errors.New("no available nodes")
	// ErrEmptyNodeSet is returned by a NodeUpdater when asked to replace its nodes with an empty set.
	ErrEmptyNodeSet = errors.New("refusing to replace nodes with an empty set")
	// ErrConnectionFailed matches any TransportError which is not a timeout.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrTimeout matches a TransportError caused by a timeout.
	ErrTimeout = errors.New("timeout")
)

// TransportError is returned by a Transport when a request could not be completed.
type TransportError struct {
	Node    Node
	Timeout bool
	Err     error
}

func (te *TransportError) Error() string {
	kind := ErrConnectionFailed
	if te.Timeout {
		kind = ErrTimeout
	}
	return fmt.Sprintf("%v talking to %s: %v", kind, te.Node, te.Err)
}

func (te *TransportError) Unwrap() error {
	return te.Err
}

// Is allows errors.Is(err, ErrTimeout) and errors.Is(err, ErrConnectionFailed).
func (te *TransportError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return te.Timeout
	case ErrConnectionFailed:
		return !te.Timeout
	}
	return false
}

// RefreshError describes a failed topology refresh.  It is only ever reported
// through logs, stats, and refresh hooks, never to request callers.
type RefreshError struct {
	Node Node
	Err  error
}

func (re *RefreshError) Error() string {
	return fmt.Sprintf("topology refresh from %s failed: %v", re.Node, re.Err)
}

func (re *RefreshError) Unwrap() error {
	return re.Err
}

// ErrorKind discriminates a DispatchError.
type ErrorKind int

const (
	KindNoAvailableNodes ErrorKind = iota
	KindConnectionFailed
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoAvailableNodes:
		return "no-available-nodes"
	case KindConnectionFailed:
		return "connection-failed"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// DispatchError is the single error type returned by a Dispatcher.  Node is the
// zero value when Kind is KindNoAvailableNodes.
type DispatchError struct {
	Kind ErrorKind
	Node Node
	Err  error
}

// NewDispatchError classifies err, as returned by a NodeSelector or Transport.
func NewDispatchError(node Node, err error) *DispatchError {
	var kind ErrorKind
	switch {
	case errors.Is(err, ErrNoAvailableNodes):
		kind = KindNoAvailableNodes
	case errors.Is(err, ErrTimeout):
		kind = KindTimeout
	default:
		kind = KindConnectionFailed
	}
	return &DispatchError{
		Kind: kind,
		Node: node,
		Err:  err,
	}
}

func (de *DispatchError) Error() string {
	if de.Kind == KindNoAvailableNodes {
		return fmt.Sprintf("dispatch failed: %v", de.Err)
	}
	return fmt.Sprintf("dispatch to %s failed (%s): %v", de.Node, de.Kind, de.Err)
}

func (de *DispatchError) Unwrap() error {
	return de.Err
}

// Is matches the sentinel for the error's kind, even when the underlying error
// is not a sentinel itself.
func (de *DispatchError) Is(target error) bool {
	switch target {
	case ErrNoAvailableNodes:
		return de.Kind == KindNoAvailableNodes
	case ErrConnectionFailed:
		return de.Kind == KindConnectionFailed
	case ErrTimeout:
		return de.Kind == KindTimeout
	}
	return false
}
