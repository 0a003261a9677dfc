package nodes

import (
	"sync/atomic"

	"github.com/atlassian/nodedispatch"
)

// rotation is one node set together with its position.  It is never modified
// after creation, other than the counter.
type rotation struct {
	counter uint64 // atomic
	nodes   nodedispatch.NodeSet
}

func (r *rotation) next() (nodedispatch.Node, error) {
	if len(r.nodes) == 0 {
		return nodedispatch.Node{}, nodedispatch.ErrNoAvailableNodes
	}
	idx := atomic.AddUint64(&r.counter, 1) - 1
	return r.nodes[idx%uint64(len(r.nodes))], nil
}

// RoundRobinSelector hands out nodes in a fixed rotation, ignoring affinity.
type RoundRobinSelector struct {
	current atomic.Value // *rotation
}

var _ nodedispatch.NodeSelector = (*RoundRobinSelector)(nil)
var _ nodedispatch.NodeUpdater = (*RoundRobinSelector)(nil)

// NewRoundRobinSelector returns a RoundRobinSelector over a copy of nodes, with
// duplicates removed.  nodes may be empty, in which case Next will fail until
// UpdateNodes is called.
func NewRoundRobinSelector(nodes nodedispatch.NodeSet) *RoundRobinSelector {
	rr := &RoundRobinSelector{}
	rr.current.Store(&rotation{nodes: nodedispatch.NewNodeSet(nodes...)})
	return rr
}

func (rr *RoundRobinSelector) load() *rotation {
	return rr.current.Load().(*rotation)
}

// Next returns the next node in the rotation.
func (rr *RoundRobinSelector) Next(nodedispatch.Affinity) (nodedispatch.Node, error) {
	return rr.load().next()
}

// CurrentNodes returns the node set being rotated through.  It must not be modified.
func (rr *RoundRobinSelector) CurrentNodes() nodedispatch.NodeSet {
	return rr.load().nodes
}

// UpdateNodes replaces the node set, and restarts the rotation at its first node.
// An empty set is rejected.
func (rr *RoundRobinSelector) UpdateNodes(nodes nodedispatch.NodeSet) error {
	nodes = nodedispatch.NewNodeSet(nodes...)
	if len(nodes) == 0 {
		return nodedispatch.ErrEmptyNodeSet
	}
	rr.current.Store(&rotation{nodes: nodes})
	return nil
}
