package nodes

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/atlassian/nodedispatch"
)

type binding struct {
	node       nodedispatch.Node
	assignedAt time.Time
}

// affinityMap binds affinity tokens to nodes.  It holds at most a fixed number of
// bindings, and the least recently assigned binding is evicted first.  Lookups do
// not refresh a binding, so the LRU order is also the assignment order.
type affinityMap struct {
	mu       sync.Mutex
	bindings *simplelru.LRU[nodedispatch.Affinity, binding]
}

func newAffinityMap(size int) (*affinityMap, error) {
	bindings, err := simplelru.NewLRU[nodedispatch.Affinity, binding](size, nil)
	if err != nil {
		return nil, err
	}
	return &affinityMap{
		bindings: bindings,
	}, nil
}

// lookupOrAssign returns the node bound to affinity if the binding is younger than
// maxAge and valid accepts the node.  Otherwise it binds affinity to the node
// returned by pick.  The lookup and the assignment happen under one lock, so
// concurrent callers with a new token all get the same node.
func (am *affinityMap) lookupOrAssign(
	affinity nodedispatch.Affinity,
	now time.Time,
	maxAge time.Duration,
	valid func(nodedispatch.Node) bool,
	pick func() (nodedispatch.Node, error),
) (nodedispatch.Node, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if b, ok := am.bindings.Peek(affinity); ok && now.Sub(b.assignedAt) < maxAge && valid(b.node) {
		return b.node, nil
	}

	node, err := pick()
	if err != nil {
		return nodedispatch.Node{}, err
	}
	am.bindings.Add(affinity, binding{node: node, assignedAt: now})
	return node, nil
}

// sweep removes every binding which is at least maxAge old, and returns how many were removed.
func (am *affinityMap) sweep(now time.Time, maxAge time.Duration) int {
	am.mu.Lock()
	defer am.mu.Unlock()

	removed := 0
	for {
		_, b, ok := am.bindings.GetOldest()
		if !ok || now.Sub(b.assignedAt) < maxAge {
			return removed
		}
		am.bindings.RemoveOldest()
		removed++
	}
}

func (am *affinityMap) len() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.bindings.Len()
}
