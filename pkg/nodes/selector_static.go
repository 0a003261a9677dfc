package nodes

import (
	"github.com/atlassian/nodedispatch"
)

// StaticSelector is a NodeSelector which holds and returns a single node.  Ignores any attempts to update it.
type StaticSelector struct {
	node nodedispatch.Node
}

var _ nodedispatch.NodeSelector = (*StaticSelector)(nil)
var _ nodedispatch.NodeUpdater = (*StaticSelector)(nil)

func NewStaticSelector(node nodedispatch.Node) *StaticSelector {
	return &StaticSelector{
		node: node,
	}
}

func (ss *StaticSelector) Next(nodedispatch.Affinity) (nodedispatch.Node, error) {
	return ss.node, nil
}

func (ss *StaticSelector) CurrentNodes() nodedispatch.NodeSet {
	return nodedispatch.NodeSet{ss.node}
}

func (ss *StaticSelector) UpdateNodes(nodedispatch.NodeSet) error {
	return nil
}
