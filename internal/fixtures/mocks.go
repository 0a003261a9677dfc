package fixtures

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlassian/nodedispatch"
)

// MockSelector implements nodedispatch.NodeSelector, and optionally nodedispatch.RefreshRequester
// when FnRequestRefresh is set.
type MockSelector struct {
	TB testing.TB

	FnNext           func(affinity nodedispatch.Affinity) (nodedispatch.Node, error)
	FnCurrentNodes   func() nodedispatch.NodeSet
	FnRequestRefresh func()
}

func (m *MockSelector) Next(affinity nodedispatch.Affinity) (p0 nodedispatch.Node, p1 error) {
	if m.FnNext != nil {
		return m.FnNext(affinity)
	}
	assert.Fail(m.TB, "NodeSelector.Next must not be called")
	return
}

func (m *MockSelector) CurrentNodes() (p0 nodedispatch.NodeSet) {
	if m.FnCurrentNodes != nil {
		return m.FnCurrentNodes()
	}
	assert.Fail(m.TB, "NodeSelector.CurrentNodes must not be called")
	return
}

func (m *MockSelector) RequestRefresh() {
	if m.FnRequestRefresh != nil {
		m.FnRequestRefresh()
	} else {
		assert.Fail(m.TB, "RefreshRequester.RequestRefresh must not be called")
	}
}

// MockTransport implements nodedispatch.Transport.
type MockTransport struct {
	TB testing.TB

	FnSend func(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*nodedispatch.Response, error)
}

func (m *MockTransport) Send(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (p0 *nodedispatch.Response, p1 error) {
	if m.FnSend != nil {
		return m.FnSend(ctx, node, req)
	}
	assert.Fail(m.TB, "Transport.Send must not be called")
	return
}

// MockNodeUpdater implements nodedispatch.NodeUpdater.
type MockNodeUpdater struct {
	TB testing.TB

	FnUpdateNodes func(nodes nodedispatch.NodeSet) error
}

func (m *MockNodeUpdater) UpdateNodes(nodes nodedispatch.NodeSet) (p0 error) {
	if m.FnUpdateNodes != nil {
		return m.FnUpdateNodes(nodes)
	}
	assert.Fail(m.TB, "NodeUpdater.UpdateNodes must not be called")
	return
}
