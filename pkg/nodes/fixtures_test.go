package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/internal/fixtures"
)

var (
	nodeA = nodedispatch.Node{Host: "a", Port: 9200}
	nodeB = nodedispatch.Node{Host: "b", Port: 9200}
	nodeC = nodedispatch.Node{Host: "c", Port: 9200}
)

// staticTransport answers every request with the same status and body, and reports
// the node asked on calls if it's not nil.
func staticTransport(t testing.TB, status int, body string, calls chan<- nodedispatch.Node) *fixtures.MockTransport {
	return &fixtures.MockTransport{
		TB: t,
		FnSend: func(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*nodedispatch.Response, error) {
			if calls != nil {
				calls <- node
			}
			return &nodedispatch.Response{StatusCode: status, Body: []byte(body)}, nil
		},
	}
}

// failingTransport fails every request with a connection error.
func failingTransport(t testing.TB, calls chan<- nodedispatch.Node) *fixtures.MockTransport {
	return &fixtures.MockTransport{
		TB: t,
		FnSend: func(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*nodedispatch.Response, error) {
			if calls != nil {
				calls <- node
			}
			return nil, &nodedispatch.TransportError{Node: node, Err: errors.New("connection refused")}
		},
	}
}

func newTestSniffer(t testing.TB, transport nodedispatch.Transport, clck clock.Clock, opts SniffingOptions) *SniffingSelector {
	if opts.InitialNodes == nil {
		opts.InitialNodes = nodedispatch.NodeSet{nodeA, nodeB, nodeC}
	}
	if opts.MaxNodeAge == 0 {
		opts.MaxNodeAge = 10 * time.Second
	}
	opts.Clock = clck
	ss, err := NewSniffingSelector(fixtures.NewTestLogger(t), transport, opts)
	require.NoError(t, err)
	return ss
}

// waitForTimers waits until clck has n active timers, or the test context is done.
func waitForTimers(ctx context.Context, t testing.TB, clck *clock.Mock, n int) {
	for clck.Len() < n {
		if ctx.Err() != nil {
			require.FailNow(t, "timed out waiting for timers", "want %d, have %d", n, clck.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func nextNodes(t testing.TB, s nodedispatch.NodeSelector, affinity nodedispatch.Affinity, n int) []nodedispatch.Node {
	result := make([]nodedispatch.Node, 0, n)
	for i := 0; i < n; i++ {
		node, err := s.Next(affinity)
		require.NoError(t, err)
		result = append(result, node)
	}
	return result
}
