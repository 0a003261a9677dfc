package nodes

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"
	"golang.org/x/time/rate"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/internal/fixtures"
	"github.com/atlassian/nodedispatch/pkg/healthcheck"
	"github.com/atlassian/nodedispatch/pkg/util"
)

const membersBC = `{"members":[{"host":"b","port":9200},{"host":"c","port":9200}]}`

func TestSniffingRejectsBadOptions(t *testing.T) {
	t.Parallel()

	for _, opts := range []SniffingOptions{
		{MaxNodeAge: -1},
		{RefreshInterval: -1},
		{MaxAffinities: -1},
	} {
		_, err := NewSniffingSelector(fixtures.NewTestLogger(t), &fixtures.MockTransport{TB: t}, opts)
		require.Error(t, err, "%#v", opts)
	}
}

func TestSniffingDefaults(t *testing.T) {
	t.Parallel()

	ss, err := NewSniffingSelector(fixtures.NewTestLogger(t), &fixtures.MockTransport{TB: t}, SniffingOptions{})
	require.NoError(t, err)
	require.Equal(t, nodedispatch.DefaultMaxNodeAge, ss.maxNodeAge)
	require.Equal(t, nodedispatch.DefaultMaxNodeAge, ss.refreshInterval)
	require.Equal(t, nodedispatch.DefaultDiscoveryPath, ss.discoveryPath)
	require.True(t, ss.LastRefresh().IsZero())
}

func TestSniffingRoundRobinWithoutAffinity(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clock.NewMock(time.Unix(100, 0)), SniffingOptions{})
	require.Equal(t, []nodedispatch.Node{nodeA, nodeB, nodeC, nodeA, nodeB, nodeC}, nextNodes(t, ss, nodedispatch.NoAffinity, 6))
}

func TestSniffingEmptyInitialNodes(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clock.NewMock(time.Unix(100, 0)), SniffingOptions{
		InitialNodes: nodedispatch.NodeSet{},
	})
	_, err := ss.Next(nodedispatch.NoAffinity)
	require.ErrorIs(t, err, nodedispatch.ErrNoAvailableNodes)
	_, err = ss.Next("token")
	require.ErrorIs(t, err, nodedispatch.ErrNoAvailableNodes)

	var failed *nodedispatch.RefreshError
	ss.onRefreshFailed = func(re *nodedispatch.RefreshError) { failed = re }
	err = ss.Refresh(context.Background())
	require.ErrorIs(t, err, nodedispatch.ErrNoAvailableNodes)
	require.NotNil(t, failed)
}

func TestSniffingAffinityIsSticky(t *testing.T) {
	t.Parallel()

	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clck, SniffingOptions{MaxNodeAge: 10 * time.Second})

	first, err := ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeA, first)

	// Other traffic moves the rotation along.
	nextNodes(t, ss, nodedispatch.NoAffinity, 4)
	other, err := ss.Next("other")
	require.NoError(t, err)

	clck.Add(9 * time.Second)
	for i := 0; i < 5; i++ {
		n, err := ss.Next("token")
		require.NoError(t, err)
		require.Equal(t, first, n)
		n, err = ss.Next("other")
		require.NoError(t, err)
		require.Equal(t, other, n)
	}
}

func TestSniffingAffinityExpires(t *testing.T) {
	t.Parallel()

	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clck, SniffingOptions{MaxNodeAge: 10 * time.Second})

	n, err := ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeA, n)

	clck.Add(10 * time.Second)
	n, err = ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeB, n) // reassigned from the rotation

	clck.Add(5 * time.Second)
	n, err = ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeB, n)
}

func TestSniffingAffinityConcurrentFirstAssignment(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clock.NewMock(time.Unix(100, 0)), SniffingOptions{})

	const workers = 50
	results := make([]nodedispatch.Node, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			n, err := ss.Next("shared")
			assert.NoError(t, err)
			results[i] = n
		}(i)
	}
	close(start)
	wg.Wait()

	for _, n := range results {
		require.Equal(t, results[0], n)
	}
	require.Equal(t, 1, ss.affinities.len())
}

func TestSniffingAffinityReassignedWhenNodeLeaves(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, nil), clock.NewMock(time.Unix(100, 0)), SniffingOptions{})

	n, err := ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeA, n)

	require.NoError(t, ss.Refresh(context.Background()))
	n, err = ss.Next("token")
	require.NoError(t, err)
	require.Equal(t, nodeB, n)
}

func TestSniffingRefreshSwapsNodesAndRestartsRotation(t *testing.T) {
	t.Parallel()

	calls := make(chan nodedispatch.Node, 1)
	clck := clock.NewMock(time.Unix(100, 0))
	statser := fixtures.NewRecordingStatser()
	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, calls), clck, SniffingOptions{
		Statser: statser,
	})

	require.Equal(t, []nodedispatch.Node{nodeA, nodeB, nodeC, nodeA, nodeB, nodeC}, nextNodes(t, ss, nodedispatch.NoAffinity, 6))

	require.NoError(t, ss.Refresh(context.Background()))
	require.Equal(t, nodeA, <-calls)
	require.Equal(t, nodedispatch.NodeSet{nodeB, nodeC}, ss.CurrentNodes())
	require.Equal(t, clck.Now(), ss.LastRefresh())
	require.Equal(t, []nodedispatch.Node{nodeB, nodeC, nodeB, nodeC}, nextNodes(t, ss, nodedispatch.NoAffinity, 4))
	require.EqualValues(t, 1, statser.CountOf("refresh.succeeded"))
	require.EqualValues(t, 2, statser.GaugeOf("nodes.current"))
}

func TestSniffingRefreshUnchangedKeepsRotation(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, nil), clock.NewMock(time.Unix(100, 0)), SniffingOptions{
		InitialNodes: nodedispatch.NodeSet{nodeB, nodeC},
	})

	require.Equal(t, []nodedispatch.Node{nodeB}, nextNodes(t, ss, nodedispatch.NoAffinity, 1))
	require.NoError(t, ss.Refresh(context.Background()))
	require.Equal(t, []nodedispatch.Node{nodeC, nodeB}, nextNodes(t, ss, nodedispatch.NoAffinity, 2))
}

func TestSniffingDiscoveryRotatesNodes(t *testing.T) {
	t.Parallel()

	calls := make(chan nodedispatch.Node, 3)
	ss := newTestSniffer(t, failingTransport(t, calls), clock.NewMock(time.Unix(100, 0)), SniffingOptions{})

	for i := 0; i < 3; i++ {
		require.Error(t, ss.Refresh(context.Background()))
	}
	require.Equal(t, nodeA, <-calls)
	require.Equal(t, nodeB, <-calls)
	require.Equal(t, nodeC, <-calls)

	// Discovery does not disturb the request rotation.
	require.Equal(t, []nodedispatch.Node{nodeA, nodeB}, nextNodes(t, ss, nodedispatch.NoAffinity, 2))
}

func TestSniffingDiscoveryRequest(t *testing.T) {
	t.Parallel()

	transport := &fixtures.MockTransport{
		TB: t,
		FnSend: func(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*nodedispatch.Response, error) {
			assert.Equal(t, http.MethodGet, req.Method)
			assert.Equal(t, "/_cluster/members", req.Path)
			return &nodedispatch.Response{StatusCode: http.StatusOK, Body: []byte(membersBC)}, nil
		},
	}
	ss := newTestSniffer(t, transport, clock.NewMock(time.Unix(100, 0)), SniffingOptions{
		DiscoveryPath: "/_cluster/members",
	})
	require.NoError(t, ss.Refresh(context.Background()))
}

func TestSniffingRefreshFailuresKeepNodes(t *testing.T) {
	t.Parallel()

	for name, transport := range map[string]func(t *testing.T) nodedispatch.Transport{
		"empty members": func(t *testing.T) nodedispatch.Transport {
			return staticTransport(t, http.StatusOK, `{"members":[]}`, nil)
		},
		"malformed body": func(t *testing.T) nodedispatch.Transport {
			return staticTransport(t, http.StatusOK, `{"members":`, nil)
		},
		"error status": func(t *testing.T) nodedispatch.Transport {
			return staticTransport(t, http.StatusInternalServerError, membersBC, nil)
		},
		"transport error": func(t *testing.T) nodedispatch.Transport {
			return failingTransport(t, nil)
		},
	} {
		transport := transport
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			statser := fixtures.NewRecordingStatser()
			var failures []*nodedispatch.RefreshError
			ss := newTestSniffer(t, transport(t), clock.NewMock(time.Unix(100, 0)), SniffingOptions{
				Statser: statser,
				OnRefreshFailed: func(re *nodedispatch.RefreshError) {
					failures = append(failures, re)
				},
			})

			err := ss.Refresh(context.Background())
			var re *nodedispatch.RefreshError
			require.True(t, errors.As(err, &re))
			require.Equal(t, nodeA, re.Node)
			require.Equal(t, nodedispatch.NodeSet{nodeA, nodeB, nodeC}, ss.CurrentNodes())
			require.Len(t, failures, 1)
			require.Equal(t, re, failures[0])
			require.EqualValues(t, 1, statser.CountOf("refresh.failed"))
			require.True(t, ss.LastRefresh().IsZero())
		})
	}
}

func TestSniffingUpdateNodes(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clock.NewMock(time.Unix(100, 0)), SniffingOptions{})
	require.ErrorIs(t, ss.UpdateNodes(nil), nodedispatch.ErrEmptyNodeSet)
	require.Equal(t, nodedispatch.NodeSet{nodeA, nodeB, nodeC}, ss.CurrentNodes())
	require.NoError(t, ss.UpdateNodes(nodedispatch.NodeSet{nodeC}))
	require.Equal(t, nodedispatch.NodeSet{nodeC}, ss.CurrentNodes())
}

func TestSniffingSweepAffinities(t *testing.T) {
	t.Parallel()

	clck := clock.NewMock(time.Unix(100, 0))
	statser := fixtures.NewRecordingStatser()
	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clck, SniffingOptions{
		MaxNodeAge: 10 * time.Second,
		Statser:    statser,
	})

	_, err := ss.Next("old")
	require.NoError(t, err)
	clck.Add(5 * time.Second)
	_, err = ss.Next("new")
	require.NoError(t, err)

	clck.Add(5 * time.Second)
	ss.SweepAffinities()
	require.Equal(t, 1, ss.affinities.len())
	require.EqualValues(t, 1, statser.GaugeOf("affinity.bindings"))
}

func TestSniffingRequestRefreshCoalesces(t *testing.T) {
	t.Parallel()

	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clock.NewMock(time.Unix(100, 0)), SniffingOptions{})
	ss.RequestRefresh()
	ss.RequestRefresh()
	ss.RequestRefresh()
	require.Len(t, ss.refreshRequests, 1)
}

func TestSniffingRunRefreshesOnTick(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	calls := make(chan nodedispatch.Node, 1)
	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, calls), clck, SniffingOptions{
		RefreshInterval: time.Minute,
	})

	ctx, cancel := context.WithCancel(ctxTest)
	var wg wait.Group
	wg.StartWithContext(ctx, ss.Run)
	defer wg.Wait()
	defer cancel()

	waitForTimers(ctxTest, t, clck, 1)
	select {
	case <-calls:
		require.Fail(t, "refreshed before the first tick")
	default:
	}

	clck.Add(time.Minute)
	select {
	case n := <-calls:
		require.Equal(t, nodeA, n)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for refresh")
	}
}

func TestSniffingRunSniffsOnStart(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	calls := make(chan nodedispatch.Node, 1)
	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, calls), clck, SniffingOptions{
		SniffOnStart: true,
	})

	ctx, cancel := context.WithCancel(ctxTest)
	var wg wait.Group
	wg.StartWithContext(ctx, ss.Run)

	select {
	case n := <-calls:
		require.Equal(t, nodeA, n)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for refresh")
	}

	cancel()
	wg.Wait()
	require.Equal(t, nodedispatch.NodeSet{nodeB, nodeC}, ss.CurrentNodes())
}

func TestSniffingRunRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	calls := make(chan nodedispatch.Node, 1)
	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, failingTransport(t, calls), clck, SniffingOptions{
		RefreshInterval: time.Hour,
		SniffOnStart:    true,
		Backoff:         util.NewBackoffFactory(1.0, time.Hour, time.Second, 0),
	})

	ctx, cancel := context.WithCancel(ctxTest)
	var wg wait.Group
	wg.StartWithContext(ctx, ss.Run)
	defer wg.Wait()
	defer cancel()

	require.Equal(t, nodeA, <-calls)
	waitForTimers(ctxTest, t, clck, 2) // ticker + retry
	fixtures.NextStep(ctxTest, clck)

	select {
	case n := <-calls:
		require.Equal(t, nodeB, n)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for retry")
	}
	require.Less(t, clck.Now().Sub(time.Unix(100, 0)), time.Hour)
}

func TestSniffingRunHonoursRefreshRequests(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	calls := make(chan nodedispatch.Node, 1)
	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, calls), clck, SniffingOptions{
		RefreshInterval: time.Hour,
		RefreshLimiter:  rate.NewLimiter(rate.Every(time.Minute), 1),
	})

	ctx, cancel := context.WithCancel(ctxTest)
	var wg wait.Group
	wg.StartWithContext(ctx, ss.Run)
	defer wg.Wait()
	defer cancel()

	waitForTimers(ctxTest, t, clck, 1)
	ss.RequestRefresh()
	select {
	case n := <-calls:
		require.Equal(t, nodeA, n)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for refresh")
	}
}

func TestSniffingRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, &fixtures.MockTransport{TB: t}, clck, SniffingOptions{})

	ctx, cancel := context.WithCancel(ctxTest)
	var wg wait.Group
	wg.StartWithContext(ctx, ss.Run)
	waitForTimers(ctxTest, t, clck, 1)
	cancel()
	wg.Wait()
	require.Zero(t, clck.Len())
}

func TestSniffingDeepCheck(t *testing.T) {
	t.Parallel()

	clck := clock.NewMock(time.Unix(100, 0))
	ss := newTestSniffer(t, staticTransport(t, http.StatusOK, membersBC, nil), clck, SniffingOptions{
		RefreshInterval: time.Minute,
	})
	checks := ss.DeepChecks()
	require.Len(t, checks, 1)

	_, status := checks[0]()
	require.Equal(t, healthcheck.Healthy, status)

	clck.Add(3*time.Minute + time.Second)
	_, status = checks[0]()
	require.Equal(t, healthcheck.Unhealthy, status)

	require.NoError(t, ss.Refresh(context.Background()))
	_, status = checks[0]()
	require.Equal(t, healthcheck.Healthy, status)
}
