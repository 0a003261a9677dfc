package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ash2k/stager/wait"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/internal/fixtures"
)

var (
	nodeMe    = nodedispatch.Node{Host: "10.0.0.1", Port: 9200}
	nodeOther = nodedispatch.Node{Host: "10.0.0.2", Port: 9200}
)

type redisTrackerTest struct {
	ctx     context.Context
	clck    *clock.Mock
	client  *redis.Client
	updates chan nodedispatch.NodeSet
}

func startRedisTracker(t *testing.T, self nodedispatch.Node) (*redisTrackerTest, func()) {
	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)

	clck := clock.NewMock(time.Unix(10, 0))
	ctxClock := clock.Context(ctxTest, clck)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		DB:   0,
	})

	updates := make(chan nodedispatch.NodeSet, 10)
	rnt := NewRedisNodeTracker(
		fixtures.NewTestLogger(t),
		&fixtures.MockNodeUpdater{TB: t,
			FnUpdateNodes: func(nodes nodedispatch.NodeSet) error {
				updates <- nodes
				return nil
			},
		},
		redisClient,
		"foo",
		self,
		1*time.Second,
		2*time.Second,
	)

	ctxRunner, cancel := context.WithCancel(ctxClock)
	var wg wait.Group
	wg.StartWithContext(ctxRunner, rnt.Run)

	return &redisTrackerTest{
			ctx:     ctxTest,
			clck:    clck,
			client:  redisClient,
			updates: updates,
		}, func() {
			cancel()
			wg.Wait()
			_ = redisClient.Close()
			mr.Close()
			cancelTest()
		}
}

func (rtt *redisTrackerTest) nextUpdate(t *testing.T) nodedispatch.NodeSet {
	select {
	case ns := <-rtt.updates:
		return ns
	case <-rtt.ctx.Done():
		require.FailNow(t, "timed out waiting for node update")
		return nil
	}
}

func (rtt *redisTrackerTest) publish(t *testing.T, message string) {
	require.NoError(t, rtt.client.Publish(rtt.ctx, "foo", message).Err())
}

func TestRedisNodeTrackerSelf(t *testing.T) {
	t.Parallel()

	rtt, stop := startRedisTracker(t, nodeMe)
	defer stop()

	require.Equal(t, nodedispatch.NodeSet{nodeMe}, rtt.nextUpdate(t))
}

func TestRedisNodeTrackerOther(t *testing.T) {
	t.Parallel()

	rtt, stop := startRedisTracker(t, nodeMe)
	defer stop()

	require.Equal(t, nodedispatch.NodeSet{nodeMe}, rtt.nextUpdate(t))

	rtt.publish(t, "+"+nodeOther.String())
	require.Equal(t, nodedispatch.NodeSet{nodeMe, nodeOther}, rtt.nextUpdate(t))

	rtt.publish(t, "-"+nodeOther.String())
	require.Equal(t, nodedispatch.NodeSet{nodeMe}, rtt.nextUpdate(t))
}

func TestRedisNodeTrackerIgnoresInvalidNodes(t *testing.T) {
	t.Parallel()

	rtt, stop := startRedisTracker(t, nodeMe)
	defer stop()

	require.Equal(t, nodedispatch.NodeSet{nodeMe}, rtt.nextUpdate(t))

	rtt.publish(t, "+not a node")
	rtt.publish(t, "x")
	rtt.publish(t, "+"+nodeOther.String())
	require.Equal(t, nodedispatch.NodeSet{nodeMe, nodeOther}, rtt.nextUpdate(t))
}

func TestRedisNodeTrackerExpiry(t *testing.T) {
	t.Parallel()

	rtt, stop := startRedisTracker(t, nodeMe)
	defer stop()

	require.Equal(t, nodedispatch.NodeSet{nodeMe}, rtt.nextUpdate(t))
	rtt.publish(t, "+"+nodeOther.String())
	require.Equal(t, nodedispatch.NodeSet{nodeMe, nodeOther}, rtt.nextUpdate(t))

	// The other node stops sending heartbeats, so it expires.  This node may also
	// expire and come back, either way only this node is left.
	waitForTimers(rtt.ctx, t, rtt.clck, 1)
	for {
		select {
		case ns := <-rtt.updates:
			require.Equal(t, nodedispatch.NodeSet{nodeMe}, ns)
			return
		case <-time.After(10 * time.Millisecond):
			rtt.clck.Add(time.Second)
		case <-rtt.ctx.Done():
			require.FailNow(t, "timed out waiting for node update")
		}
	}
}

func TestRedisNodeTrackerObserver(t *testing.T) {
	t.Parallel()

	rtt, stop := startRedisTracker(t, nodedispatch.Node{})
	defer stop()

	// Retry until the tracker has subscribed.
	for {
		rtt.publish(t, "?"+nodeOther.String())
		select {
		case ns := <-rtt.updates:
			require.Equal(t, nodedispatch.NodeSet{nodeOther}, ns)
			return
		case <-time.After(10 * time.Millisecond):
		case <-rtt.ctx.Done():
			require.FailNow(t, "timed out waiting for node update")
		}
	}
}
