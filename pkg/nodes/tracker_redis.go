package nodes

import (
	"context"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/nodedispatch"
)

// RedisClient is the subset of a redis client used by the RedisNodeTracker.
type RedisClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNodeTracker tracks the members of a cluster which announce themselves on a Redis
// PubSub channel, and pushes the complete node set to a NodeUpdater whenever it changes.
//
// Messages are a single character followed by a node in nodedispatch.ParseNode form:
//
//	+node  the node is alive
//	?node  the node is alive, and wants everyone else to announce themselves
//	-node  the node is leaving
type RedisNodeTracker struct {
	logger  logrus.FieldLogger
	updater nodedispatch.NodeUpdater

	client    RedisClient
	namespace string
	self      string
	nodes     map[nodedispatch.Node]time.Time

	updateInterval time.Duration
	expiryInterval time.Duration
}

var _ NodeTracker = (*RedisNodeTracker)(nil)

// NewRedisNodeTracker returns a RedisNodeTracker.  If self is the zero Node, the tracker
// only observes the cluster and never announces itself.
//
// Note that we're not trying to solve the CAP theorem here, if Redis has a bad time, then so do we.
func NewRedisNodeTracker(
	logger logrus.FieldLogger,
	updater nodedispatch.NodeUpdater,
	redisClient RedisClient,
	namespace string,
	self nodedispatch.Node,
	updateInterval, expiryInterval time.Duration,
) *RedisNodeTracker {
	var selfId string
	if self != (nodedispatch.Node{}) {
		selfId = self.String()
	}
	return &RedisNodeTracker{
		logger:  logger,
		updater: updater,

		client:    redisClient,
		namespace: namespace,
		self:      selfId,
		nodes:     make(map[nodedispatch.Node]time.Time),

		updateInterval: updateInterval,
		expiryInterval: expiryInterval,
	}
}

// Run will track nodes via Redis PubSub until the context is closed.
func (rnt *RedisNodeTracker) Run(ctx context.Context) {
	clck := clock.FromContext(ctx)

	pubsub := rnt.client.Subscribe(ctx, rnt.namespace)
	defer pubsub.Close()

	psChan := pubsub.Channel() // Closed when pubsub is Closed

	// Send an immediate heartbeat, this will also solicit other nodes to respond.
	if err := rnt.publish(ctx, '?'); err != nil {
		rnt.logger.WithError(err).Warning("Initial redis check in failed")
	}

	// Starting the ticker is how we signal to tests that everything is ready to go.
	ticker := clck.NewTicker(rnt.updateInterval)
	defer ticker.Stop()

	defer func() {
		ctxExit, cancel := clck.TimeoutContext(context.Background(), 1*time.Second)
		_ = rnt.publish(ctxExit, '-')
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rnt.expireNodes(clck.Now()) {
				rnt.pushNodes()
			}
			if err := rnt.publish(ctx, '+'); err != nil {
				rnt.logger.WithError(err).Warning("Failed to check in to redis")
			}
		case msg, ok := <-psChan:
			if !ok {
				return
			}
			rnt.handleMessage(ctx, msg.Payload, clck.Now())
		}
	}
}

func (rnt *RedisNodeTracker) handleMessage(ctx context.Context, message string, now time.Time) {
	if len(message) < 2 {
		return
	}
	id := message[1:]
	node, err := nodedispatch.ParseNode(id)
	if err != nil {
		rnt.logger.WithError(err).WithField("message", message).Warning("Ignoring invalid node")
		return
	}

	changed := false
	switch message[0] {
	case '-':
		changed = rnt.dropNode(node)
	case '?':
		changed = rnt.refreshNode(node, now)
		if id != rnt.self {
			// It's not us, and it wants to know about us, send a broadcast out to let it know we exist.
			if err := rnt.publish(ctx, '+'); err != nil {
				rnt.logger.WithError(err).WithField("newNode", id).Warning("Failed to send introduction reply")
			}
		}
	case '+':
		changed = rnt.refreshNode(node, now)
	}
	if changed {
		rnt.pushNodes()
	}
}

// refreshNode will update the expiry on a node, adding it if it's not tracked.  Returns
// true if this is a new node.
func (rnt *RedisNodeTracker) refreshNode(node nodedispatch.Node, now time.Time) bool {
	_, existingNode := rnt.nodes[node]
	if !existingNode {
		rnt.logger.WithField("node", node.String()).Info("Added node")
	}
	rnt.nodes[node] = now.Add(rnt.expiryInterval)
	return !existingNode
}

// dropNode will drop the node from the tracked nodes.  Returns true if it was tracked.
func (rnt *RedisNodeTracker) dropNode(node nodedispatch.Node) bool {
	if _, ok := rnt.nodes[node]; !ok {
		return false
	}
	rnt.logger.WithField("node", node.String()).Info("Removing node")
	delete(rnt.nodes, node)
	return true
}

// expireNodes will expire nodes which have not updated recently enough.  Returns true
// if any node was expired.
func (rnt *RedisNodeTracker) expireNodes(now time.Time) bool {
	expired := false
	for node, expiry := range rnt.nodes {
		if now.After(expiry) {
			rnt.logger.WithField("node", node.String()).Info("Expired node")
			delete(rnt.nodes, node)
			expired = true
		}
	}
	return expired
}

// pushNodes sends every tracked node to the updater, sorted so the order is the same
// on every member of the cluster.  Nothing is sent when no nodes are tracked, as the
// updater would reject it.
func (rnt *RedisNodeTracker) pushNodes() {
	if len(rnt.nodes) == 0 {
		rnt.logger.Warning("No nodes tracked, keeping previous nodes")
		return
	}
	ns := make(nodedispatch.NodeSet, 0, len(rnt.nodes))
	for node := range rnt.nodes {
		ns = append(ns, node)
	}
	sort.Slice(ns, func(i, j int) bool {
		return ns[i].String() < ns[j].String()
	})
	if err := rnt.updater.UpdateNodes(ns); err != nil {
		rnt.logger.WithError(err).Warning("Failed to update nodes")
	}
}

// publish will send a message about this node to the PubSub endpoint, if it announces itself.
func (rnt *RedisNodeTracker) publish(ctx context.Context, kind byte) error {
	if rnt.self == "" {
		return nil
	}
	return rnt.client.Publish(ctx, rnt.namespace, string(kind)+rnt.self).Err()
}
