package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"
	"golang.org/x/time/rate"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/healthcheck"
	"github.com/atlassian/nodedispatch/pkg/stats"
	"github.com/atlassian/nodedispatch/pkg/topology"
	"github.com/atlassian/nodedispatch/pkg/util"
)

// SniffingOptions configures a SniffingSelector.  Zero values are replaced with defaults,
// other than InitialNodes.
type SniffingOptions struct {
	InitialNodes nodedispatch.NodeSet

	// MaxNodeAge is how long an affinity token stays bound to a node.
	MaxNodeAge time.Duration
	// RefreshInterval is how often the topology is refreshed, defaults to MaxNodeAge.
	RefreshInterval time.Duration
	MaxAffinities   int
	DiscoveryPath   string
	SniffOnStart    bool

	// RefreshLimiter limits RequestRefresh, nil means no early refreshes are made.
	RefreshLimiter *rate.Limiter
	// Backoff schedules a retry after a failed refresh, nil means wait for the next tick.
	Backoff util.BackoffFactory
	Clock   clock.Clock
	Statser stats.Statser

	// OnRefreshFailed is called from the refreshing goroutine after every failed refresh.
	OnRefreshFailed func(*nodedispatch.RefreshError)
}

// SniffingSelector is a NodeSelector which keeps affinity tokens on the same node
// for up to MaxNodeAge, and refreshes its node set by asking the cluster for its
// members.  Run must be running for the node set to be refreshed.
type SniffingSelector struct {
	discoveryCounter uint64 // atomic

	logger     logrus.FieldLogger
	transport  nodedispatch.Transport
	clck       clock.Clock
	statser    stats.Statser
	rr         *RoundRobinSelector
	affinities *affinityMap

	maxNodeAge      time.Duration
	refreshInterval time.Duration
	discoveryPath   string
	sniffOnStart    bool
	limiter         *rate.Limiter
	backoffFactory  util.BackoffFactory
	onRefreshFailed func(*nodedispatch.RefreshError)

	refreshRequests chan struct{}
	created         time.Time
	lastRefresh     atomic.Value // time.Time
}

var _ nodedispatch.NodeSelector = (*SniffingSelector)(nil)
var _ nodedispatch.NodeUpdater = (*SniffingSelector)(nil)
var _ nodedispatch.RefreshRequester = (*SniffingSelector)(nil)
var _ nodedispatch.Runner = (*SniffingSelector)(nil)
var _ healthcheck.DeepCheckProvider = (*SniffingSelector)(nil)

// staleRefreshes is how many refresh intervals may pass without a successful refresh
// before the deep check fails.
const staleRefreshes = 3

// NewSniffingSelector returns a SniffingSelector which discovers nodes through transport.
func NewSniffingSelector(logger logrus.FieldLogger, transport nodedispatch.Transport, opts SniffingOptions) (*SniffingSelector, error) {
	if opts.MaxNodeAge == 0 {
		opts.MaxNodeAge = nodedispatch.DefaultMaxNodeAge
	}
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = opts.MaxNodeAge
	}
	if opts.MaxAffinities == 0 {
		opts.MaxAffinities = nodedispatch.DefaultMaxAffinities
	}
	if opts.DiscoveryPath == "" {
		opts.DiscoveryPath = nodedispatch.DefaultDiscoveryPath
	}
	if opts.Backoff == nil {
		opts.Backoff = util.DisabledBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clock.FromContext(context.Background())
	}
	if opts.Statser == nil {
		opts.Statser = stats.NewNullStatser()
	}

	if opts.MaxNodeAge < 0 {
		return nil, errors.New(nodedispatch.ParamMaxNodeAge + " must be positive")
	}
	if opts.RefreshInterval < 0 {
		return nil, errors.New(nodedispatch.ParamRefreshInterval + " must not be negative")
	}
	if opts.MaxAffinities < 0 {
		return nil, errors.New(nodedispatch.ParamMaxAffinities + " must be positive")
	}

	affinities, err := newAffinityMap(opts.MaxAffinities)
	if err != nil {
		return nil, err
	}

	ss := &SniffingSelector{
		logger:          logger,
		transport:       transport,
		clck:            opts.Clock,
		statser:         opts.Statser,
		rr:              NewRoundRobinSelector(opts.InitialNodes),
		affinities:      affinities,
		maxNodeAge:      opts.MaxNodeAge,
		refreshInterval: opts.RefreshInterval,
		discoveryPath:   opts.DiscoveryPath,
		sniffOnStart:    opts.SniffOnStart,
		limiter:         opts.RefreshLimiter,
		backoffFactory:  opts.Backoff,
		onRefreshFailed: opts.OnRefreshFailed,
		refreshRequests: make(chan struct{}, 1),
		created:         opts.Clock.Now(),
	}
	ss.lastRefresh.Store(time.Time{})
	return ss, nil
}

// Next returns the node bound to affinity, or the next node in the rotation if
// there is no affinity or the binding has expired.
func (ss *SniffingSelector) Next(affinity nodedispatch.Affinity) (nodedispatch.Node, error) {
	if affinity == nodedispatch.NoAffinity {
		return ss.rr.Next(affinity)
	}
	return ss.affinities.lookupOrAssign(affinity, ss.clck.Now(), ss.maxNodeAge, ss.isCurrent, ss.nextInRotation)
}

func (ss *SniffingSelector) isCurrent(node nodedispatch.Node) bool {
	return ss.rr.CurrentNodes().Contains(node)
}

func (ss *SniffingSelector) nextInRotation() (nodedispatch.Node, error) {
	return ss.rr.Next(nodedispatch.NoAffinity)
}

func (ss *SniffingSelector) CurrentNodes() nodedispatch.NodeSet {
	return ss.rr.CurrentNodes()
}

// LastRefresh returns the time of the last successful refresh, or the zero time.
func (ss *SniffingSelector) LastRefresh() time.Time {
	return ss.lastRefresh.Load().(time.Time)
}

func (ss *SniffingSelector) DeepChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{ss.refreshCheck}
}

func (ss *SniffingSelector) refreshCheck() (string, healthcheck.HealthyStatus) {
	last := ss.LastRefresh()
	if last.IsZero() {
		last = ss.created
	}
	age := ss.clck.Since(last)
	if age > staleRefreshes*ss.refreshInterval {
		return fmt.Sprintf("no successful topology refresh for %v", age), healthcheck.Unhealthy
	}
	return fmt.Sprintf("topology current as of %v ago", age), healthcheck.Healthy
}

// UpdateNodes replaces the node set from an outside source.
func (ss *SniffingSelector) UpdateNodes(nodes nodedispatch.NodeSet) error {
	previous := ss.rr.CurrentNodes()
	if err := ss.rr.UpdateNodes(nodes); err != nil {
		return err
	}
	ss.nodesChanged(previous, ss.rr.CurrentNodes())
	return nil
}

// SweepAffinities removes every expired affinity binding.
func (ss *SniffingSelector) SweepAffinities() {
	removed := ss.affinities.sweep(ss.clck.Now(), ss.maxNodeAge)
	if removed > 0 {
		ss.logger.WithField("removed", removed).Debug("Swept expired affinities")
	}
	ss.statser.Gauge("affinity.bindings", float64(ss.affinities.len()), nil)
}

// RequestRefresh asks Run to refresh the topology ahead of schedule.  Requests made
// while one is pending are merged, and requests beyond the rate limit are dropped.
func (ss *SniffingSelector) RequestRefresh() {
	select {
	case ss.refreshRequests <- struct{}{}:
	default:
	}
}

// Run refreshes the topology every refresh interval, and on request, until the context is done.
func (ss *SniffingSelector) Run(ctx context.Context) {
	ticker := ss.clck.NewTicker(ss.refreshInterval)
	defer ticker.Stop()

	var bo backoff.BackOff
	var retry *clock.Timer
	var retryC <-chan time.Time
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry = nil
			retryC = nil
		}
	}
	defer stopRetry()

	refresh := func() {
		stopRetry()
		if err := ss.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if bo == nil {
				bo = ss.backoffFactory(ss.clck)
			}
			if d := bo.NextBackOff(); d != backoff.Stop && d < ss.refreshInterval {
				retry = ss.clck.NewTimer(d)
				retryC = retry.C
			}
			return
		}
		bo = nil
	}

	if ss.sniffOnStart {
		refresh()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.SweepAffinities()
			refresh()
		case <-retryC:
			retry = nil
			retryC = nil
			refresh()
		case <-ss.refreshRequests:
			if ss.limiter == nil || !ss.limiter.AllowN(ss.clck.Now(), 1) {
				ss.logger.Debug("Dropped refresh request")
				continue
			}
			refresh()
		}
	}
}

// Refresh asks one of the current nodes for the cluster members, and replaces the
// node set with the result.  On failure the node set is kept and a
// *nodedispatch.RefreshError is returned.
func (ss *SniffingSelector) Refresh(ctx context.Context) error {
	current := ss.rr.CurrentNodes()
	if len(current) == 0 {
		return ss.refreshFailed(&nodedispatch.RefreshError{Err: nodedispatch.ErrNoAvailableNodes})
	}
	idx := atomic.AddUint64(&ss.discoveryCounter, 1) - 1
	node := current[idx%uint64(len(current))]

	discovered, err := ss.discover(ctx, node)
	if err != nil {
		return ss.refreshFailed(&nodedispatch.RefreshError{Node: node, Err: err})
	}

	ss.lastRefresh.Store(ss.clck.Now())
	ss.statser.Increment("refresh.succeeded", nil)
	if discovered.Equal(current) {
		return nil
	}
	if err := ss.rr.UpdateNodes(discovered); err != nil {
		return ss.refreshFailed(&nodedispatch.RefreshError{Node: node, Err: err})
	}
	ss.nodesChanged(current, ss.rr.CurrentNodes())
	return nil
}

func (ss *SniffingSelector) discover(ctx context.Context, node nodedispatch.Node) (nodedispatch.NodeSet, error) {
	resp, err := ss.transport.Send(ctx, node, &nodedispatch.Request{
		Method: http.MethodGet,
		Path:   ss.discoveryPath,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return topology.Decode(resp.Body, node)
}

func (ss *SniffingSelector) refreshFailed(re *nodedispatch.RefreshError) error {
	ss.logger.WithFields(logrus.Fields{
		"node":  re.Node.String(),
		"error": re.Err,
	}).Warn("Topology refresh failed, keeping current nodes")
	ss.statser.Increment("refresh.failed", nil)
	if ss.onRefreshFailed != nil {
		ss.onRefreshFailed(re)
	}
	return re
}

func (ss *SniffingSelector) nodesChanged(previous, current nodedispatch.NodeSet) {
	ss.logger.WithFields(logrus.Fields{
		"previous": previous.Strings(),
		"current":  current.Strings(),
	}).Info("Updated nodes")
	ss.statser.Gauge("nodes.current", float64(len(current)), nil)
}
