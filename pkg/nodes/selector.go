package nodes

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/stats"
	"github.com/atlassian/nodedispatch/pkg/util"
)

const (
	// SelectorRoundRobin selects nodes in rotation, and does not refresh them.
	SelectorRoundRobin = "round-robin"
	// SelectorSniffing selects nodes with affinity, and refreshes them from the cluster.
	SelectorSniffing = "sniffing"
	// SelectorStatic always selects the single configured node.
	SelectorStatic = "static"
)

// paramSniffer is the sub viper holding the retry policy for failed refreshes.
const paramSniffer = "sniffer"

// NewSelectorFromViper creates the NodeSelector named by the selector parameter, seeded
// with the nodes parameter.  transport is only used by the sniffing selector.
func NewSelectorFromViper(
	v *viper.Viper,
	logger logrus.FieldLogger,
	transport nodedispatch.Transport,
	statser stats.Statser,
) (nodedispatch.NodeSelector, error) {
	v.SetDefault(nodedispatch.ParamNodes, nodedispatch.DefaultNodes)
	v.SetDefault(nodedispatch.ParamSelector, nodedispatch.DefaultSelector)

	initial, err := nodedispatch.ParseNodeSet(v.GetStringSlice(nodedispatch.ParamNodes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", nodedispatch.ParamNodes, err)
	}
	if len(initial) == 0 {
		return nil, errors.New(nodedispatch.ParamNodes + " must not be empty")
	}

	selectorType := v.GetString(nodedispatch.ParamSelector)
	logger.WithFields(logrus.Fields{
		nodedispatch.ParamSelector: selectorType,
		nodedispatch.ParamNodes:    initial.Strings(),
	}).Info("Creating node selector")

	switch selectorType {
	case SelectorRoundRobin:
		return NewRoundRobinSelector(initial), nil
	case SelectorStatic:
		if len(initial) != 1 {
			return nil, fmt.Errorf("%s selector requires exactly one node, got %d", SelectorStatic, len(initial))
		}
		return NewStaticSelector(initial[0]), nil
	case SelectorSniffing:
		return NewSniffingSelectorFromViper(v, logger, transport, statser, initial)
	default:
		return nil, fmt.Errorf("%s (%s) not one of %s, %s, or %s", nodedispatch.ParamSelector, selectorType, SelectorRoundRobin, SelectorSniffing, SelectorStatic)
	}
}

// NewSniffingSelectorFromViper creates a SniffingSelector from the top level
// parameters, and the retry policy in the sniffer sub viper.
func NewSniffingSelectorFromViper(
	v *viper.Viper,
	logger logrus.FieldLogger,
	transport nodedispatch.Transport,
	statser stats.Statser,
	initial nodedispatch.NodeSet,
) (*SniffingSelector, error) {
	v.SetDefault(nodedispatch.ParamMaxNodeAge, nodedispatch.DefaultMaxNodeAge)
	v.SetDefault(nodedispatch.ParamRefreshInterval, nodedispatch.DefaultRefreshInterval)
	v.SetDefault(nodedispatch.ParamMaxAffinities, nodedispatch.DefaultMaxAffinities)
	v.SetDefault(nodedispatch.ParamDiscoveryPath, nodedispatch.DefaultDiscoveryPath)
	v.SetDefault(nodedispatch.ParamSniffOnStart, nodedispatch.DefaultSniffOnStart)
	v.SetDefault(nodedispatch.ParamRefreshRequestsPerMinute, nodedispatch.DefaultRefreshRequestsPerMinute)

	maxNodeAge := v.GetDuration(nodedispatch.ParamMaxNodeAge)
	refreshInterval := v.GetDuration(nodedispatch.ParamRefreshInterval)
	maxAffinities := v.GetInt(nodedispatch.ParamMaxAffinities)
	discoveryPath := v.GetString(nodedispatch.ParamDiscoveryPath)
	sniffOnStart := v.GetBool(nodedispatch.ParamSniffOnStart)
	refreshesPerMinute := v.GetInt(nodedispatch.ParamRefreshRequestsPerMinute)

	if maxNodeAge <= 0 {
		return nil, errors.New(nodedispatch.ParamMaxNodeAge + " must be positive")
	}
	if refreshInterval < 0 {
		return nil, errors.New(nodedispatch.ParamRefreshInterval + " must not be negative") // 0 = max-node-age
	}
	if maxAffinities <= 0 {
		return nil, errors.New(nodedispatch.ParamMaxAffinities + " must be positive")
	}
	if refreshesPerMinute < 0 {
		return nil, errors.New(nodedispatch.ParamRefreshRequestsPerMinute + " must not be negative") // 0 = disabled
	}

	backoffFactory, err := util.GetRetryFromViper(util.GetSubViper(v, paramSniffer))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", paramSniffer, err)
	}

	var limiter *rate.Limiter
	if refreshesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(refreshesPerMinute)), 1)
	}

	return NewSniffingSelector(logger, transport, SniffingOptions{
		InitialNodes:    initial,
		MaxNodeAge:      maxNodeAge,
		RefreshInterval: refreshInterval,
		MaxAffinities:   maxAffinities,
		DiscoveryPath:   discoveryPath,
		SniffOnStart:    sniffOnStart,
		RefreshLimiter:  limiter,
		Backoff:         backoffFactory,
		Statser:         statser,
	})
}
