package nodedispatch

import (
	"time"

	"github.com/spf13/pflag"
)

// DefaultNodes is the default list of cluster nodes.
var DefaultNodes = []string{"http://127.0.0.1:9200"}

// DefaultInternalTags is the default list of tags added to internal metrics.
var DefaultInternalTags = Tags{}

const (
	// DefaultSelector is the default node selection policy.
	DefaultSelector = "sniffing"
	// DefaultMaxNodeAge is the default time an affinity binding is honoured for, and
	// the default topology refresh interval.
	DefaultMaxNodeAge = 5 * time.Minute
	// DefaultRefreshInterval is the default topology refresh interval, 0 means
	// use max-node-age.
	DefaultRefreshInterval = time.Duration(0)
	// DefaultMaxAffinities is the default bound on the number of tracked affinity tokens.
	DefaultMaxAffinities = 10000
	// DefaultDiscoveryPath is the default path queried for cluster membership.
	DefaultDiscoveryPath = "/_nodes/http"
	// DefaultSniffOnStart is the default for refreshing the topology as soon as the refresher starts.
	DefaultSniffOnStart = false
	// DefaultSniffOnFailure is the default for requesting an early refresh after a failed dispatch.
	DefaultSniffOnFailure = false
	// DefaultRefreshRequestsPerMinute is the default limit on early refreshes.
	DefaultRefreshRequestsPerMinute = 6
	// DefaultTransport is the default name of the transport used for dispatch and discovery.
	DefaultTransport = "default"
	// DefaultStatserType is the default statser type.
	DefaultStatserType = StatserNull
	// DefaultInternalNamespace is the default namespace for internal metrics.
	DefaultInternalNamespace = "nodedispatch"
)

const (
	// StatserNull is the name used to indicate internal metrics are discarded.
	StatserNull = "null"
	// StatserLogging is the name used to indicate the use of the logging statser.
	StatserLogging = "logging"
	// StatserPrometheus is the name used to indicate the use of the prometheus statser.
	StatserPrometheus = "prometheus"
)

const (
	// ParamNodes is the name of parameter with the initial list of cluster nodes.
	ParamNodes = "nodes"
	// ParamSelector is the name of parameter with the node selection policy.
	ParamSelector = "selector"
	// ParamMaxNodeAge is the name of parameter with the maximum age of an affinity binding.
	ParamMaxNodeAge = "max-node-age"
	// ParamRefreshInterval is the name of parameter with the topology refresh interval.
	ParamRefreshInterval = "refresh-interval"
	// ParamMaxAffinities is the name of parameter with the bound on tracked affinity tokens.
	ParamMaxAffinities = "max-affinities"
	// ParamDiscoveryPath is the name of parameter with the cluster membership path.
	ParamDiscoveryPath = "discovery-path"
	// ParamSniffOnStart is the name of parameter which enables a topology refresh on start.
	ParamSniffOnStart = "sniff-on-start"
	// ParamSniffOnFailure is the name of parameter which enables early refreshes after failed dispatches.
	ParamSniffOnFailure = "sniff-on-failure"
	// ParamRefreshRequestsPerMinute is the name of parameter limiting early refreshes.
	ParamRefreshRequestsPerMinute = "refresh-requests-per-minute"
	// ParamTransport is the name of parameter with the transport name.
	ParamTransport = "transport"
	// ParamStatserType is the name of parameter with the type of statser.
	ParamStatserType = "statser-type"
	// ParamInternalNamespace is the name of parameter with the namespace for internal metrics.
	ParamInternalNamespace = "internal-namespace"
	// ParamInternalTags is the name of parameter with the tags added to internal metrics.
	ParamInternalTags = "internal-tags"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringSlice(ParamNodes, DefaultNodes, "Comma-separated list of initial cluster nodes")
	fs.String(ParamSelector, DefaultSelector, "Node selection policy [round-robin, sniffing, static]")
	fs.Duration(ParamMaxNodeAge, DefaultMaxNodeAge, "How long an affinity token stays bound to a node")
	fs.Duration(ParamRefreshInterval, DefaultRefreshInterval, "How often to refresh the topology (0 to use max-node-age)")
	fs.Int(ParamMaxAffinities, DefaultMaxAffinities, "Maximum number of affinity tokens tracked")
	fs.String(ParamDiscoveryPath, DefaultDiscoveryPath, "Path queried on a node to discover cluster members")
	fs.Bool(ParamSniffOnStart, DefaultSniffOnStart, "Refresh the topology as soon as the refresher starts")
	fs.Bool(ParamSniffOnFailure, DefaultSniffOnFailure, "Request an early topology refresh after a failed dispatch")
	fs.Int(ParamRefreshRequestsPerMinute, DefaultRefreshRequestsPerMinute, "Maximum number of early topology refreshes per minute")
	fs.String(ParamTransport, DefaultTransport, "Name of the transport used for dispatch and discovery")
	fs.String(ParamStatserType, DefaultStatserType, "Internal metrics destination [null, logging, prometheus]")
	fs.String(ParamInternalNamespace, DefaultInternalNamespace, "Namespace for internal metrics")
	fs.StringSlice(ParamInternalTags, DefaultInternalTags, "Comma-separated list of tags to add to internal metrics")
}
