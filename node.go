package nodedispatch

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	schemeHttp  = "http"
	schemeHttps = "https"
)

// Node identifies a single member of a cluster.  A Node is a value, and two
// Nodes are the same node if all their fields are equal.
type Node struct {
	Host   string
	Port   int
	UseTLS bool
}

// NewNode returns a Node after validating the host and port.
func NewNode(host string, port int, useTLS bool) (Node, error) {
	if host == "" {
		return Node{}, fmt.Errorf("node host must not be empty")
	}
	if port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("node port %d out of range", port)
	}
	return Node{Host: host, Port: port, UseTLS: useTLS}, nil
}

// ParseNode parses host:port, http://host:port or https://host:port into a Node.
// The port is required.
func ParseNode(s string) (Node, error) {
	useTLS := false
	if idx := strings.Index(s, "://"); idx >= 0 {
		switch strings.ToLower(s[:idx]) {
		case schemeHttp:
		case schemeHttps:
			useTLS = true
		default:
			return Node{}, fmt.Errorf("node %q: unsupported scheme %q", s, s[:idx])
		}
		s = s[idx+3:]
	}
	s = strings.TrimSuffix(s, "/")

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Node{}, fmt.Errorf("node %q: %v", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Node{}, fmt.Errorf("node %q: invalid port %q", s, portStr)
	}
	return NewNode(host, port, useTLS)
}

// Scheme returns the URL scheme used to talk to the node.
func (n Node) Scheme() string {
	if n.UseTLS {
		return schemeHttps
	}
	return schemeHttp
}

// Address returns host:port.
func (n Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// URL returns the absolute URL for path on this node.
func (n Node) URL(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return n.Scheme() + "://" + n.Address() + path
}

func (n Node) String() string {
	return n.Scheme() + "://" + n.Address()
}

// NodeSet is an ordered list of nodes.  A NodeSet handed out by a selector is a
// snapshot and must not be modified.
type NodeSet []Node

// NewNodeSet returns a NodeSet with duplicates removed, keeping the first
// occurrence of each node.
func NewNodeSet(nodes ...Node) NodeSet {
	seen := make(map[Node]struct{}, len(nodes))
	ns := make(NodeSet, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		ns = append(ns, n)
	}
	return ns
}

// ParseNodeSet parses every entry with ParseNode.
func ParseNodeSet(addrs []string) (NodeSet, error) {
	nodes := make([]Node, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		n, err := ParseNode(addr)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return NewNodeSet(nodes...), nil
}

// Equal reports whether both sets hold the same nodes in the same order.
func (ns NodeSet) Equal(other NodeSet) bool {
	if len(ns) != len(other) {
		return false
	}
	for i := range ns {
		if ns[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains reports whether n is in the set.
func (ns NodeSet) Contains(n Node) bool {
	for _, node := range ns {
		if node == n {
			return true
		}
	}
	return false
}

// Strings renders every node with Node.String, intended for logging.
func (ns NodeSet) Strings() []string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = n.String()
	}
	return s
}

// Affinity is an opaque token supplied by the caller to pin repeated calls to
// the same node.  It carries no meaning beyond being a map key.
type Affinity string

// NoAffinity is the absence of an affinity token, and selects plain round robin.
const NoAffinity Affinity = ""
