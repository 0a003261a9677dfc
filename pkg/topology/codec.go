package topology

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/atlassian/nodedispatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoMembers is returned when a response parses, but lists no members.
var ErrNoMembers = errors.New("topology response has no members")

// Member describes a single cluster member in a member list response.
type Member struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Scheme string `json:"scheme,omitempty"`
}

type nodeInfo struct {
	HTTP *struct {
		PublishAddress string `json:"publish_address"`
	} `json:"http"`
}

type response struct {
	Members *[]Member            `json:"members"`
	Nodes   map[string]*nodeInfo `json:"nodes"`
}

// Decode parses body into a NodeSet.  from is the node the response came
// from, its scheme is used for members which don't specify one.
func Decode(body []byte, from nodedispatch.Node) (nodedispatch.NodeSet, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("malformed topology response: %v", err)
	}

	var nodes []nodedispatch.Node
	var err error
	switch {
	case r.Members != nil:
		nodes, err = decodeMembers(*r.Members)
	case r.Nodes != nil:
		nodes, err = decodeNodeInfo(r.Nodes, from.UseTLS)
	default:
		return nil, errors.New("malformed topology response: neither members nor nodes present")
	}
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNoMembers
	}
	return nodedispatch.NewNodeSet(nodes...), nil
}

// Encode renders nodes as a member list response.
func Encode(nodes nodedispatch.NodeSet) ([]byte, error) {
	members := make([]Member, len(nodes))
	for i, n := range nodes {
		members[i] = Member{
			Host:   n.Host,
			Port:   n.Port,
			Scheme: n.Scheme(),
		}
	}
	return json.Marshal(map[string][]Member{"members": members})
}

func decodeMembers(members []Member) ([]nodedispatch.Node, error) {
	nodes := make([]nodedispatch.Node, 0, len(members))
	for i, m := range members {
		var useTLS bool
		switch strings.ToLower(m.Scheme) {
		case "", "http":
		case "https":
			useTLS = true
		default:
			return nil, fmt.Errorf("member %d: unsupported scheme %q", i, m.Scheme)
		}
		n, err := nodedispatch.NewNode(m.Host, m.Port, useTLS)
		if err != nil {
			return nil, fmt.Errorf("member %d: %v", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func decodeNodeInfo(infos map[string]*nodeInfo, useTLS bool) ([]nodedispatch.Node, error) {
	// Sorted by id, so the same cluster always produces the same rotation order.
	ids := make([]string, 0, len(infos))
	for id := range infos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]nodedispatch.Node, 0, len(infos))
	for _, id := range ids {
		info := infos[id]
		if info == nil || info.HTTP == nil {
			// Nodes without http enabled can't be dispatched to.
			continue
		}
		n, err := parsePublishAddress(info.HTTP.PublishAddress, useTLS)
		if err != nil {
			return nil, fmt.Errorf("node %s: %v", id, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// parsePublishAddress parses host:port, or hostname/ip:port in which case the hostname is used.
func parsePublishAddress(address string, useTLS bool) (nodedispatch.Node, error) {
	hostname := ""
	if idx := strings.Index(address, "/"); idx >= 0 {
		hostname = address[:idx]
		address = address[idx+1:]
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nodedispatch.Node{}, fmt.Errorf("invalid publish_address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nodedispatch.Node{}, fmt.Errorf("invalid publish_address port %q", portStr)
	}
	if hostname != "" {
		host = hostname
	}
	return nodedispatch.NewNode(host, port, useTLS)
}
