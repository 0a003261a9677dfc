package nodes

import (
	"context"
	"net"
)

// NodeTracker will track a list of nodes, it is responsible for tracking life
// cycle updates, and will typically pass them on to a nodedispatch.NodeUpdater.
type NodeTracker interface {
	// Run will run the node tracker until the context is closed.  The caller must
	// ensure that Run returns, and not just cancel the context, as the NodeTracker
	// may have cleanup.
	Run(ctx context.Context)
}

// LocalAddress is a helper function to return the local IP address that would
// be used to connect to a specified target.  Useful to get the IP that should
// be advertised externally.
func LocalAddress(target string) (net.IP, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	_ = conn.Close()
	return localAddr.IP, nil
}
