package dispatch

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tilinna/clock"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/stats"
)

// Dispatcher sends each request to the node chosen for it by a NodeSelector.
type Dispatcher struct {
	logger         logrus.FieldLogger
	selector       nodedispatch.NodeSelector
	transport      nodedispatch.Transport
	statser        stats.Statser
	sniffOnFailure bool
}

// NewDispatcherFromViper creates a Dispatcher with the sniff-on-failure parameter.
func NewDispatcherFromViper(
	v *viper.Viper,
	logger logrus.FieldLogger,
	selector nodedispatch.NodeSelector,
	transport nodedispatch.Transport,
	statser stats.Statser,
) *Dispatcher {
	v.SetDefault(nodedispatch.ParamSniffOnFailure, nodedispatch.DefaultSniffOnFailure)
	return NewDispatcher(logger, selector, transport, statser, v.GetBool(nodedispatch.ParamSniffOnFailure))
}

// NewDispatcher creates a Dispatcher.  If sniffOnFailure is set and the selector is a
// nodedispatch.RefreshRequester, a failed request asks it for an early refresh.
func NewDispatcher(
	logger logrus.FieldLogger,
	selector nodedispatch.NodeSelector,
	transport nodedispatch.Transport,
	statser stats.Statser,
	sniffOnFailure bool,
) *Dispatcher {
	return &Dispatcher{
		logger:         logger,
		selector:       selector,
		transport:      transport,
		statser:        statser,
		sniffOnFailure: sniffOnFailure,
	}
}

// Selector returns the NodeSelector requests are dispatched with.
func (d *Dispatcher) Selector() nodedispatch.NodeSelector {
	return d.selector
}

// Execute sends req to a single node, and returns the node's response whatever its
// status code.  The request is not retried.  Every error is a *nodedispatch.DispatchError.
func (d *Dispatcher) Execute(ctx context.Context, req *nodedispatch.Request, affinity nodedispatch.Affinity) (*nodedispatch.Response, error) {
	clck := clock.FromContext(ctx)
	start := clck.Now()

	node, err := d.selector.Next(affinity)
	if err != nil {
		de := nodedispatch.NewDispatchError(nodedispatch.Node{}, err)
		d.failed(de)
		return nil, de
	}

	resp, err := d.transport.Send(ctx, node, req)
	d.statser.TimingDuration("dispatch.duration", clck.Since(start), nil)
	if err != nil {
		de := nodedispatch.NewDispatchError(node, err)
		d.failed(de)
		if d.sniffOnFailure {
			if rr, ok := d.selector.(nodedispatch.RefreshRequester); ok {
				rr.RequestRefresh()
			}
		}
		return nil, de
	}

	d.statser.Increment("dispatch.requests", nodedispatch.Tags{"status:" + strconv.Itoa(resp.StatusCode)})
	return resp, nil
}

func (d *Dispatcher) failed(de *nodedispatch.DispatchError) {
	d.statser.Increment("dispatch.failed", nodedispatch.Tags{"kind:" + de.Kind.String()})
	d.logger.WithFields(logrus.Fields{
		"node":  de.Node.String(),
		"kind":  de.Kind.String(),
		"error": de.Err,
	}).Debug("Dispatch failed")
}
