package web

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/topology"
)

// nodeLister serves the current node set in the member list format, so one
// dispatcher can discover its nodes from another.
type nodeLister struct {
	logger   logrus.FieldLogger
	selector nodedispatch.NodeSelector
}

func (nl *nodeLister) listNodes(resp http.ResponseWriter, req *http.Request) {
	data, err := topology.Encode(nl.selector.CurrentNodes())
	if err != nil {
		nl.logger.WithError(err).Error("failed to encode nodes")
		resp.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp.Header().Set("content-type", "application/json")
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write(data)
}
