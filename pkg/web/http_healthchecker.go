package web

import (
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/healthcheck"
)

type healthChecker struct {
	logger       logrus.FieldLogger
	healthChecks []healthcheck.HealthcheckFunc
	deepChecks   []healthcheck.HealthcheckFunc
}

func respondToHealthChecks(resp http.ResponseWriter, checks []healthcheck.HealthcheckFunc) {
	good, bad := healthcheck.Run(checks)
	resp.Header().Set("content-type", "application/json")
	if len(bad) > 0 {
		resp.WriteHeader(http.StatusServiceUnavailable)
	} else {
		resp.WriteHeader(http.StatusOK)
	}

	enc := jsoniter.NewEncoder(resp)
	_ = enc.Encode(map[string][]string{
		"ok":     good,
		"failed": bad,
	})
}

// nodesAvailable is healthy while the selector has at least one node.
func nodesAvailable(selector nodedispatch.NodeSelector) healthcheck.HealthcheckFunc {
	return func() (string, healthcheck.HealthyStatus) {
		n := len(selector.CurrentNodes())
		if n == 0 {
			return "no nodes available", healthcheck.Unhealthy
		}
		return fmt.Sprintf("%d nodes available", n), healthcheck.Healthy
	}
}

// healthCheck reports if the server is ready to process traffic.
func (hc *healthChecker) healthCheck(resp http.ResponseWriter, req *http.Request) {
	respondToHealthChecks(resp, hc.healthChecks)
}

// deepCheck reports on the nodes requests are dispatched to.
func (hc *healthChecker) deepCheck(resp http.ResponseWriter, req *http.Request) {
	hc.logger.Debug("deepCheck")
	respondToHealthChecks(resp, hc.deepChecks)
}
