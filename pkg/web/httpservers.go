package web

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/nodedispatch/pkg/dispatch"
	"github.com/atlassian/nodedispatch/pkg/healthcheck"
	"github.com/atlassian/nodedispatch/pkg/util"
)

const (
	paramAddress           = "address"
	paramEnableExpVar      = "enable-expvar"
	paramEnableHealthcheck = "enable-healthcheck"
	paramEnableNodes       = "enable-nodes"
	paramEnableMetrics     = "enable-metrics"
	paramEnableProxy       = "enable-proxy"
	paramMaxRequestSize    = "max-request-size"

	defaultAddress           = "127.0.0.1:8080"
	defaultEnableExpVar      = false
	defaultEnableHealthcheck = true
	defaultEnableNodes       = true
	defaultEnableMetrics     = true
	defaultEnableProxy       = false
	defaultMaxRequestSize    = 10 * 1024 * 1024
)

// ServerOptions selects the routes served by an HttpServer.
type ServerOptions struct {
	Address           string
	EnableExpVar      bool
	EnableHealthcheck bool
	EnableNodes       bool
	// EnableMetrics serves /metrics when a prometheus.Gatherer is provided.
	EnableMetrics bool
	EnableProxy   bool
	// MaxRequestSize limits the body of proxied requests.
	MaxRequestSize int64
}

// HttpServer serves the admin routes, and optionally proxies everything else through a Dispatcher.
type HttpServer struct {
	logger  logrus.FieldLogger
	address string
	Router  *mux.Router
}

type route struct {
	path    string
	prefix  bool
	handler http.HandlerFunc
	method  string
	name    string
}

var done = struct{}{}

// NewHttpServersFromViper creates an HttpServer for every name in http-servers, each
// configured from the http.<name> sub viper.  gatherer may be nil.
func NewHttpServersFromViper(
	v *viper.Viper,
	logger logrus.FieldLogger,
	dispatcher *dispatch.Dispatcher,
	gatherer prometheus.Gatherer,
) ([]*HttpServer, error) {
	httpServerNames := v.GetStringSlice("http-servers")
	servers := make([]*HttpServer, 0, len(httpServerNames))
	for _, httpServerName := range httpServerNames {
		server, err := newHttpServerFromViper(logger, v, httpServerName, dispatcher, gatherer)
		if err != nil {
			return nil, fmt.Errorf("failed to make http-server %s: %v", httpServerName, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func newHttpServerFromViper(
	logger logrus.FieldLogger,
	vMain *viper.Viper,
	serverName string,
	dispatcher *dispatch.Dispatcher,
	gatherer prometheus.Gatherer,
) (*HttpServer, error) {
	vSub := util.GetSubViper(vMain, "http."+serverName)
	vSub.SetDefault(paramAddress, defaultAddress)
	vSub.SetDefault(paramEnableExpVar, defaultEnableExpVar)
	vSub.SetDefault(paramEnableHealthcheck, defaultEnableHealthcheck)
	vSub.SetDefault(paramEnableNodes, defaultEnableNodes)
	vSub.SetDefault(paramEnableMetrics, defaultEnableMetrics)
	vSub.SetDefault(paramEnableProxy, defaultEnableProxy)
	vSub.SetDefault(paramMaxRequestSize, defaultMaxRequestSize)

	return NewHttpServer(
		logger.WithField("http-server", serverName),
		dispatcher,
		gatherer,
		ServerOptions{
			Address:           vSub.GetString(paramAddress),
			EnableExpVar:      vSub.GetBool(paramEnableExpVar),
			EnableHealthcheck: vSub.GetBool(paramEnableHealthcheck),
			EnableNodes:       vSub.GetBool(paramEnableNodes),
			EnableMetrics:     vSub.GetBool(paramEnableMetrics),
			EnableProxy:       vSub.GetBool(paramEnableProxy),
			MaxRequestSize:    vSub.GetInt64(paramMaxRequestSize),
		},
	)
}

func NewHttpServer(
	logger logrus.FieldLogger,
	dispatcher *dispatch.Dispatcher,
	gatherer prometheus.Gatherer,
	opts ServerOptions,
) (*HttpServer, error) {
	var routes []route

	server := &HttpServer{
		logger:  logger,
		address: opts.Address,
	}

	if opts.EnableExpVar {
		routes = append(routes,
			route{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar_get"},
		)
	}

	if opts.EnableHealthcheck {
		selector := dispatcher.Selector()
		healthChecks, deepChecks := healthcheck.MaybeAppendHealthChecks(nil, []healthcheck.HealthcheckFunc{nodesAvailable(selector)}, selector)
		hc := &healthChecker{
			logger:       logger,
			healthChecks: healthChecks,
			deepChecks:   deepChecks,
		}
		routes = append(routes,
			route{path: "/healthcheck", handler: hc.healthCheck, method: "GET", name: "healthcheck_get"},
			route{path: "/deepcheck", handler: hc.deepCheck, method: "GET", name: "deepcheck_get"},
		)
	}

	if opts.EnableNodes {
		nl := &nodeLister{logger: logger, selector: dispatcher.Selector()}
		routes = append(routes,
			route{path: "/nodes", handler: nl.listNodes, method: "GET", name: "nodes_get"},
		)
	}

	if opts.EnableMetrics && gatherer != nil {
		routes = append(routes,
			route{path: "/metrics", handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP, method: "GET", name: "metrics_get"},
		)
	}

	if opts.EnableProxy {
		if opts.MaxRequestSize <= 0 {
			return nil, fmt.Errorf("%s must be positive", paramMaxRequestSize)
		}
		p := newProxy(logger, dispatcher, opts.MaxRequestSize)
		routes = append(routes,
			route{path: "/", prefix: true, handler: p.forward, name: "proxy"},
		)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("must enable at least one of expvar, healthcheck, nodes, metrics, or proxy")
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.Router = router

	logger.WithFields(logrus.Fields{
		paramAddress:           opts.Address,
		paramEnableExpVar:      opts.EnableExpVar,
		paramEnableHealthcheck: opts.EnableHealthcheck,
		paramEnableNodes:       opts.EnableNodes,
		paramEnableMetrics:     opts.EnableMetrics && gatherer != nil,
		paramEnableProxy:       opts.EnableProxy,
	}).Info("Created server")

	return server, nil
}

func (hs *HttpServer) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("not found"))
}

// createRoutes registers routes in order, so a prefix route must come last.
func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()

	for _, route := range routes {
		var r *mux.Route
		if route.prefix {
			r = router.PathPrefix(route.path).HandlerFunc(route.handler)
		} else {
			r = router.HandleFunc(route.path, route.handler)
		}
		if route.method != "" {
			r = r.Methods(route.method)
		}
		r = r.Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}

	return router, nil
}

func (hs *HttpServer) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logFields := logrus.Fields{
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route := mux.CurrentRoute(req); route == nil {
			logFields["method"] = req.Method
		} else {
			logFields["route"] = route.GetName()
		}
		if source := req.Header.Get("X-Forwarded-For"); source != "" {
			logFields["forwarded_for"] = source
		}

		start := time.Now()
		handler.ServeHTTP(w, req)
		logFields["duration"] = float64(time.Since(start)) / float64(time.Millisecond)
		hs.logger.WithFields(logFields).Debug("request")
	})
}

func (hs *HttpServer) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    hs.address,
		Handler: hs.Router,
	}

	chStopped := make(chan struct{}, 1)
	go hs.waitAndStop(ctx, server, chStopped)

	hs.logger.WithField("address", server.Addr).Info("listening")

	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		hs.logger.WithError(err).Error("web server failed")
		return
	}

	// Wait for graceful shutdown of existing connections
	select {
	case <-chStopped:
	case <-time.After(6 * time.Second):
		hs.logger.Info("timeout waiting for webserver to stop")
	}
}

// waitAndStop will gracefully shut down the Server when the Context passed is cancelled.  It signals
// on chStopped when it is done.
func (hs *HttpServer) waitAndStop(ctx context.Context, server *http.Server, chStopped chan<- struct{}) {
	<-ctx.Done()

	hs.logger.Info("shutting down web server")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		hs.logger.WithError(err).Warn("failed to stop web server")
	}
	chStopped <- done
}
