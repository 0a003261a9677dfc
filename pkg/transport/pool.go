package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/atlassian/nodedispatch/pkg/util"
)

const paramTransportClientTimeout = "client-timeout"
const paramTransportType = "type"
const paramTransportUserAgent = "user-agent"
const paramTransportCustomHeaders = "custom-headers"
const paramTransportMaxParallelRequests = "max-parallel-requests"
const paramTransportMaxResponseSize = "max-response-size"

const defaultTransportClientTimeout = 10 * time.Second
const transportTypeHttp = "http"
const defaultTransportType = transportTypeHttp
const defaultTransportUserAgent = "nodedispatch"
const defaultTransportMaxParallelRequests = 0 // unlimited
const defaultTransportMaxResponseSize = 100 * 1024 * 1024

// TransportPool creates Clients as required, using the provided viper.Viper for configuration.
type TransportPool struct {
	config *viper.Viper
	logger logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewTransportPool(logger logrus.FieldLogger, config *viper.Viper) *TransportPool {
	return &TransportPool{
		logger:  logger,
		clients: map[string]*Client{},
		config:  config,
	}
}

// Get returns the Client configured under transport.<name>, creating it on first use.  If there is no
// such configuration, transport.default is used.
func (tp *TransportPool) Get(name string) (*Client, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if hc, ok := tp.clients[name]; ok {
		return hc, nil
	}

	hc, err := tp.newClient(name)
	if err != nil {
		return nil, err
	}
	tp.clients[name] = hc
	return hc, nil
}

func (tp *TransportPool) newClient(name string) (*Client, error) {
	key := "transport." + name
	if tp.config.Sub(key) == nil && name != "default" {
		tp.logger.WithField("name", name).Warn("request for non-configured transport, using transport.default")
		key = "transport.default"
	}
	sub := util.GetSubViper(tp.config, key)

	sub.SetDefault(paramTransportClientTimeout, defaultTransportClientTimeout)
	sub.SetDefault(paramTransportType, defaultTransportType)
	sub.SetDefault(paramTransportUserAgent, defaultTransportUserAgent)
	sub.SetDefault(paramTransportMaxParallelRequests, defaultTransportMaxParallelRequests)
	sub.SetDefault(paramTransportMaxResponseSize, defaultTransportMaxResponseSize)

	clientTimeout := sub.GetDuration(paramTransportClientTimeout)
	transportType := sub.GetString(paramTransportType)
	userAgent := sub.GetString(paramTransportUserAgent)
	customHeaders := sub.GetStringMapString(paramTransportCustomHeaders)
	maxParallelRequests := sub.GetInt(paramTransportMaxParallelRequests)
	maxResponseSize := sub.GetInt64(paramTransportMaxResponseSize)

	if clientTimeout < 0 {
		return nil, errors.New(paramTransportClientTimeout + " must not be negative") // 0 = no timeout
	}
	if maxParallelRequests < 0 {
		return nil, errors.New(paramTransportMaxParallelRequests + " must not be negative") // 0 = no limit
	}
	if maxResponseSize <= 0 {
		return nil, errors.New(paramTransportMaxResponseSize + " must be positive")
	}

	var transport *http.Transport
	var err error

	switch transportType {
	case transportTypeHttp:
		transport, err = tp.newHttpTransport(name, sub)
	default:
		err = errors.New(paramTransportType + " must be http")
	}
	if err != nil {
		return nil, err
	}

	tp.logger.WithFields(logrus.Fields{
		"name":                            name,
		paramTransportType:                transportType,
		paramTransportClientTimeout:       clientTimeout,
		paramTransportUserAgent:           userAgent,
		paramTransportMaxParallelRequests: maxParallelRequests,
		paramTransportMaxResponseSize:     maxResponseSize,
	}).Info("created client")

	return &Client{
		logger:          tp.logger.WithField("transport", name),
		userAgent:       userAgent,
		customHeaders:   customHeaders,
		requestSem:      util.NewSemaphore(maxParallelRequests),
		maxResponseSize: maxResponseSize,
		Client: &http.Client{
			Transport: transport,
			Timeout:   clientTimeout,
		},
	}, nil
}
