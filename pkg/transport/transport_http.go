package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const paramHttpDialerKeepAlive = "dialer-keep-alive"
const paramHttpDialerTimeout = "dialer-timeout"
const paramHttpEnableHttp2 = "enable-http2"
const paramHttpIdleConnectionTimeout = "idle-connection-timeout"
const paramHttpMaxIdleConnections = "max-idle-connections"
const paramHttpMaxIdleConnectionsPerHost = "max-idle-connections-per-host"
const paramHttpNetwork = "network"
const paramHttpTLSHandshakeTimeout = "tls-handshake-timeout"
const paramHttpResponseHeaderTimeout = "response-header-timeout"

const defaultHttpDialerKeepAlive = 30 * time.Second
const defaultHttpDialerTimeout = 5 * time.Second
const defaultHttpEnableHttp2 = false
const defaultHttpIdleConnectionTimeout = 1 * time.Minute
const defaultHttpMaxIdleConnections = 50
const defaultHttpMaxIdleConnectionsPerHost = 10
const defaultHttpNetwork = "tcp"
const defaultHttpTLSHandshakeTimeout = 3 * time.Second
const defaultHttpResponseHeaderTimeout = time.Duration(0)

// httpTransportConfig holds the http.Transport settings for one named transport.
type httpTransportConfig struct {
	dialerKeepAlive           time.Duration
	dialerTimeout             time.Duration
	enableHttp2               bool
	idleConnectionTimeout     time.Duration
	maxIdleConnections        int
	maxIdleConnectionsPerHost int
	network                   string
	tlsHandshakeTimeout       time.Duration
	responseHeaderTimeout     time.Duration
}

func httpTransportConfigFromViper(v *viper.Viper) httpTransportConfig {
	v.SetDefault(paramHttpDialerKeepAlive, defaultHttpDialerKeepAlive)
	v.SetDefault(paramHttpDialerTimeout, defaultHttpDialerTimeout)
	v.SetDefault(paramHttpEnableHttp2, defaultHttpEnableHttp2)
	v.SetDefault(paramHttpIdleConnectionTimeout, defaultHttpIdleConnectionTimeout)
	v.SetDefault(paramHttpMaxIdleConnections, defaultHttpMaxIdleConnections)
	v.SetDefault(paramHttpMaxIdleConnectionsPerHost, defaultHttpMaxIdleConnectionsPerHost)
	v.SetDefault(paramHttpNetwork, defaultHttpNetwork)
	v.SetDefault(paramHttpTLSHandshakeTimeout, defaultHttpTLSHandshakeTimeout)
	v.SetDefault(paramHttpResponseHeaderTimeout, defaultHttpResponseHeaderTimeout)

	return httpTransportConfig{
		dialerKeepAlive:           v.GetDuration(paramHttpDialerKeepAlive),
		dialerTimeout:             v.GetDuration(paramHttpDialerTimeout),
		enableHttp2:               v.GetBool(paramHttpEnableHttp2),
		idleConnectionTimeout:     v.GetDuration(paramHttpIdleConnectionTimeout),
		maxIdleConnections:        v.GetInt(paramHttpMaxIdleConnections),
		maxIdleConnectionsPerHost: v.GetInt(paramHttpMaxIdleConnectionsPerHost),
		network:                   v.GetString(paramHttpNetwork),
		tlsHandshakeTimeout:       v.GetDuration(paramHttpTLSHandshakeTimeout),
		responseHeaderTimeout:     v.GetDuration(paramHttpResponseHeaderTimeout),
	}
}

func (c httpTransportConfig) validate() error {
	switch {
	case c.dialerKeepAlive < -1:
		// -1 = disabled, 0 = enabled with the OS interval, >0 = keepalive interval
		return errors.New(paramHttpDialerKeepAlive + " must be -1, 0, or positive")
	case c.dialerTimeout < 0:
		return errors.New(paramHttpDialerTimeout + " must not be negative")
	case c.idleConnectionTimeout < 0:
		return errors.New(paramHttpIdleConnectionTimeout + " must not be negative")
	case c.maxIdleConnections < 0:
		return errors.New(paramHttpMaxIdleConnections + " must not be negative")
	case c.maxIdleConnectionsPerHost < 0:
		return errors.New(paramHttpMaxIdleConnectionsPerHost + " must not be negative")
	case c.network == "":
		return errors.New(paramHttpNetwork + " must not be empty")
	case c.tlsHandshakeTimeout < 0:
		return errors.New(paramHttpTLSHandshakeTimeout + " must not be negative")
	case c.responseHeaderTimeout < 0:
		return errors.New(paramHttpResponseHeaderTimeout + " must not be negative")
	}
	return nil
}

func (c httpTransportConfig) build() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   c.dialerTimeout,
		KeepAlive: c.dialerKeepAlive,
	}
	network := c.network

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: c.tlsHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
		MaxIdleConns:          c.maxIdleConnections,
		MaxIdleConnsPerHost:   c.maxIdleConnectionsPerHost,
		IdleConnTimeout:       c.idleConnectionTimeout,
		ResponseHeaderTimeout: c.responseHeaderTimeout,
	}

	if !c.enableHttp2 {
		// A non-nil empty TLSNextProto disables HTTP/2.
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return transport
}

func (tp *TransportPool) newHttpTransport(name string, v *viper.Viper) (*http.Transport, error) {
	cfg := httpTransportConfigFromViper(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tp.logger.WithFields(logrus.Fields{
		"name":                             name,
		paramHttpDialerKeepAlive:           cfg.dialerKeepAlive,
		paramHttpDialerTimeout:             cfg.dialerTimeout,
		paramHttpEnableHttp2:               cfg.enableHttp2,
		paramHttpIdleConnectionTimeout:     cfg.idleConnectionTimeout,
		paramHttpMaxIdleConnections:        cfg.maxIdleConnections,
		paramHttpMaxIdleConnectionsPerHost: cfg.maxIdleConnectionsPerHost,
		paramHttpNetwork:                   cfg.network,
		paramHttpTLSHandshakeTimeout:       cfg.tlsHandshakeTimeout,
		paramHttpResponseHeaderTimeout:     cfg.responseHeaderTimeout,
	}).Info("created transport")

	return cfg.build(), nil
}
