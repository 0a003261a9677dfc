package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/util"
)

// Client sends requests to individual nodes.  It implements nodedispatch.Transport.
type Client struct {
	requestsSent   uint64 // atomic
	requestsFailed uint64 // atomic

	logger          logrus.FieldLogger
	userAgent       string
	customHeaders   map[string]string
	requestSem      util.Semaphore
	maxResponseSize int64

	Client *http.Client
}

var _ nodedispatch.Transport = (*Client)(nil)

// ClientCounters is a point in time view of a Client's counters.
type ClientCounters struct {
	RequestsSent   uint64
	RequestsFailed uint64
}

// Counters returns the number of requests sent, and how many of them received no response.
func (c *Client) Counters() ClientCounters {
	return ClientCounters{
		RequestsSent:   atomic.LoadUint64(&c.requestsSent),
		RequestsFailed: atomic.LoadUint64(&c.requestsFailed),
	}
}

// Send performs req against node, and returns whatever the node answered, including
// non-2xx responses.  Any failure to obtain a response is returned as a
// *nodedispatch.TransportError.
func (c *Client) Send(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*nodedispatch.Response, error) {
	if err := c.requestSem.Acquire(ctx); err != nil {
		return nil, c.fail(node, err)
	}
	defer c.requestSem.Release()

	atomic.AddUint64(&c.requestsSent, 1)

	httpReq, err := c.newRequest(ctx, node, req)
	if err != nil {
		return nil, c.fail(node, err)
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, c.fail(node, err)
	}
	defer consumeAndClose(resp.Body)

	body, err := readLimited(resp.Body, c.maxResponseSize)
	if err != nil {
		return nil, c.fail(node, err)
	}

	return &nodedispatch.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, node nodedispatch.Node, req *nodedispatch.Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := node.URL(req.Path)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, value := range c.customHeaders {
		if value == "" {
			httpReq.Header.Del(key)
		} else {
			httpReq.Header.Set(key, value)
		}
	}
	return httpReq, nil
}

func (c *Client) fail(node nodedispatch.Node, err error) *nodedispatch.TransportError {
	atomic.AddUint64(&c.requestsFailed, 1)
	te := &nodedispatch.TransportError{
		Node:    node,
		Timeout: isTimeout(err),
		Err:     err,
	}
	c.logger.WithFields(logrus.Fields{
		"node":    node.String(),
		"timeout": te.Timeout,
		"error":   err,
	}).Debug("request failed")
	return te
}
