package web

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/dispatch"
)

// AffinityHeader carries the affinity token of a proxied request.  It is not forwarded.
const AffinityHeader = "X-Affinity-Token"

// Hop-by-hop headers, these apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type proxy struct {
	logger         logrus.FieldLogger
	dispatcher     *dispatch.Dispatcher
	maxRequestSize int64
}

func newProxy(logger logrus.FieldLogger, dispatcher *dispatch.Dispatcher, maxRequestSize int64) *proxy {
	return &proxy{
		logger:         logger,
		dispatcher:     dispatcher,
		maxRequestSize: maxRequestSize,
	}
}

func (p *proxy) forward(w http.ResponseWriter, req *http.Request) {
	body, err := ioutil.ReadAll(io.LimitReader(req.Body, p.maxRequestSize+1))
	if err != nil {
		p.logger.WithError(err).Info("failed reading request body")
		http.Error(w, "failed reading request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > p.maxRequestSize {
		http.Error(w, fmt.Sprintf("request body exceeds %d bytes", p.maxRequestSize), http.StatusRequestEntityTooLarge)
		return
	}

	header := req.Header.Clone()
	removeHopHeaders(header)
	affinity := nodedispatch.Affinity(header.Get(AffinityHeader))
	header.Del(AffinityHeader)

	resp, err := p.dispatcher.Execute(req.Context(), &nodedispatch.Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: header,
		Body:   body,
	}, affinity)
	if err != nil {
		status := statusForError(err)
		http.Error(w, err.Error(), status)
		return
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	removeHopHeaders(w.Header())
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// statusForError maps a dispatch failure to the status returned to the client.
func statusForError(err error) int {
	var de *nodedispatch.DispatchError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case nodedispatch.KindNoAvailableNodes:
		return http.StatusServiceUnavailable
	case nodedispatch.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
