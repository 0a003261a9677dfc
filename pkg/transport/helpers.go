package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
)

// consumeAndClose will read all the data from the provided io.ReadCloser, then close
// it.  Intended to safely drain HTTP connections.
func consumeAndClose(r io.ReadCloser) {
	_, _ = io.Copy(ioutil.Discard, r)
	_ = r.Close()
}

// readLimited reads r to EOF, failing if it holds more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := ioutil.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// isTimeout reports whether err was caused by a deadline, either the caller's
// context or one of the client timeouts.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
