package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chainlock/chainlock"
)

// CheckResponse takes a http.Response and a variadic of ints representing
// acceptable http status codes. The error returned carries the chainlock
// error kind for the status class and attempts to include some content from
// the server's response.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	for _, code := range acceptableCodes {
		if resp.StatusCode == code {
			return nil
		}
	}
	var msg string
	limitBody, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err == nil && len(limitBody) != 0 {
		msg = fmt.Sprintf("unexpected status code: %s (body starts: %q)", resp.Status, limitBody)
	} else {
		msg = fmt.Sprintf("unexpected status code: %s", resp.Status)
	}
	return &chainlock.Error{
		Kind:    KindForStatus(resp.StatusCode),
		Message: msg,
	}
}

// KindForStatus maps an HTTP status code onto the error taxonomy: 404 is
// not_found, other 4xx are permanent, 5xx and everything else transient.
func KindForStatus(code int) chainlock.ErrorKind {
	switch {
	case code == http.StatusNotFound:
		return chainlock.ErrNotFound
	case code >= 400 && code < 500:
		return chainlock.ErrNetworkPermanent
	default:
		return chainlock.ErrNetworkTransient
	}
}

// ClassifyErr wraps a transport-level error with the matching kind.
//
// Context cancellation is surfaced as cancelled; everything else the
// transport can produce (DNS failure, reset, timeout) is worth a retry and
// is marked transient.
func ClassifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := chainlock.ErrNetworkTransient
	if errors.Is(err, context.Canceled) {
		kind = chainlock.ErrCancelled
	}
	return &chainlock.Error{Op: op, Kind: kind, Inner: err}
}
