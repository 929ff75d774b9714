package sheets

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// DeliveryErrorKind classifies why a row could not be delivered.
type DeliveryErrorKind string

const (
	KindAuth     DeliveryErrorKind = "auth"
	KindNotFound DeliveryErrorKind = "not_found"
	KindNetwork  DeliveryErrorKind = "network"
	KindUnknown  DeliveryErrorKind = "unknown"
)

// DeliveryError is a failed spreadsheet operation.
type DeliveryError struct {
	Kind DeliveryErrorKind
	Op   string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sheets %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryable lets a caller outside the sink decide to retry later; the sink itself never retries.
func (e *DeliveryError) IsRetryable() bool {
	return e.Kind == KindNetwork
}

// classify wraps err in a DeliveryError with a kind derived from the Google API
// status code, OAuth failures and network errors.
func classify(op string, err error) *DeliveryError {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}

	kind := KindUnknown

	var gErr *googleapi.Error
	var rErr *oauth2.RetrieveError
	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.As(err, &gErr):
		switch {
		case gErr.Code == http.StatusUnauthorized || gErr.Code == http.StatusForbidden:
			kind = KindAuth
		case gErr.Code == http.StatusNotFound:
			kind = KindNotFound
		case gErr.Code == http.StatusTooManyRequests || gErr.Code >= 500:
			kind = KindNetwork
		}
	case errors.As(err, &rErr):
		kind = KindAuth
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		kind = KindNetwork
	}

	return &DeliveryError{Kind: kind, Op: op, Err: err}
}
