// Package retry decides whether a failed attempt may run again and when.
//
// Classification is fixed: transport, timeout and remote server faults are
// retryable; malformed responses, rejected or unauthorized requests, local
// validation and unknown failures are terminal. The Policy enforces the
// attempt ceiling regardless of classification.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"nutrilog/internal/services"
)

// Class is the coarse retry verdict.
type Class string

const (
	Retryable Class = "retryable"
	Terminal  Class = "terminal"
)

// Categories recorded with each failure.
const (
	CategoryConnectivity      = "connectivity"
	CategoryTimeout           = "timeout"
	CategoryServerFault       = "server_fault"
	CategoryMalformedResponse = "malformed_response"
	CategoryRejected          = "rejected"
	CategoryUnauthorized      = "unauthorized"
	CategoryPermissionDenied  = "permission_denied"
	CategoryValidation        = "validation"
	CategoryArtifactMissing   = "artifact_missing"
	CategoryCanceled          = "canceled"
	CategoryUnexpected        = "unexpected"

	// Assigned by the scheduler rather than the classifier.
	CategoryInterrupted = "interrupted"
	CategoryExhausted   = "retries_exhausted"
)

// Classification is the result of Classify.
type Classification struct {
	Class    Class
	Category string
}

// Retryable reports whether the failure permits another attempt.
func (c Classification) Retryable() bool {
	return c.Class == Retryable
}

// StatusCoder is implemented by collaborator errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

var markerCategories = []struct {
	marker   error
	category string
	class    Class
}{
	{services.ErrPermissionDenied, CategoryPermissionDenied, Terminal},
	{services.ErrUnauthorized, CategoryUnauthorized, Terminal},
	{services.ErrArtifactMissing, CategoryArtifactMissing, Terminal},
	{services.ErrValidation, CategoryValidation, Terminal},
	{services.ErrConfiguration, CategoryValidation, Terminal},
	{services.ErrMalformedResponse, CategoryMalformedResponse, Terminal},
	{services.ErrRejected, CategoryRejected, Terminal},
	{services.ErrTimeout, CategoryTimeout, Retryable},
	{services.ErrServerFault, CategoryServerFault, Retryable},
	{services.ErrConnectivity, CategoryConnectivity, Retryable},
}

// Classify maps an error from a collaborator onto the retry taxonomy.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: Terminal, Category: CategoryUnexpected}
	}
	for _, entry := range markerCategories {
		if errors.Is(err, entry.marker) {
			return Classification{Class: entry.class, Category: entry.category}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Class: Retryable, Category: CategoryTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Class: Retryable, Category: CategoryCanceled}
	}

	var coded StatusCoder
	if errors.As(err, &coded) {
		if cls, ok := classifyStatus(coded.StatusCode()); ok {
			return cls
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Classification{Class: Terminal, Category: CategoryMalformedResponse}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Class: Retryable, Category: CategoryTimeout}
	}
	if isTransport(err) {
		return Classification{Class: Retryable, Category: CategoryConnectivity}
	}
	return Classification{Class: Terminal, Category: CategoryUnexpected}
}

func classifyStatus(code int) (Classification, bool) {
	switch {
	case code == http.StatusRequestTimeout:
		return Classification{Class: Retryable, Category: CategoryTimeout}, true
	case code == http.StatusTooManyRequests:
		return Classification{Class: Retryable, Category: CategoryServerFault}, true
	case code >= 500 && code <= 599:
		return Classification{Class: Retryable, Category: CategoryServerFault}, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Classification{Class: Terminal, Category: CategoryUnauthorized}, true
	case code >= 400 && code <= 499:
		return Classification{Class: Terminal, Category: CategoryRejected}, true
	default:
		return Classification{}, false
	}
}

func isTransport(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &urlErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}
