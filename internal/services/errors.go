package services

import (
	"errors"
	"fmt"
	"strings"
)

// Markers tag collaborator failures so the retry engine can classify them
// without knowing which client produced the error.
var (
	ErrConnectivity      = errors.New("connectivity failure")
	ErrTimeout           = errors.New("timeout")
	ErrServerFault       = errors.New("remote server fault")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRejected          = errors.New("request rejected")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrValidation        = errors.New("validation error")
	ErrArtifactMissing   = errors.New("artifact missing")
	ErrConfiguration     = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		if err == nil {
			return errors.New(detail)
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Marker returns the first sentinel marker carried by err, or nil.
func Marker(err error) error {
	if err == nil {
		return nil
	}
	for _, marker := range []error{
		ErrPermissionDenied,
		ErrUnauthorized,
		ErrArtifactMissing,
		ErrValidation,
		ErrConfiguration,
		ErrMalformedResponse,
		ErrRejected,
		ErrTimeout,
		ErrServerFault,
		ErrConnectivity,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
