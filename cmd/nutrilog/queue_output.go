package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"nutrilog/internal/api"
)

func printRetryResults(out io.Writer, results []api.RetryResult) {
	for _, result := range results {
		switch {
		case result.Error != "":
			fmt.Fprintf(out, "Job %s not retried: %s\n", result.JobID, result.Error)
		case result.NewJobID != "":
			fmt.Fprintf(out, "Job %s re-queued as %s\n", result.JobID, result.NewJobID)
		default:
			fmt.Fprintf(out, "Job %s re-queued\n", result.JobID)
		}
	}
}

// retryErrorMessage turns API status codes into operator-facing reasons.
func retryErrorMessage(err error) string {
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		return err.Error()
	}
	switch statusErr.Code {
	case http.StatusNotFound:
		return "job not found"
	case http.StatusConflict:
		return "only failed jobs that kept their photo can be retried"
	default:
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return statusErr.Error()
	}
}
