package stage

import (
	"errors"
	"strings"
	"testing"
)

func TestOutcomeFailure(t *testing.T) {
	out := Terminal(errors.New("storage returned 403"), "permission_denied", true)
	failure := out.Failure()
	if failure.Message != "storage returned 403" || failure.Category != "permission_denied" {
		t.Fatalf("unexpected failure %+v", failure)
	}
	if !strings.Contains(out.String(), "retain=true") {
		t.Fatalf("unexpected string %q", out.String())
	}

	ok := Success(AnalysisRecord{Calories: 420}, "rec-9")
	if ok.Failure().Message != "" {
		t.Fatalf("success must not carry a failure message")
	}
}

func TestCombine(t *testing.T) {
	if h := Combine("executor", Healthy("analysis"), Healthy("storage")); !h.Ready {
		t.Fatalf("expected ready, got %+v", h)
	}
	h := Combine("executor", Healthy("analysis"), Unhealthy("storage", "token missing"))
	if h.Ready || h.Detail != "storage: token missing" {
		t.Fatalf("unexpected combined health %+v", h)
	}
}
