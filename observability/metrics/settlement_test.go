package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	coreerrors "assetmech/core/errors"
)

func TestOutcome(t *testing.T) {
	if got := Outcome(nil); got != "ok" {
		t.Fatalf("nil error outcome %q", got)
	}
	if got := Outcome(fmt.Errorf("staking: %w", coreerrors.ErrNotOwner)); got != "NotOwner" {
		t.Fatalf("taxonomy outcome %q", got)
	}
	if got := Outcome(errors.New("boom")); got != "error" {
		t.Fatalf("untagged outcome %q", got)
	}
}

func TestObserveCountsOperations(t *testing.T) {
	m := Settlement()
	before := testutil.ToFloat64(m.operations.WithLabelValues("exchange", "purchase", "ok"))
	m.Observe("exchange", "purchase", nil, time.Millisecond)
	after := testutil.ToFloat64(m.operations.WithLabelValues("exchange", "purchase", "ok"))
	if after-before != 1 {
		t.Fatalf("expected one observation, got %v", after-before)
	}
	var nilMetrics *SettlementMetrics
	nilMetrics.Observe("x", "y", nil, 0)
}
