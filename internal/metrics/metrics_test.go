package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrame(t *testing.T) {
	RecordFrame("test-frame", "out", "Response")
	RecordFrame("test-frame", "out", "Response")

	if got := testutil.ToFloat64(framesTotal.WithLabelValues("test-frame", "out", "Response")); got != 2 {
		t.Errorf("got %v, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	SetPendingRequests("test-gauge", 3)

	if got := testutil.ToFloat64(pendingRequests.WithLabelValues("test-gauge")); got != 3 {
		t.Errorf("pending: got %v, want 3", got)
	}

	SetFederates("fed", 2)
	DeleteFederation("fed")

	if n := testutil.CollectAndCount(federates); n != 0 {
		t.Errorf("federation series survived delete: %d", n)
	}
}

func TestRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	Register(reg)
	Register(reg)

	RecordDropped("test-register", "malformed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if len(families) == 0 {
		t.Error("no metric families registered")
	}
}
