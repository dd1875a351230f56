package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.registry == nil {
		t.Error("registry should not be nil")
	}
}

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.RecordOutcome("confirmed")

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tasks_outcomes_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected tasks_outcomes_total with default namespace")
	}
}

func TestCollector_StageMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordStage("submit", 10*time.Millisecond, nil)
	c.RecordStage("submit", 5*time.Millisecond, errors.New("rejected"))
	c.RecordStage("submit", 7*time.Millisecond, nil)

	if got := testutil.ToFloat64(c.stageTotal.WithLabelValues("submit", "success")); got != 2 {
		t.Errorf("submit success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.stageTotal.WithLabelValues("submit", "error")); got != 1 {
		t.Errorf("submit error = %v, want 1", got)
	}
}

func TestCollector_PollAndInFlight(t *testing.T) {
	c := NewCollector("test")

	c.RecordPollTick("record_created")
	c.RecordPollTick("record_created")
	c.RecordPollTick("confirmed")
	c.RecordInFlight(1)
	c.RecordInFlight(1)
	c.RecordInFlight(-1)
	c.RecordStoreSize(4)

	if got := testutil.ToFloat64(c.pollTicks.WithLabelValues("record_created")); got != 2 {
		t.Errorf("record_created ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.inFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.storeSize); got != 4 {
		t.Errorf("store size = %v, want 4", got)
	}

	c.Reset()
	if got := testutil.ToFloat64(c.inFlight); got != 0 {
		t.Errorf("in flight after reset = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.RecordOutcome("decrypted")
	c.UpdateUptime()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `test_outcomes_total{outcome="decrypted"} 1`) {
		t.Errorf("metrics output missing outcome counter:\n%s", body)
	}
}

func TestNoOpCollector(t *testing.T) {
	var r Recorder = NewNoOpCollector()

	// Should not panic
	r.RecordStage("poll", time.Second, nil)
	r.RecordPollTick("unknown")
	r.RecordOutcome("timeout")
	r.RecordInFlight(1)
	r.RecordStoreSize(0)
}

func TestRecordHTTPRequest(t *testing.T) {
	c := NewCollector("test")
	c.RecordHTTPRequest("GET", "/tasks/{id}", "200", 5*time.Millisecond)
	c.RecordHTTPRequest("GET", "/tasks/{id}", "200", 5*time.Millisecond)
	c.IncrementHTTPInFlight()
	c.IncrementHTTPInFlight()
	c.DecrementHTTPInFlight()

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/tasks/{id}", "200")); got != 2 {
		t.Errorf("http requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.httpInFlight); got != 1 {
		t.Errorf("http in flight = %v, want 1", got)
	}
}
