package discordhttp

import (
	"context"
	"testing"
)

// mockRecorder captures metrics in memory, in the same shape as the
// teacher's own MockRecorder.
type mockRecorder struct {
	counters map[string]float64
	timings  map[string][]float64
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{counters: map[string]float64{}, timings: map[string][]float64{}}
}

func (m *mockRecorder) Add(name string, value float64, tags map[string]string) {
	m.counters[name] += value
}

func (m *mockRecorder) Observe(name string, value float64, tags map[string]string) {
	m.timings[name] = append(m.timings[name], value)
}

func TestLimiter_RecordsAdmissionMetrics(t *testing.T) {
	rec := newMockRecorder()
	l := newLimiter(10, rec, nil)
	defer l.stop()

	req := NewRequest(KeyFor("GET", "/gateway", nil), "GET", "x")
	_, pass, err := l.admit(context.Background(), req, 0)
	if err != nil || !pass {
		t.Fatalf("admit failed: pass=%v err=%v", pass, err)
	}
	if rec.counters[metricAdmission] != 1 {
		t.Fatalf("expected one admission metric, got %v", rec.counters[metricAdmission])
	}
}

func TestNoOpMetricsRecorder_DoesNothing(t *testing.T) {
	var rec NoOpMetricsRecorder
	rec.Add("x", 1, nil)
	rec.Observe("y", 1, nil)
}
