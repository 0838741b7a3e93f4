package discordhttp

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder is the injection point for observability, in the
// teacher's Add/Observe shape: a counter bump and a histogram observation,
// each with a free-form tag map.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is the default recorder. It ensures the hot path
// never needs to check "if recorder != nil".
type NoOpMetricsRecorder struct{}

func (NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}

// Metric names recorded by the pipeline and Limiter. Kept as constants so
// dashboards built against one release keep working against the next.
const (
	metricAdmission  = "ratelimit.admission"
	metricRetry      = "ratelimit.retry"
	metric429        = "ratelimit.429"
	metricWaitSeconds = "ratelimit.wait_seconds"
	metricHTTPLatency = "http.latency_seconds"
)

// PrometheusRecorder adapts MetricsRecorder onto the client_golang metrics
// registered in prom, lazily creating a counter/histogram per metric name
// the first time it is observed under that name (bounded by the small,
// fixed set of metric* constants above, so this never grows unbounded).
type PrometheusRecorder struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusRecorder returns a MetricsRecorder backed by the given
// registerer (use prometheus.DefaultRegisterer to publish on the default
// /metrics handler).
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	return &PrometheusRecorder{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (r *PrometheusRecorder) Add(name string, value float64, tags map[string]string) {
	c := r.counterFor(name, tags)
	c.With(tags).Add(value)
}

func (r *PrometheusRecorder) Observe(name string, value float64, tags map[string]string) {
	h := r.histogramFor(name, tags)
	h.With(tags).Observe(value)
}

func (r *PrometheusRecorder) counterFor(name string, tags map[string]string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: promName(name),
		Help: "discordhttp counter: " + name,
	}, labelNames(tags))
	r.reg.MustRegister(c)
	r.counters[name] = c
	return c
}

func (r *PrometheusRecorder) histogramFor(name string, tags map[string]string) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: promName(name),
		Help: "discordhttp histogram: " + name,
	}, labelNames(tags))
	r.reg.MustRegister(h)
	r.histograms[name] = h
	return h
}

func promName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' || name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return "discordhttp_" + string(out)
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	return names
}

// timeSince returns the elapsed seconds, a small helper so call sites read
// as `r.Observe(metricHTTPLatency, timeSince(start), tags)`.
func timeSince(start time.Time) float64 {
	return time.Since(start).Seconds()
}
