package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UploadMetrics tracks upload pipeline outcomes.
type UploadMetrics struct {
	accepted  prometheus.Counter
	rejected  *prometheus.CounterVec
	sizeBytes prometheus.Histogram
}

// NewUploadMetrics registers the upload metrics with reg. Pass
// prometheus.DefaultRegisterer in production.
func NewUploadMetrics(reg prometheus.Registerer) (*UploadMetrics, error) {
	m := &UploadMetrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uploadgate_uploads_accepted_total",
			Help: "Uploads accepted and persisted.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadgate_uploads_rejected_total",
			Help: "Uploads rejected, by failure kind.",
		}, []string{"kind"}),
		sizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uploadgate_upload_size_bytes",
			Help:    "Size of accepted uploads.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.accepted, m.rejected, m.sizeBytes} {
		if err := reg.Register(c); err != nil {
			// Re-registration is fine; it happens in tests.
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

// Accepted records a successful upload of size bytes.
func (m *UploadMetrics) Accepted(size int64) {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.sizeBytes.Observe(float64(size))
}

// Rejected records a rejected upload by failure kind.
func (m *UploadMetrics) Rejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

// StartMetricsServer serves /metrics and /health on a side port.
func StartMetricsServer(addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("starting metrics server", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
