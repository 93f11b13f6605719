package observability

import (
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the counters paperctl maintains while validating and
// producing artifacts. It is only served over HTTP in watch mode, but every
// command records into it so watch and one-shot runs share code paths.
type Recorder struct {
	once        sync.Once
	validations *prom.CounterVec
	downloads   *prom.CounterVec
	compiles    *prom.CounterVec
	hashedBytes prom.Counter
}

// NewRecorder constructs and registers the paperctl metrics (idempotent).
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{}
	r.once.Do(func() {
		r.validations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "paperctl",
			Name:      "cache_validations_total",
			Help:      "Cache validation verdicts by result kind",
		}, []string{"result"})
		r.downloads = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "paperctl",
			Name:      "downloads_total",
			Help:      "Artifact and plugin downloads by outcome",
		}, []string{"result"})
		r.compiles = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "paperctl",
			Name:      "compiles_total",
			Help:      "Development jar compilations by outcome",
		}, []string{"result"})
		r.hashedBytes = prom.NewCounter(prom.CounterOpts{
			Namespace: "paperctl",
			Name:      "hashed_bytes_total",
			Help:      "Bytes fed through the content hasher",
		})
		reg.MustRegister(r.validations, r.downloads, r.compiles, r.hashedBytes)
	})
	return r
}

// ObserveValidation records one validation verdict. Result is "valid" or an
// invalidation kind such as "revision_mismatch".
func (r *Recorder) ObserveValidation(result string) {
	r.validations.WithLabelValues(result).Inc()
}

// ObserveDownload records one download outcome ("ok" or "error").
func (r *Recorder) ObserveDownload(result string) {
	r.downloads.WithLabelValues(result).Inc()
}

// ObserveCompile records one compilation outcome ("ok" or "error").
func (r *Recorder) ObserveCompile(result string) {
	r.compiles.WithLabelValues(result).Inc()
}

// AddHashedBytes accumulates hashing volume.
func (r *Recorder) AddHashedBytes(n int64) {
	r.hashedBytes.Add(float64(n))
}

// HTTPHandler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
