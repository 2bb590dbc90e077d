package metrics

import (
	"net/http"

	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns an http.Handler that serves the metrics of the
// recorder's registry, or nil if the recorder does not export any.
func HTTPHandler(r Recorder) http.Handler {
	pr, ok := r.(*PrometheusRecorder)
	if !ok {
		return nil
	}
	return promhttp.HandlerFor(pr.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true})
}
