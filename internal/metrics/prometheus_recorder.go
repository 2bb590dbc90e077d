package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "rpmsnap"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	textfile       string
	actionDuration *prom.HistogramVec
	packageResults *prom.CounterVec
	releaseCases   *prom.CounterVec
	lastSuccess    *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers the metrics. textfile is
// where Flush writes them; empty disables writing.
func NewPrometheusRecorder(reg *prom.Registry, textfile string) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg:      reg,
		textfile: textfile,
		actionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of per-package actions",
			Buckets:   prom.DefBuckets,
		}, []string{"action", "result"}),
		packageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "package_results_total",
			Help:      "Package action results by outcome",
		}, []string{"package", "action", "result"}),
		releaseCases: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "release_cases_total",
			Help:      "Release decisions by case",
		}, []string{"case"}),
		lastSuccess: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per package",
		}, []string{"package"}),
	}
	reg.MustRegister(pr.actionDuration, pr.packageResults, pr.releaseCases, pr.lastSuccess)
	return pr
}

// Registry returns the registry the metrics are registered with
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.reg
}

func (p *PrometheusRecorder) ObserveAction(action string, d time.Duration, result ResultLabel) {
	if p == nil {
		return
	}
	p.actionDuration.WithLabelValues(action, string(result)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPackageResult(pkg, action string, result ResultLabel) {
	if p == nil {
		return
	}
	p.packageResults.WithLabelValues(pkg, action, string(result)).Inc()
}

func (p *PrometheusRecorder) IncReleaseCase(c string) {
	if p == nil {
		return
	}
	p.releaseCases.WithLabelValues(c).Inc()
}

func (p *PrometheusRecorder) SetLastSuccess(pkg string, t time.Time) {
	if p == nil {
		return
	}
	p.lastSuccess.WithLabelValues(pkg).Set(float64(t.Unix()))
}

// Flush writes all metrics to the textfile in the Prometheus text format
func (p *PrometheusRecorder) Flush() error {
	if p == nil || p.textfile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.textfile), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prom.WriteToTextfile(p.textfile, p.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
