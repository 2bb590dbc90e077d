// Package metrics records per-package run metrics. The Prometheus recorder
// writes them to a node-exporter textfile after each batch.
package metrics

import "time"

// ResultLabel enumerates run outcomes for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Result maps an error to its label
func Result(err error) ResultLabel {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}

// Recorder defines observability hooks for package runs. All methods must be
// safe to call when metrics are not configured (NoopRecorder).
type Recorder interface {
	ObserveAction(action string, d time.Duration, result ResultLabel)
	IncPackageResult(pkg, action string, result ResultLabel)
	IncReleaseCase(c string)
	SetLastSuccess(pkg string, t time.Time)
	// Flush persists the collected metrics, if the recorder has a sink
	Flush() error
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveAction(string, time.Duration, ResultLabel) {}
func (NoopRecorder) IncPackageResult(string, string, ResultLabel)    {}
func (NoopRecorder) IncReleaseCase(string)                           {}
func (NoopRecorder) SetLastSuccess(string, time.Time)                {}
func (NoopRecorder) Flush() error                                    { return nil }
