// Package metrics exposes submission and pipeline step metrics through a
// Prometheus registry. The commands are short lived, so metrics are pushed
// to a Pushgateway on exit when one is configured.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "tenx"

// Recorder is the Prometheus-backed metrics recorder. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	submitTime  *prometheus.HistogramVec
	steps       *prometheus.HistogramVec
}

// New builds a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "submissions_total",
			Help:      "Batch job submissions by command and outcome.",
		}, []string{"command", "outcome"}),
		submitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "submission_duration_seconds",
			Help:      "Latency of batch job submission calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps (transfers and tool runs).",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"step", "outcome"}),
	}
	r.registry.MustRegister(r.submissions, r.submitTime, r.steps)
	return r
}

// Observe records one operation outcome. Operations are "submit:<command>"
// for submissions and anything else for pipeline steps.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if r == nil || operation == "" {
		return
	}
	outcome := "error"
	if success {
		outcome = "success"
	}
	if command, ok := submitCommand(operation); ok {
		r.submissions.WithLabelValues(command, outcome).Inc()
		r.submitTime.WithLabelValues(command).Observe(duration.Seconds())
		return
	}
	r.steps.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// SubmitOperation names the operation observed for a submission command.
func SubmitOperation(command string) string { return submitPrefix + command }

const submitPrefix = "submit:"

func submitCommand(op string) (string, bool) {
	if len(op) > len(submitPrefix) && op[:len(submitPrefix)] == submitPrefix {
		return op[len(submitPrefix):], true
	}
	return "", false
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Submissions returns the submission counter, mainly for assertions.
func (r *Recorder) Submissions() *prometheus.CounterVec { return r.submissions }

// Push sends the registry to a Pushgateway. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}
