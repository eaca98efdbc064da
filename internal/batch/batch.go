// Package batch submits jobs to the managed batch queue. The queue owns
// scheduling, retries and placement; this package only builds and sends the
// submission request.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// KeyValue is a container environment override.
type KeyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// JobRequest is one submission. It is built fresh per call and never stored
// by this package.
type JobRequest struct {
	JobDefinition string            `json:"job_definition"`
	JobName       string            `json:"job_name"`
	JobQueue      string            `json:"job_queue"`
	Environment   []KeyValue        `json:"environment,omitempty"`
	DependsOn     []string          `json:"depends_on,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// Submitter sends a job to the queue and returns its job identifier.
type Submitter interface {
	Submit(ctx context.Context, req JobRequest) (string, error)
}

const maxJobNameLen = 128

// JobName joins parts with '-' and rewrites the result into a valid queue
// job name: letters, digits, '-' and '_' only, at most 128 characters.
func JobName(parts ...string) string {
	joined := strings.Join(parts, "-")
	var b strings.Builder
	b.Grow(len(joined))
	for _, r := range joined {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > maxJobNameLen {
		name = name[:maxJobNameLen]
	}
	return name
}

// Recorder is an in-memory Submitter for tests and local runs. It hands out
// sequential identifiers and keeps every accepted request.
type Recorder struct {
	mu       sync.Mutex
	requests []JobRequest
	// FailOn, when set, is consulted before a request is accepted.
	FailOn func(req JobRequest) error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Submit records the request.
func (r *Recorder) Submit(_ context.Context, req JobRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailOn != nil {
		if err := r.FailOn(req); err != nil {
			return "", err
		}
	}
	r.requests = append(r.requests, cloneRequest(req))
	return fmt.Sprintf("job-%d", len(r.requests)), nil
}

// Requests returns a copy of the accepted requests in submission order.
func (r *Recorder) Requests() []JobRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobRequest, len(r.requests))
	for i, req := range r.requests {
		out[i] = cloneRequest(req)
	}
	return out
}

// DryRun logs requests instead of sending them.
type DryRun struct {
	Logger *slog.Logger
	mu     sync.Mutex
	n      int
}

// Submit logs the request and returns a synthetic identifier.
func (d *DryRun) Submit(ctx context.Context, req JobRequest) (string, error) {
	if req.JobName == "" {
		return "", errors.New("dry run: job name required")
	}
	d.mu.Lock()
	d.n++
	id := fmt.Sprintf("dryrun-%d", d.n)
	d.mu.Unlock()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "dry run: not submitting",
		"job_id", id,
		"job_name", req.JobName,
		"job_queue", req.JobQueue,
		"job_definition", req.JobDefinition,
		"depends_on", req.DependsOn)
	return id, nil
}

func cloneRequest(req JobRequest) JobRequest {
	out := req
	out.Environment = append([]KeyValue(nil), req.Environment...)
	out.DependsOn = append([]string(nil), req.DependsOn...)
	if req.Parameters != nil {
		out.Parameters = make(map[string]string, len(req.Parameters))
		for k, v := range req.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
