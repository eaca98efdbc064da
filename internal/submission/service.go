// Package submission turns an experiment configuration into batch jobs:
// one demultiplexing job per sequencing run, then one analysis job per
// sample that depends on every demultiplexing job.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tenxpipeline/internal/batch"
	"tenxpipeline/internal/experiment"
	"tenxpipeline/internal/ledger"
	"tenxpipeline/internal/metrics"
)

// ErrSubmission is the single error surfaced when the queue rejects a job.
// The underlying cause is logged and wrapped.
var ErrSubmission = errors.New("error submitting batch job")

// AnalysisPolicy controls the second submission phase.
type AnalysisPolicy string

const (
	// AnalysisSubmit submits analysis jobs depending on all mkfastq jobs.
	AnalysisSubmit AnalysisPolicy = "submit"
	// AnalysisSkip logs the analysis samples without submitting them.
	AnalysisSkip AnalysisPolicy = "skip"
)

// ParseAnalysisPolicy validates a policy name; empty means AnalysisSubmit.
func ParseAnalysisPolicy(s string) (AnalysisPolicy, error) {
	switch AnalysisPolicy(s) {
	case "", AnalysisSubmit:
		return AnalysisSubmit, nil
	case AnalysisSkip:
		return AnalysisSkip, nil
	}
	return "", fmt.Errorf("unknown analysis policy %q", s)
}

// MetricsRecorder observes submission outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Options names the queue targets.
type Options struct {
	JobDefinition string
	JobQueue      string
	Analyses      AnalysisPolicy
}

// Service submits experiments through an injected batch.Submitter.
type Service struct {
	submitter batch.Submitter
	opts      Options
	ledger    ledger.Store
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithLedger records every accepted submission.
func WithLedger(l ledger.Store) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithMetricsRecorder reports submission outcomes.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for ledger timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service around submitter.
func NewService(submitter batch.Submitter, opts Options, options ...ServiceOption) *Service {
	if opts.Analyses == "" {
		opts.Analyses = AnalysisSubmit
	}
	s := &Service{
		submitter: submitter,
		opts:      opts,
		ledger:    ledger.Nop{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// SubmittedJob is one accepted job.
type SubmittedJob struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	Command string `json:"command"`
}

// Result lists the jobs accepted for one configuration.
type Result struct {
	ExperimentName string         `json:"experiment_name"`
	Mkfastq        []SubmittedJob `json:"mkfastq,omitempty"`
	Analyses       []SubmittedJob `json:"analyses,omitempty"`
	// Skipped holds analysis sample names not submitted under AnalysisSkip.
	Skipped []string `json:"skipped,omitempty"`
}

// DependencyIDs returns the mkfastq job ids analysis jobs depend on.
func (r Result) DependencyIDs() []string {
	ids := make([]string, 0, len(r.Mkfastq))
	for _, j := range r.Mkfastq {
		ids = append(ids, j.JobID)
	}
	return ids
}

// Response is the status record returned to the caller.
type Response struct {
	StatusCode int            `json:"statusCode"`
	Body       map[string]any `json:"body"`
}

// Handle decodes a raw event the same way the command line does, so large
// integer identifiers survive, then submits its configuration.
func (s *Service) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	ev, err := experiment.Decode(bytes.NewReader(raw))
	if err != nil {
		return Response{}, err
	}
	if _, err := s.Submit(ctx, ev.Configuration); err != nil {
		return Response{}, err
	}
	s.logger.InfoContext(ctx, "all jobs submitted successfully")
	return Response{StatusCode: 200, Body: map[string]any{}}, nil
}

// Submit runs both phases in order. Processing stops at the first rejected
// submission; the partial Result is returned with the error. Analysis
// samples are checked before anything is submitted when they will be sent.
func (s *Service) Submit(ctx context.Context, cfg experiment.Configuration) (Result, error) {
	exp := cfg.Experiment
	name, err := exp.Name()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", experiment.ErrInvalidConfiguration, err)
	}
	if s.opts.Analyses == AnalysisSubmit {
		if err := cfg.ValidateAnalyses(); err != nil {
			return Result{}, err
		}
	}
	res := Result{ExperimentName: name}

	if cfg.MkfastqEnabled() {
		samples := cfg.Processing.Mkfastq.Samples
		for _, run := range exp.SequencingRuns {
			s.logger.InfoContext(ctx, "processing: mkfastq: submitting", "bcl_file", run.BCLFile)
			job, err := s.submitMkfastq(ctx, exp, name, run, samples)
			if err != nil {
				return res, err
			}
			res.Mkfastq = append(res.Mkfastq, job)
			s.logger.InfoContext(ctx, "processing: mkfastq: submitted", "bcl_file", run.BCLFile, "job_id", job.JobID)
		}
	}

	if cfg.AnalysesEnabled() {
		deps := res.DependencyIDs()
		if s.opts.Analyses == AnalysisSubmit && len(deps) > 0 && len(cfg.Analyses.Samples) > 0 {
			s.logger.WarnContext(ctx, "analyses: every job depends on all mkfastq jobs of this request",
				"depends_on", deps, "samples", len(cfg.Analyses.Samples))
		}
		for _, sample := range cfg.Analyses.Samples {
			if s.opts.Analyses == AnalysisSkip {
				s.logger.WarnContext(ctx, "analyses: skipped", "sample", sample.Name())
				res.Skipped = append(res.Skipped, sample.Name())
				continue
			}
			s.logger.InfoContext(ctx, "analyses: submitting", "sample", sample.Name())
			job, err := s.submitAnalysis(ctx, exp, name, sample, deps)
			if err != nil {
				return res, err
			}
			res.Analyses = append(res.Analyses, job)
			s.logger.InfoContext(ctx, "analyses: submitted", "sample", sample.Name(), "job_id", job.JobID)
		}
	}
	return res, nil
}

func (s *Service) submitMkfastq(ctx context.Context, exp experiment.Experiment, name string, run experiment.SequencingRun, samples []experiment.Sample) (SubmittedJob, error) {
	conf, err := experiment.Encode(experiment.MkfastqJob{
		BCLFile:        run.BCLFile,
		ExperimentName: name,
		RunID:          run.ID,
		Samples:        samples,
	})
	if err != nil {
		return SubmittedJob{}, err
	}
	req := s.request(exp, experiment.CommandMkfastq, conf, nil,
		batch.JobName(s.opts.JobDefinition, name, experiment.CommandMkfastq))
	return s.submit(ctx, name, req)
}

func (s *Service) submitAnalysis(ctx context.Context, exp experiment.Experiment, name string, sample experiment.Sample, deps []string) (SubmittedJob, error) {
	conf, err := experiment.Encode(experiment.NewAnalysisJob(name, exp, sample))
	if err != nil {
		return SubmittedJob{}, err
	}
	req := s.request(exp, experiment.CommandAnalysis, conf, deps,
		batch.JobName(s.opts.JobDefinition, name, sample.JobType(), sample.JobName()))
	return s.submit(ctx, name, req)
}

func (s *Service) request(exp experiment.Experiment, command, conf string, deps []string, jobName string) batch.JobRequest {
	return batch.JobRequest{
		JobDefinition: s.opts.JobDefinition,
		JobName:       jobName,
		JobQueue:      s.opts.JobQueue,
		Environment:   []batch.KeyValue{{Name: "DEBUG", Value: strconv.FormatBool(exp.Debug())}},
		DependsOn:     append([]string(nil), deps...),
		Parameters: map[string]string{
			"command":       command,
			"configuration": conf,
		},
	}
}

func (s *Service) submit(ctx context.Context, experimentName string, req batch.JobRequest) (SubmittedJob, error) {
	command := req.Parameters["command"]
	start := s.now()
	id, err := s.submitter.Submit(ctx, req)
	if s.metrics != nil {
		s.metrics.Observe(ctx, metrics.SubmitOperation(command), err == nil, s.now().Sub(start))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "batch submission failed", "job_name", req.JobName, "command", command, "error", err)
		return SubmittedJob{}, fmt.Errorf("%w %s: %w", ErrSubmission, req.JobName, err)
	}
	job := SubmittedJob{JobID: id, JobName: req.JobName, Command: command}
	entry := ledger.Entry{
		JobID:          id,
		JobName:        req.JobName,
		Command:        command,
		ExperimentName: experimentName,
		JobQueue:       req.JobQueue,
		DependsOn:      req.DependsOn,
		SubmittedAt:    s.now().UTC(),
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "ledger: record failed", "job_id", id, "error", err)
	}
	return job, nil
}
