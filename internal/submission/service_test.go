package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"tenxpipeline/internal/batch"
	"tenxpipeline/internal/experiment"
	"tenxpipeline/internal/ledger"
)

const testEvent = `{"configuration": {
	  "experiment": {
	    "sequencing_runs": [
	      {"id": 42, "himc_pool": 7, "date": "2021-03-05", "bcl_file": "s3://raw/run42.tar.gz"},
	      {"id": 43, "himc_pool": 7, "date": "2021-03-06", "bcl_file": "s3://raw/run43.tar.gz"}
	    ],
	    "bcl2fastq_version": "2.20.0",
	    "cellranger_version": "3.0.2"
	  },
	  "processing": {"mkfastq": {"samples": [{"id": 1, "name": "s1"}, {"id": 2, "name": "s2"}]}},
	  "analyses": {"samples": [
	    {"id": 1, "name": "s1", "job_type": "count", "job_name": "s1"},
	    {"id": 2, "name": "s2", "job_type": "count", "job_name": "s2"}
	  ]}
	}}`

func testConfiguration(t *testing.T) experiment.Configuration {
	t.Helper()
	ev, err := experiment.Decode(strings.NewReader(testEvent))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return ev.Configuration
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

const expName = "run42_himc7_030521-run43_himc7_030621"

func TestSubmitOrdersPhasesAndWiresDependencies(t *testing.T) {
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{JobDefinition: "pipe-mkfastq", JobQueue: "queue"}, WithLogger(quietLogger()))
	res, err := svc.Submit(context.Background(), testConfiguration(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	reqs := rec.Requests()
	if len(reqs) != 4 {
		t.Fatalf("expected 4 submissions, got %d", len(reqs))
	}
	for i, cmd := range []string{"mkfastq", "mkfastq", "analysis", "analysis"} {
		if reqs[i].Parameters["command"] != cmd {
			t.Fatalf("submission %d: expected %s, got %s", i, cmd, reqs[i].Parameters["command"])
		}
	}
	var first experiment.MkfastqJob
	if err := json.Unmarshal([]byte(reqs[0].Parameters["configuration"]), &first); err != nil {
		t.Fatalf("decode mkfastq configuration: %v", err)
	}
	if first.BCLFile != "s3://raw/run42.tar.gz" || first.RunID.String() != "42" || first.ExperimentName != expName || len(first.Samples) != 2 {
		t.Fatalf("unexpected mkfastq configuration %+v", first)
	}
	if reqs[0].JobName != "pipe-mkfastq-"+expName+"-mkfastq" || len(reqs[0].DependsOn) != 0 {
		t.Fatalf("unexpected mkfastq request %+v", reqs[0])
	}
	if reqs[2].JobName != "pipe-mkfastq-"+expName+"-count-s1" {
		t.Fatalf("unexpected analysis job name %s", reqs[2].JobName)
	}
	if got := reqs[3].DependsOn; len(got) != 2 || got[0] != "job-1" || got[1] != "job-2" {
		t.Fatalf("analysis must depend on every mkfastq job, got %v", got)
	}
	if reqs[0].JobQueue != "queue" || reqs[0].JobDefinition != "pipe-mkfastq" {
		t.Fatalf("unexpected queue target %+v", reqs[0])
	}
	if env := reqs[0].Environment; len(env) != 1 || env[0].Name != "DEBUG" || env[0].Value != "false" {
		t.Fatalf("unexpected environment %+v", env)
	}
	if res.ExperimentName != expName || len(res.Mkfastq) != 2 || len(res.Analyses) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmitDebugEnvironment(t *testing.T) {
	cfg := testConfiguration(t)
	cfg.Experiment.Meta = experiment.Meta{"debug": true}
	cfg.Analyses = nil
	rec := batch.NewRecorder()
	if _, err := NewService(rec, Options{}, WithLogger(quietLogger())).Submit(context.Background(), cfg); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, r := range rec.Requests() {
		if r.Environment[0].Value != "true" {
			t.Fatalf("expected DEBUG=true, got %+v", r.Environment)
		}
	}
}

func TestSubmitFailureHaltsPhase(t *testing.T) {
	cause := errors.New("queue unavailable")
	rec := batch.NewRecorder()
	calls := 0
	rec.FailOn = func(req batch.JobRequest) error {
		calls++
		if calls == 1 {
			return cause
		}
		return nil
	}
	var logs bytes.Buffer
	svc := NewService(rec, Options{JobDefinition: "d", JobQueue: "q"}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	res, err := svc.Submit(context.Background(), testConfiguration(t))
	if !errors.Is(err, ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if calls != 1 || len(rec.Requests()) != 0 {
		t.Fatalf("expected submission to halt after first failure: calls=%d", calls)
	}
	if len(res.Mkfastq) != 0 || len(res.Analyses) != 0 {
		t.Fatalf("unexpected partial result %+v", res)
	}
	if !strings.Contains(logs.String(), "queue unavailable") {
		t.Fatalf("expected cause to be logged, got %q", logs.String())
	}
}

func TestSubmitAnalysisFailureKeepsDemuxResult(t *testing.T) {
	rec := batch.NewRecorder()
	rec.FailOn = func(req batch.JobRequest) error {
		if req.Parameters["command"] == experiment.CommandAnalysis {
			return errors.New("rejected")
		}
		return nil
	}
	res, err := NewService(rec, Options{}, WithLogger(quietLogger())).Submit(context.Background(), testConfiguration(t))
	if !errors.Is(err, ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
	if len(res.Mkfastq) != 2 || len(res.Analyses) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmitSkipPolicy(t *testing.T) {
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{Analyses: AnalysisSkip}, WithLogger(quietLogger()))
	res, err := svc.Submit(context.Background(), testConfiguration(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(rec.Requests()) != 2 || len(res.Skipped) != 2 || res.Skipped[0] != "s1" {
		t.Fatalf("expected only mkfastq submissions, got %d requests, result %+v", len(rec.Requests()), res)
	}
}

func TestSubmitDisabledPhases(t *testing.T) {
	cfg := testConfiguration(t)
	cfg.Processing.Mkfastq = nil
	rec := batch.NewRecorder()
	res, err := NewService(rec, Options{}, WithLogger(quietLogger())).Submit(context.Background(), cfg)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	reqs := rec.Requests()
	if len(reqs) != 2 || len(reqs[0].DependsOn) != 0 || len(res.Mkfastq) != 0 {
		t.Fatalf("analysis without demux must have no dependencies: %+v", reqs)
	}
}

type captureMetrics struct{ ops []string }

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	status := "ok"
	if !success {
		status = "err"
	}
	c.ops = append(c.ops, op+"/"+status)
}

func TestSubmitRecordsLedgerAndMetrics(t *testing.T) {
	store := ledger.NewMemory()
	m := &captureMetrics{}
	fixed := time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)
	svc := NewService(batch.NewRecorder(), Options{JobQueue: "q"},
		WithLogger(quietLogger()), WithLedger(store), WithMetricsRecorder(m), WithClock(func() time.Time { return fixed }))
	if _, err := svc.Submit(context.Background(), testConfiguration(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	entries, err := store.List(context.Background(), expName)
	if err != nil || len(entries) != 4 {
		t.Fatalf("expected 4 ledger entries: %v %d", err, len(entries))
	}
	if entries[2].Command != "analysis" || len(entries[2].DependsOn) != 2 || !entries[2].SubmittedAt.Equal(fixed) {
		t.Fatalf("unexpected ledger entry %+v", entries[2])
	}
	if len(m.ops) != 4 || m.ops[0] != "submit:mkfastq/ok" || m.ops[3] != "submit:analysis/ok" {
		t.Fatalf("unexpected metrics %v", m.ops)
	}
}

func TestHandle(t *testing.T) {
	svc := NewService(batch.NewRecorder(), Options{}, WithLogger(quietLogger()))
	resp, err := svc.Handle(context.Background(), json.RawMessage(testEvent))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.StatusCode != 200 || resp.Body == nil || len(resp.Body) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := svc.Handle(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, experiment.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestHandleKeepsLargeIntegers(t *testing.T) {
	raw := strings.Replace(testEvent, `{"id": 1, "name": "s1", "job_type"`, `{"id": 9007199254740993, "name": "s1", "job_type"`, 1)
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{}, WithLogger(quietLogger()))
	if _, err := svc.Handle(context.Background(), json.RawMessage(raw)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	conf := rec.Requests()[2].Parameters["configuration"]
	if !strings.Contains(conf, "9007199254740993") {
		t.Fatalf("sample id lost precision: %s", conf)
	}
}

func TestHandleEmptyRuns(t *testing.T) {
	raw := `{"configuration": {
	  "experiment": {"sequencing_runs": [], "bcl2fastq_version": "2.20.0", "cellranger_version": "3.0.2"},
	  "processing": {"mkfastq": {"samples": [{"id": 1, "name": "s1"}]}}
	}}`
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{}, WithLogger(quietLogger()))
	resp, err := svc.Handle(context.Background(), json.RawMessage(raw))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("expected success for empty runs: %+v %v", resp, err)
	}
	if n := len(rec.Requests()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
}

func untaggedAnalysis(t *testing.T) experiment.Configuration {
	t.Helper()
	cfg := testConfiguration(t)
	cfg.Analyses.Samples = []experiment.Sample{{"name": "s1"}}
	return cfg
}

func TestSubmitSkipPolicyAcceptsUntaggedSamples(t *testing.T) {
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{Analyses: AnalysisSkip}, WithLogger(quietLogger()))
	res, err := svc.Submit(context.Background(), untaggedAnalysis(t))
	if err != nil {
		t.Fatalf("skip policy must not require job_type/job_name: %v", err)
	}
	if len(rec.Requests()) != 2 || len(res.Skipped) != 1 || res.Skipped[0] != "s1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmitRejectsUntaggedSamplesBeforeMkfastq(t *testing.T) {
	rec := batch.NewRecorder()
	svc := NewService(rec, Options{}, WithLogger(quietLogger()))
	if _, err := svc.Submit(context.Background(), untaggedAnalysis(t)); !errors.Is(err, experiment.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if n := len(rec.Requests()); n != 0 {
		t.Fatalf("nothing may be submitted before validation, got %d", n)
	}
}

func TestSubmitWarnsAboutAnalysisDependencies(t *testing.T) {
	var logs bytes.Buffer
	svc := NewService(batch.NewRecorder(), Options{}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if _, err := svc.Submit(context.Background(), testConfiguration(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	out := logs.String()
	if strings.Count(out, "depends on all mkfastq jobs") != 1 || !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected a single dependency warning, got:\n%s", out)
	}
}

func TestSubmitThroughBatchClient(t *testing.T) {
	client, queue := batch.NewMockForTests()
	svc := NewService(client, Options{JobDefinition: "pipe-mkfastq", JobQueue: "queue"}, WithLogger(quietLogger()))
	if _, err := svc.Submit(context.Background(), testConfiguration(t)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := queue.Submitted()
	if len(got) != 4 || got[2].DependsOn[0] != "mock-job-1" || got[2].DependsOn[1] != "mock-job-2" {
		t.Fatalf("unexpected queue contents %+v", got)
	}
}

func TestParseAnalysisPolicy(t *testing.T) {
	if p, err := ParseAnalysisPolicy(""); err != nil || p != AnalysisSubmit {
		t.Fatalf("default policy: %v %v", p, err)
	}
	if p, err := ParseAnalysisPolicy("skip"); err != nil || p != AnalysisSkip {
		t.Fatalf("skip policy: %v %v", p, err)
	}
	if _, err := ParseAnalysisPolicy("later"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
