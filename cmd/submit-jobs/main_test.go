package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tenxpipeline/internal/batch"
	"tenxpipeline/internal/config"
	"tenxpipeline/internal/submission"
)

const configYAML = `configuration:
  experiment:
    sequencing_runs:
      - {id: 42, himc_pool: 7, date: "2021-03-05", bcl_file: "s3://raw/run42.tar.gz"}
    bcl2fastq_version: "2.20.0"
    cellranger_version: "3.0.2"
  processing:
    mkfastq:
      samples: [{id: 1, name: s1, index: SI-P03-C9}]
  analyses:
    samples: [{id: 1, name: s1, job_type: count, job_name: s1}]
`

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TENX_LEDGER_DRIVER", "TENX_LEDGER_DSN", "TENX_PUSHGATEWAY_URL", "DEBUG", "TENX_JOB_QUEUE", "TENX_PIPELINE_NAME", "TENX_JOB_DEFINITION"} {
		t.Setenv(k, "")
	}
}

func useMockBatch(t *testing.T) *batch.MockQueue {
	t.Helper()
	client, queue := batch.NewMockForTests()
	old := newBatch
	newBatch = func(context.Context, config.Config, *slog.Logger) (batch.Submitter, error) { return client, nil }
	t.Cleanup(func() { newBatch = old })
	return queue
}

func TestSubmitFromStdin(t *testing.T) {
	isolateEnv(t)
	queue := useMockBatch(t)
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-queue", "q1"}, strings.NewReader(configYAML), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	got := queue.Submitted()
	if len(got) != 2 || got[0].JobQueue != "q1" || got[0].JobDefinition != "test-cellranger-pipeline-mkfastq" {
		t.Fatalf("unexpected submissions %+v", got)
	}
	if got[1].DependsOn[0] != "mock-job-1" {
		t.Fatalf("analysis must depend on mkfastq job, got %+v", got[1].DependsOn)
	}
	var res submission.Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if res.ExperimentName != "run42_himc7_030521" || len(res.Mkfastq) != 1 || len(res.Analyses) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(stderr.String(), "all jobs submitted successfully") {
		t.Fatalf("expected success log, got %s", stderr.String())
	}
}

func TestSubmitRejected(t *testing.T) {
	isolateEnv(t)
	queue := useMockBatch(t)
	queue.Reject["test-cellranger-pipeline-mkfastq-run42_himc7_030521-mkfastq"] = true
	var stdout, stderr bytes.Buffer
	if code := cli(nil, strings.NewReader(configYAML), &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), submission.ErrSubmission.Error()) {
		t.Fatalf("expected generic submission error, got %s", stderr.String())
	}
	if len(queue.Submitted()) != 0 {
		t.Fatalf("no job should be accepted")
	}
}

func TestDryRunRecordsLedgerAndLists(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TENX_LEDGER_DRIVER", "sqlite")
	t.Setenv("TENX_LEDGER_DSN", filepath.Join(t.TempDir(), "ledger.db"))
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-dry-run", "-config", cfgPath}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("dry run exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "dry run: not submitting") {
		t.Fatalf("expected dry run log, got %s", stderr.String())
	}
	stdout.Reset()
	if code := cli([]string{"-list", "run42_himc7_030521"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("list exit %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "dryrun-1") || !strings.Contains(lines[2], "dryrun-1") {
		t.Fatalf("unexpected listing:\n%s", stdout.String())
	}
}

func TestSkipAnalyses(t *testing.T) {
	isolateEnv(t)
	queue := useMockBatch(t)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-analyses", "skip"}, strings.NewReader(configYAML), &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if len(queue.Submitted()) != 1 {
		t.Fatalf("expected only the mkfastq job")
	}
}

func TestLambdaMode(t *testing.T) {
	isolateEnv(t)
	queue := useMockBatch(t)
	var handler any
	old := lambdaStart
	lambdaStart = func(h any) { handler = h }
	defer func() { lambdaStart = old }()
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-lambda"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	handle, ok := handler.(func(context.Context, json.RawMessage) (submission.Response, error))
	if !ok {
		t.Fatalf("unexpected handler type %T", handler)
	}
	event := json.RawMessage(`{"configuration": {
	  "experiment": {
	    "sequencing_runs": [{"id": 42, "himc_pool": 7, "date": "2021-03-05", "bcl_file": "s3://raw/run42.tar.gz"}],
	    "bcl2fastq_version": "2.20.0",
	    "cellranger_version": "3.0.2"
	  },
	  "processing": {"mkfastq": {"samples": [{"id": 9007199254740993, "name": "s1"}]}},
	  "analyses": {"samples": [{"id": 9007199254740993, "name": "s1", "job_type": "count", "job_name": "s1"}]}
	}}`)
	resp, err := handle(context.Background(), event)
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("handle: %+v %v", resp, err)
	}
	got := queue.Submitted()
	if len(got) != 2 {
		t.Fatalf("expected two submissions")
	}
	for _, req := range got {
		if !strings.Contains(req.Parameters["configuration"], "9007199254740993") {
			t.Fatalf("sample id lost precision: %s", req.Parameters["configuration"])
		}
	}
}

func TestUsageErrors(t *testing.T) {
	isolateEnv(t)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-nope"}, nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected 2 for unknown flag, got %d", code)
	}
	if code := cli([]string{"-analyses", "later"}, nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected 2 for bad policy, got %d", code)
	}
	if code := cli([]string{"-dry-run"}, strings.NewReader("{\"configuration\": {}}"), &stdout, &stderr); code != 1 {
		t.Fatalf("expected 1 for invalid configuration, got %d", code)
	}
	if code := cli([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected 1 for missing file, got %d", code)
	}
	t.Setenv("TENX_LEDGER_DRIVER", "tape")
	if code := cli([]string{"-dry-run"}, nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected 1 for bad ledger driver, got %d", code)
	}
	t.Setenv("DEBUG", "maybe")
	if code := cli(nil, nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected 2 for bad environment, got %d", code)
	}
}

func TestMainExitCode(t *testing.T) {
	isolateEnv(t)
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"submit-jobs", "-bogus"}
	main()
	if len(codes) != 1 || codes[0] != 2 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}
