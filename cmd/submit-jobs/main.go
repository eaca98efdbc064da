// Command submit-jobs reads an experiment configuration and submits its
// demultiplexing and analysis jobs to the batch queue. With -lambda it
// serves the same handler from the AWS Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"tenxpipeline/internal/batch"
	"tenxpipeline/internal/config"
	"tenxpipeline/internal/experiment"
	"tenxpipeline/internal/ledger"
	"tenxpipeline/internal/metrics"
	"tenxpipeline/internal/submission"
)

var (
	exitFunc    = os.Exit
	lambdaStart = func(handler any) { lambda.Start(handler) }
	newBatch    = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (batch.Submitter, error) {
		return batch.New(ctx, batch.Config{Region: cfg.Region, Endpoint: cfg.BatchEndpoint, Logger: logger})
	}
)

func main() {
	code := cli(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 2
	}
	fs := flag.NewFlagSet("submit-jobs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		dryRun     bool
		analyses   string
		lambdaMode bool
		list       string
	)
	fs.StringVar(&configPath, "config", "-", "job configuration file (JSON or YAML), - for stdin")
	fs.BoolVar(&dryRun, "dry-run", false, "log job requests instead of submitting them")
	fs.StringVar(&analyses, "analyses", string(submission.AnalysisSubmit), "analysis phase: submit|skip")
	fs.BoolVar(&lambdaMode, "lambda", false, "serve events from the Lambda runtime")
	fs.StringVar(&list, "list", "", "print recorded submissions for an experiment and exit")
	fs.StringVar(&cfg.JobQueue, "queue", cfg.JobQueue, "batch job queue")
	fs.StringVar(&cfg.JobDefinition, "job-definition", cfg.JobDefinition, "batch job definition")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	policy, err := submission.ParseAnalysisPolicy(analyses)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	ctx := context.Background()

	store, err := ledger.OpenDriver(ctx, ledger.Driver(cfg.LedgerDriver), cfg.LedgerDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledger: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if list != "" {
		return printLedger(ctx, store, list, stdout, stderr)
	}

	var submitter batch.Submitter = &batch.DryRun{Logger: logger}
	if !dryRun {
		if submitter, err = newBatch(ctx, cfg, logger); err != nil {
			_, _ = fmt.Fprintf(stderr, "batch client: %v\n", err)
			return 1
		}
	}
	rec := metrics.New()
	defer pushMetrics(rec, cfg.PushgatewayURL, logger)

	svc := submission.NewService(submitter,
		submission.Options{JobDefinition: cfg.JobDefinition, JobQueue: cfg.JobQueue, Analyses: policy},
		submission.WithLedger(store),
		submission.WithMetricsRecorder(rec),
		submission.WithLogger(logger),
	)

	if lambdaMode {
		lambdaStart(svc.Handle)
		return 0
	}

	ev, err := readEvent(configPath, stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "read configuration: %v\n", err)
		return 1
	}
	res, err := svc.Submit(ctx, ev.Configuration)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "submission failed: %v\n", err)
		return 1
	}
	logger.InfoContext(ctx, "all jobs submitted successfully", "experiment", res.ExperimentName)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return 1
	}
	return 0
}

func readEvent(path string, stdin io.Reader) (experiment.Event, error) {
	if path == "-" {
		return experiment.Decode(stdin)
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied configuration file
	if err != nil {
		return experiment.Event{}, err
	}
	defer func() { _ = f.Close() }()
	return experiment.Decode(f)
}

func printLedger(ctx context.Context, store ledger.Store, experimentName string, stdout, stderr io.Writer) int {
	entries, err := store.List(ctx, experimentName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledger: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB ID\tCOMMAND\tJOB NAME\tDEPENDS ON\tSUBMITTED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.JobID, e.Command, e.JobName, strings.Join(e.DependsOn, ","), e.SubmittedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func pushMetrics(rec *metrics.Recorder, url string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, url, "submit-jobs"); err != nil {
		logger.Warn("metrics: push failed", "url", url, "error", err)
	}
}
