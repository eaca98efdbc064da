// Command run-pipeline executes cellranger in a scratch directory. Without
// -command it runs a scratch plan (the tiny-bcl smoke run by default); with
// -command and -configuration it runs one batch job as submitted by
// submit-jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenxpipeline/internal/blob"
	"tenxpipeline/internal/cellranger"
	"tenxpipeline/internal/config"
	"tenxpipeline/internal/metrics"
	"tenxpipeline/internal/pipeline"
)

var (
	exitFunc              = os.Exit
	openBlob  blob.Opener = blob.Open
	newRunner             = func(bin string, stdout, stderr io.Writer, logger *slog.Logger) cellranger.Runner {
		return cellranger.NewExecRunner(bin, stdout, stderr, logger)
	}
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 2
	}
	fs := flag.NewFlagSet("run-pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		planPath      string
		command       string
		configuration string
		keep          bool
		jobOpts       = pipeline.JobOptions{Bucket: cfg.Bucket}
	)
	fs.StringVar(&planPath, "plan", "", "YAML scratch plan (default: tiny-bcl smoke run)")
	fs.StringVar(&command, "command", "", "batch job command: mkfastq|analysis")
	fs.StringVar(&configuration, "configuration", "", "batch job configuration JSON")
	fs.BoolVar(&keep, "keep", false, "keep the working directory")
	fs.StringVar(&cfg.ScratchDir, "scratch", cfg.ScratchDir, "scratch root")
	fs.StringVar(&jobOpts.Bucket, "bucket", jobOpts.Bucket, "output bucket")
	fs.StringVar(&jobOpts.Reference, "reference", "", "s3:// transcriptome folder for analysis jobs")
	fs.StringVar(&jobOpts.Chemistry, "chemistry", cellranger.DefaultChemistry, "count chemistry")
	fs.IntVar(&jobOpts.ExpectCells, "expect-cells", cellranger.DefaultExpectCells, "count expected cells")
	fs.IntVar(&jobOpts.LocalMem, "localmem", cellranger.DefaultLocalMem, "count memory limit (GB)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (command == "") != (configuration == "") {
		_, _ = fmt.Fprintln(stderr, "-command and -configuration must be given together")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	defer pushMetrics(rec, cfg.PushgatewayURL, logger)

	transfer := blob.NewTransfer(openBlob, blob.WithParallelism(cfg.Parallelism), blob.WithTransferLogger(logger))
	orch := pipeline.New(transfer, newRunner(cfg.CellrangerBin, stdout, stderr, logger), cfg.ScratchDir,
		pipeline.WithMinFree(cfg.MinFreeBytes),
		pipeline.WithKeepWorkdir(keep),
		pipeline.WithMetricsRecorder(rec),
		pipeline.WithLogger(logger),
	)

	if command != "" {
		err = orch.RunJob(ctx, jobOpts, command, configuration)
	} else {
		var plan pipeline.Plan
		if plan, err = loadPlan(planPath, cfg.Bucket); err == nil {
			err = orch.Run(ctx, plan)
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "pipeline failed: %v\n", err)
		return 1
	}
	logger.InfoContext(ctx, "pipeline: finished")
	return 0
}

func loadPlan(path, bucket string) (pipeline.Plan, error) {
	if path == "" {
		return pipeline.DefaultPlan(bucket), nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied plan file
	if err != nil {
		return pipeline.Plan{}, err
	}
	defer func() { _ = f.Close() }()
	return pipeline.LoadPlan(f, bucket)
}

func pushMetrics(rec *metrics.Recorder, url string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rec.Push(ctx, url, "run-pipeline"); err != nil {
		logger.Warn("metrics: push failed", "url", url, "error", err)
	}
}
