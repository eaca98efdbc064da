package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"tenxpipeline/internal/batch"
	"tenxpipeline/internal/blob"
	"tenxpipeline/internal/cellranger"
	"tenxpipeline/internal/experiment"
)

// ErrUnknownCommand is returned for a command parameter other than mkfastq or analysis.
var ErrUnknownCommand = errors.New("unknown job command")

// JobOptions are the per-deployment settings of the batch container.
type JobOptions struct {
	// Bucket receives job outputs under <experiment>/...
	Bucket string
	// Reference is the s3:// folder holding the transcriptome used by count.
	Reference   string
	ExpectCells int
	LocalMem    int
	Chemistry   string
}

// MkfastqLocation is where the demultiplexing output of one run is stored.
func MkfastqLocation(bucket, experimentName string, runID experiment.Identifier) blob.Location {
	return blob.Location{Bucket: bucket}.Join(experimentName, experiment.CommandMkfastq, runID.String())
}

// AnalysisLocation is where the output of one analysis sample is stored.
func AnalysisLocation(bucket, experimentName string, sample experiment.Sample) blob.Location {
	return blob.Location{Bucket: bucket}.Join(experimentName, sample.JobType(), sample.JobName())
}

// RunJob executes one batch job given its command and configuration parameters.
func (o *Orchestrator) RunJob(ctx context.Context, opts JobOptions, command, configuration string) error {
	if opts.Bucket == "" {
		return errors.New("job: output bucket is required")
	}
	switch command {
	case experiment.CommandMkfastq:
		job, err := experiment.DecodeMkfastqJob(configuration)
		if err != nil {
			return err
		}
		return o.runMkfastq(ctx, opts, job)
	case experiment.CommandAnalysis:
		job, err := experiment.DecodeAnalysisJob(configuration)
		if err != nil {
			return err
		}
		return o.runAnalysis(ctx, opts, job)
	}
	return fmt.Errorf("%w %q", ErrUnknownCommand, command)
}

func (o *Orchestrator) runMkfastq(ctx context.Context, opts JobOptions, job experiment.MkfastqJob) error {
	rows, err := cellranger.SampleSheet(job.Samples)
	if err != nil {
		return err
	}
	return o.withWorkdir(ctx, func(dir string) error {
		bclDir := filepath.Join(dir, "bcl")
		if err := o.step(ctx, "download_bcl", func() error { return o.fetch(ctx, job.BCLFile, bclDir) }); err != nil {
			return err
		}
		runDir, err := runFolder(bclDir)
		if err != nil {
			return err
		}
		sheet := filepath.Join(dir, "samplesheet.csv")
		if err := cellranger.WriteSampleSheetFile(sheet, rows); err != nil {
			return err
		}
		id := batch.JobName("run", job.RunID.String())
		args, err := cellranger.MkfastqArgs{ID: id, Run: runDir, CSV: sheet}.Args()
		if err != nil {
			return err
		}
		if err := o.step(ctx, "mkfastq", func() error { return o.runner.Run(ctx, dir, args) }); err != nil {
			return err
		}
		return o.upload(ctx, MkfastqLocation(opts.Bucket, job.ExperimentName, job.RunID).String(), filepath.Join(dir, id))
	})
}

func (o *Orchestrator) runAnalysis(ctx context.Context, opts JobOptions, job experiment.AnalysisJob) error {
	sample := job.Sample
	if sample.JobType() != "count" {
		return fmt.Errorf("analysis: unsupported job_type %q", sample.JobType())
	}
	if opts.Reference == "" {
		return errors.New("analysis: transcriptome reference is required")
	}
	return o.withWorkdir(ctx, func(dir string) error {
		fastqRoot := filepath.Join(dir, "mkfastq")
		remote := blob.Location{Bucket: opts.Bucket}.Join(job.ExperimentName, experiment.CommandMkfastq).String()
		if err := o.step(ctx, "download_fastqs", func() error {
			_, err := o.transfer.DownloadFolder(ctx, remote, fastqRoot)
			return err
		}); err != nil {
			return err
		}
		fastqs, err := fastqFolders(fastqRoot)
		if err != nil {
			return err
		}
		refDir := filepath.Join(dir, "reference")
		if err := o.step(ctx, "download_reference", func() error {
			_, err := o.transfer.DownloadFolder(ctx, opts.Reference, refDir)
			return err
		}); err != nil {
			return err
		}
		id := batch.JobName(sample.JobName())
		args, err := countArgs(opts, sample, id, fastqs, refDir).Args()
		if err != nil {
			return err
		}
		if err := o.step(ctx, "count", func() error { return o.runner.Run(ctx, dir, args) }); err != nil {
			return err
		}
		return o.upload(ctx, AnalysisLocation(opts.Bucket, job.ExperimentName, sample).String(), filepath.Join(dir, id))
	})
}

// countArgs applies per-sample overrides (expect_cells, chemistry) on top
// of the deployment defaults.
func countArgs(opts JobOptions, sample experiment.Sample, id string, fastqs []string, ref string) cellranger.CountArgs {
	a := cellranger.CountArgs{
		ID:            id,
		Fastqs:        fastqs,
		Sample:        sample.Name(),
		ExpectCells:   opts.ExpectCells,
		LocalMem:      opts.LocalMem,
		Chemistry:     opts.Chemistry,
		Transcriptome: ref,
	}
	if n, err := strconv.Atoi(sample.Field("expect_cells")); err == nil && n > 0 {
		a.ExpectCells = n
	}
	if c := sample.Field("chemistry"); c != "" {
		a.Chemistry = c
	}
	return a
}

// runFolder returns the sequencer run folder inside dir: dir itself, or its
// only sub-directory when an archive wrapped the run in one.
func runFolder(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// fastqFolders lists <root>/<run>/outs/fastq_path for every downloaded run.
func fastqFolders(root string) ([]string, error) {
	matches, err := filepath.Glob(cellranger.FastqPath(root, "*"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("analysis: no fastq_path folders under %s", root)
	}
	sort.Strings(matches)
	return matches, nil
}
