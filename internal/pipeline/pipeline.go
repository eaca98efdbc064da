// Package pipeline runs cellranger inside a scratch working directory:
// inputs are fetched from object storage, the binary is invoked and its
// outputs are uploaded back.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tenxpipeline/internal/blob"
	"tenxpipeline/internal/cellranger"
	"tenxpipeline/internal/workdir"
)

// Transferer moves data between s3:// locations and local paths.
type Transferer interface {
	DownloadFolder(ctx context.Context, remote, localDir string) (int, error)
	DownloadFile(ctx context.Context, remote, localPath string) error
	UploadFolder(ctx context.Context, remote, localDir string) (int, error)
	UploadFile(ctx context.Context, remote, localPath string) error
}

// MetricsRecorder observes step outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Orchestrator executes plans and batch jobs.
type Orchestrator struct {
	transfer    Transferer
	runner      cellranger.Runner
	scratchRoot string
	minFree     uint64
	keep        bool
	metrics     MetricsRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMinFree fails runs when the scratch filesystem has less than n bytes free.
func WithMinFree(n uint64) Option { return func(o *Orchestrator) { o.minFree = n } }

// WithKeepWorkdir leaves the working directory in place after a run.
func WithKeepWorkdir(keep bool) Option { return func(o *Orchestrator) { o.keep = keep } }

// WithMetricsRecorder reports step durations.
func WithMetricsRecorder(m MetricsRecorder) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now for step timing.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New builds an Orchestrator creating working directories under scratchRoot.
func New(transfer Transferer, runner cellranger.Runner, scratchRoot string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transfer:    transfer,
		runner:      runner,
		scratchRoot: scratchRoot,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the scratch plan end to end.
func (o *Orchestrator) Run(ctx context.Context, p Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return o.withWorkdir(ctx, func(dir string) error {
		if p.Reference != "" {
			if err := o.step(ctx, "download_reference", func() error {
				_, err := o.transfer.DownloadFolder(ctx, p.Reference, filepath.Join(dir, p.ReferenceDir))
				return err
			}); err != nil {
				return err
			}
		}
		if err := o.step(ctx, "download_raw_data", func() error {
			return o.fetch(ctx, p.RawData, filepath.Join(dir, p.RawDataDir))
		}); err != nil {
			return err
		}
		mkArgs, _ := p.Mkfastq.Args()
		if err := o.step(ctx, "mkfastq", func() error { return o.runner.Run(ctx, dir, mkArgs) }); err != nil {
			return err
		}
		countArgs, _ := p.Count.Args()
		if err := o.step(ctx, "count", func() error { return o.runner.Run(ctx, dir, countArgs) }); err != nil {
			return err
		}
		if err := o.upload(ctx, p.MkfastqOutput, filepath.Join(dir, p.Mkfastq.ID)); err != nil {
			return err
		}
		return o.upload(ctx, p.CountOutput, filepath.Join(dir, p.Count.ID))
	})
}

// withWorkdir checks free space, creates a working directory under the
// scratch root and removes it once fn returns unless keep is set.
func (o *Orchestrator) withWorkdir(ctx context.Context, fn func(dir string) error) error {
	if err := os.MkdirAll(o.scratchRoot, 0o755); err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	space, err := workdir.RequireFree(o.scratchRoot, o.minFree)
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "scratch: disk space", "path", o.scratchRoot, "space", space.String())
	dir, err := workdir.Generate(o.scratchRoot)
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "scratch: working directory", "dir", dir)
	if !o.keep {
		defer func() {
			if err := workdir.Delete(dir); err != nil {
				o.logger.WarnContext(ctx, "scratch: cleanup failed", "dir", dir, "error", err)
			}
		}()
	}
	return fn(dir)
}

// fetch places remote into localDir, extracting it when it is a tar.gz object.
func (o *Orchestrator) fetch(ctx context.Context, remote, localDir string) error {
	if !workdir.IsTarGz(remote) {
		_, err := o.transfer.DownloadFolder(ctx, remote, localDir)
		return err
	}
	loc, err := blob.ParseLocation(remote)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return err
	}
	archive := filepath.Join(localDir, loc.Base())
	if err := o.transfer.DownloadFile(ctx, remote, archive); err != nil {
		return err
	}
	n, err := workdir.ExtractTarGz(archive, localDir)
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "scratch: extracted archive", "archive", archive, "files", n)
	return os.Remove(archive)
}

func (o *Orchestrator) upload(ctx context.Context, remote, localDir string) error {
	return o.step(ctx, "upload", func() error {
		n, err := o.transfer.UploadFolder(ctx, remote, localDir)
		if err == nil && n == 0 {
			err = fmt.Errorf("upload %s: no files under %s", remote, localDir)
		}
		return err
	})
}

func (o *Orchestrator) step(ctx context.Context, name string, fn func() error) error {
	o.logger.InfoContext(ctx, "pipeline: "+name+": starting")
	start := o.now()
	err := fn()
	if o.metrics != nil {
		o.metrics.Observe(ctx, name, err == nil, o.now().Sub(start))
	}
	if err != nil {
		o.logger.ErrorContext(ctx, "pipeline: "+name+": failed", "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	o.logger.InfoContext(ctx, "pipeline: "+name+": done", "elapsed", o.now().Sub(start).Round(time.Millisecond).String())
	return nil
}

var _ Transferer = (*blob.Transfer)(nil)
