// Package cellranger drives the external cellranger binary: argument
// building for mkfastq and count, sample sheets and output layout.
package cellranger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults used by count when the plan leaves them unset.
const (
	DefaultExpectCells = 1000
	DefaultLocalMem    = 3
	DefaultChemistry   = "SC3Pv2"
)

// Runner invokes the binary with args inside dir.
type Runner interface {
	Run(ctx context.Context, dir string, args []string) error
}

// ExecRunner runs a local executable, streaming its output.
type ExecRunner struct {
	Bin    string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewExecRunner returns a runner for bin. Nil writers fall back to the
// process output.
func NewExecRunner(bin string, stdout, stderr io.Writer, logger *slog.Logger) *ExecRunner {
	if bin == "" {
		bin = "cellranger"
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Bin: bin, Stdout: stdout, Stderr: stderr, Logger: logger}
}

// Run executes the binary and fails on a non-zero exit.
func (r *ExecRunner) Run(ctx context.Context, dir string, args []string) error {
	cmd := exec.CommandContext(ctx, r.Bin, args...) //nolint:gosec // binary and args come from operator config
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	r.Logger.InfoContext(ctx, "cellranger: running", "bin", r.Bin, "args", strings.Join(args, " "), "dir", dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cellranger %s: %w", firstArg(args), err)
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// MkfastqArgs are the inputs to `cellranger mkfastq`.
type MkfastqArgs struct {
	ID  string `yaml:"id" json:"id"`
	Run string `yaml:"run" json:"run"`
	CSV string `yaml:"csv" json:"csv"`
}

// Args renders the command line.
func (a MkfastqArgs) Args() ([]string, error) {
	if a.ID == "" || a.Run == "" || a.CSV == "" {
		return nil, fmt.Errorf("cellranger mkfastq: id, run and csv are required")
	}
	return []string{"mkfastq", "--id=" + a.ID, "--run=" + a.Run, "--csv=" + a.CSV}, nil
}

// CountArgs are the inputs to `cellranger count`. Zero numeric fields and
// an empty chemistry fall back to the package defaults.
type CountArgs struct {
	ID            string   `yaml:"id" json:"id"`
	Fastqs        []string `yaml:"fastqs" json:"fastqs"`
	Sample        string   `yaml:"sample" json:"sample"`
	ExpectCells   int      `yaml:"expect_cells" json:"expect_cells"`
	LocalMem      int      `yaml:"localmem" json:"localmem"`
	Chemistry     string   `yaml:"chemistry" json:"chemistry"`
	Transcriptome string   `yaml:"transcriptome" json:"transcriptome"`
}

// Args renders the command line.
func (a CountArgs) Args() ([]string, error) {
	if a.ID == "" || len(a.Fastqs) == 0 || a.Transcriptome == "" {
		return nil, fmt.Errorf("cellranger count: id, fastqs and transcriptome are required")
	}
	expect, mem, chem := a.ExpectCells, a.LocalMem, a.Chemistry
	if expect <= 0 {
		expect = DefaultExpectCells
	}
	if mem <= 0 {
		mem = DefaultLocalMem
	}
	if chem == "" {
		chem = DefaultChemistry
	}
	args := []string{"count", "--id=" + a.ID, "--fastqs=" + strings.Join(a.Fastqs, ",")}
	if a.Sample != "" {
		args = append(args, "--sample="+a.Sample)
	}
	return append(args,
		"--expect-cells="+strconv.Itoa(expect),
		"--localmem="+strconv.Itoa(mem),
		"--chemistry="+chem,
		"--transcriptome="+a.Transcriptome,
	), nil
}

// OutsDir is where a pipeline run with id writes its outputs.
func OutsDir(dir, id string) string { return filepath.Join(dir, id, "outs") }

// FastqPath is the mkfastq FASTQ output folder for id.
func FastqPath(dir, id string) string { return filepath.Join(OutsDir(dir, id), "fastq_path") }
