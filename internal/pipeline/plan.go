package pipeline

import (
	"fmt"
	"io"

	"go.yaml.in/yaml/v2"

	"tenxpipeline/internal/cellranger"
)

// Plan describes one scratch run: what to fetch, what to run and where
// the outputs go. Local paths are relative to the run's working directory.
type Plan struct {
	// Reference is an optional s3:// folder holding the transcriptome,
	// downloaded into ReferenceDir.
	Reference    string `yaml:"reference"`
	ReferenceDir string `yaml:"reference_dir"`
	// RawData is an s3:// folder or a .tar.gz object, placed in RawDataDir.
	RawData    string `yaml:"raw_data"`
	RawDataDir string `yaml:"raw_data_dir"`

	Mkfastq cellranger.MkfastqArgs `yaml:"mkfastq"`
	Count   cellranger.CountArgs   `yaml:"count"`

	MkfastqOutput string `yaml:"mkfastq_output"`
	CountOutput   string `yaml:"count_output"`
}

// DefaultPlan is the tiny-bcl smoke run against bucket.
func DefaultPlan(bucket string) Plan {
	return Plan{
		RawData:    fmt.Sprintf("s3://%s/tiny-bcl/raw_data", bucket),
		RawDataDir: "raw_data",
		Mkfastq: cellranger.MkfastqArgs{
			ID:  "tiny-bcl-output",
			Run: "raw_data/cellranger-tiny-bcl-1.2.0/",
			CSV: "raw_data/cellranger-tiny-bcl-samplesheet-1.2.0.csv",
		},
		Count: cellranger.CountArgs{
			ID:            "test_sample",
			Fastqs:        []string{"tiny-bcl-output/outs/fastq_path/p1/s1"},
			Sample:        "test_sample",
			ExpectCells:   cellranger.DefaultExpectCells,
			LocalMem:      cellranger.DefaultLocalMem,
			Chemistry:     cellranger.DefaultChemistry,
			Transcriptome: "refdata-cellranger-GRCh38-1.2.0",
		},
		MkfastqOutput: fmt.Sprintf("s3://%s/tiny-bcl-output", bucket),
		CountOutput:   fmt.Sprintf("s3://%s/test_sample", bucket),
	}
}

// LoadPlan reads a YAML plan on top of DefaultPlan(bucket).
func LoadPlan(r io.Reader, bucket string) (Plan, error) {
	p := DefaultPlan(bucket)
	b, err := io.ReadAll(r)
	if err != nil {
		return Plan{}, err
	}
	if err := yaml.UnmarshalStrict(b, &p); err != nil {
		return Plan{}, fmt.Errorf("plan: %w", err)
	}
	return p, p.Validate()
}

// Validate checks that every step has what it needs.
func (p Plan) Validate() error {
	if p.RawData == "" || p.RawDataDir == "" {
		return fmt.Errorf("plan: raw_data and raw_data_dir are required")
	}
	if p.Reference != "" && p.ReferenceDir == "" {
		return fmt.Errorf("plan: reference_dir is required with reference")
	}
	if _, err := p.Mkfastq.Args(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if _, err := p.Count.Args(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if p.MkfastqOutput == "" || p.CountOutput == "" {
		return fmt.Errorf("plan: mkfastq_output and count_output are required")
	}
	return nil
}
