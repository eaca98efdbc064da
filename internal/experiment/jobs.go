package experiment

import (
	"encoding/json"
	"fmt"
)

// Commands carried in the batch job parameters.
const (
	CommandMkfastq  = "mkfastq"
	CommandAnalysis = "analysis"
)

// MkfastqJob is the configuration blob handed to a demultiplexing job.
type MkfastqJob struct {
	BCLFile        string     `json:"bcl_file"`
	ExperimentName string     `json:"experiment_name"`
	RunID          Identifier `json:"run_id"`
	Samples        []Sample   `json:"samples"`
}

// AnalysisJob is the configuration blob handed to a counting job.
type AnalysisJob struct {
	ExperimentName string          `json:"experiment_name"`
	Run            json.RawMessage `json:"run"`
	Sample         Sample          `json:"sample"`
}

// NewAnalysisJob builds the analysis payload. A missing experiment run
// payload is forwarded as null.
func NewAnalysisJob(experimentName string, exp Experiment, sample Sample) AnalysisJob {
	run := exp.Run
	if len(run) == 0 {
		run = json.RawMessage("null")
	}
	return AnalysisJob{ExperimentName: experimentName, Run: run, Sample: sample}
}

// Encode serialises a job configuration for the parameters map.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode job configuration: %w", err)
	}
	return string(b), nil
}

// DecodeMkfastqJob parses a mkfastq configuration parameter.
func DecodeMkfastqJob(s string) (MkfastqJob, error) {
	var job MkfastqJob
	if err := json.Unmarshal([]byte(s), &job); err != nil {
		return MkfastqJob{}, fmt.Errorf("%w: mkfastq configuration: %v", ErrInvalidConfiguration, err)
	}
	if job.BCLFile == "" || job.ExperimentName == "" {
		return MkfastqJob{}, fmt.Errorf("%w: mkfastq configuration needs bcl_file and experiment_name", ErrInvalidConfiguration)
	}
	return job, nil
}

// DecodeAnalysisJob parses an analysis configuration parameter.
func DecodeAnalysisJob(s string) (AnalysisJob, error) {
	var job AnalysisJob
	if err := json.Unmarshal([]byte(s), &job); err != nil {
		return AnalysisJob{}, fmt.Errorf("%w: analysis configuration: %v", ErrInvalidConfiguration, err)
	}
	if job.ExperimentName == "" || job.Sample == nil {
		return AnalysisJob{}, fmt.Errorf("%w: analysis configuration needs experiment_name and sample", ErrInvalidConfiguration)
	}
	return job, nil
}
