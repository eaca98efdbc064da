package experiment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.yaml.in/yaml/v2"
)

// ErrInvalidConfiguration marks input that cannot drive a submission.
var ErrInvalidConfiguration = errors.New("invalid job configuration")

// Decode reads an Event from r. JSON is decoded directly; anything else is
// treated as YAML. Numbers inside samples keep their literal form.
func Decode(r io.Reader) (Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Event{}, fmt.Errorf("read configuration: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, fmt.Errorf("%w: empty input", ErrInvalidConfiguration)
	}
	if data[0] != '{' {
		if data, err = yamlToJSON(data); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if err := ev.Configuration.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the experiment fields every submission depends on. An
// empty sequencing_runs list is accepted; it names the experiment "" and
// yields no mkfastq jobs.
func (c Configuration) Validate() error {
	var errs []error
	exp := c.Experiment
	if exp.Bcl2fastqVersion.IsZero() {
		errs = append(errs, errors.New("experiment.bcl2fastq_version is required"))
	}
	if exp.CellrangerVersion.IsZero() {
		errs = append(errs, errors.New("experiment.cellranger_version is required"))
	}
	for i, run := range exp.SequencingRuns {
		if run.ID.IsZero() {
			errs = append(errs, fmt.Errorf("sequencing_runs[%d].id is required", i))
		}
		if _, err := run.Name(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// ValidateAnalyses checks that every analysis sample carries the job_type
// and job_name its batch job is built from. Only callers that will submit
// analysis jobs need it.
func (c Configuration) ValidateAnalyses() error {
	if !c.AnalysesEnabled() {
		return nil
	}
	var errs []error
	for i, s := range c.Analyses.Samples {
		if s.JobType() == "" || s.JobName() == "" {
			errs = append(errs, fmt.Errorf("analyses.samples[%d] needs job_type and job_name", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	norm, err := normalizeYAML(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// normalizeYAML converts yaml.v2 map[interface{}]interface{} nodes into
// string-keyed maps so the tree can be re-encoded as JSON.
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}
