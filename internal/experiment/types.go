// Package experiment models the sequencing experiment configuration that
// drives batch submission and derives the run and experiment names used to
// label jobs and output folders.
package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	sequencingDateLayout = "2006-01-02"
	runNameDateLayout    = "010206"
)

// Identifier is a scalar configuration value written either as a JSON number
// or as a string. The original form is kept so it can be forwarded unchanged.
type Identifier struct {
	text    string
	numeric bool
}

// NewIdentifier returns a string identifier.
func NewIdentifier(s string) Identifier { return Identifier{text: s} }

// IntIdentifier returns a numeric identifier.
func IntIdentifier(n int64) Identifier {
	return Identifier{text: strconv.FormatInt(n, 10), numeric: true}
}

func (id Identifier) String() string { return id.text }

// IsZero reports whether the identifier was never set.
func (id Identifier) IsZero() bool { return id.text == "" }

func (id Identifier) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

func (id *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = Identifier{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identifier{text: s}
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("identifier must be a number or string, got %s", data)
	}
	*id = Identifier{text: string(data), numeric: true}
	return nil
}

// SequencingRun is one flow cell worth of raw sequencer output.
type SequencingRun struct {
	ID       Identifier `json:"id"`
	HIMCPool Identifier `json:"himc_pool"`
	Date     string     `json:"date"`
	BCLFile  string     `json:"bcl_file"`
}

// Name derives run<id>_himc<pool>_<MMDDYY> from the run fields.
func (r SequencingRun) Name() (string, error) {
	d, err := time.Parse(sequencingDateLayout, r.Date)
	if err != nil {
		return "", fmt.Errorf("sequencing run %s: parse date %q: %w", r.ID, r.Date, err)
	}
	return fmt.Sprintf("run%s_himc%s_%s", r.ID, r.HIMCPool, d.Format(runNameDateLayout)), nil
}

// Meta carries optional free-form experiment flags.
type Meta map[string]any

// Debug is true only when meta.debug is the boolean true.
func (m Meta) Debug() bool {
	v, ok := m["debug"].(bool)
	return ok && v
}

// Experiment groups the sequencing runs processed together.
type Experiment struct {
	SequencingRuns    []SequencingRun `json:"sequencing_runs"`
	Bcl2fastqVersion  Identifier      `json:"bcl2fastq_version"`
	CellrangerVersion Identifier      `json:"cellranger_version"`
	Meta              Meta            `json:"meta,omitempty"`
	Run               json.RawMessage `json:"run,omitempty"`
}

// Name joins the run names with '-' in input order. It is a formatting
// convention and carries no uniqueness guarantee.
func (e Experiment) Name() (string, error) {
	names := make([]string, 0, len(e.SequencingRuns))
	for _, run := range e.SequencingRuns {
		n, err := run.Name()
		if err != nil {
			return "", err
		}
		names = append(names, n)
	}
	return strings.Join(names, "-"), nil
}

// Debug reports the experiment debug flag.
func (e Experiment) Debug() bool { return e.Meta.Debug() }

// Sample is an opaque per-sample payload. Only a handful of keys are read;
// the whole object is forwarded into job parameters unchanged.
type Sample map[string]any

// Field returns the value under key rendered as text, or "" when absent.
func (s Sample) Field(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// ID returns the sample identifier.
func (s Sample) ID() string { return s.Field("id") }

// Name returns the human readable sample name.
func (s Sample) Name() string { return s.Field("name") }

// JobType returns the job type tag (e.g. count).
func (s Sample) JobType() string { return s.Field("job_type") }

// JobName returns the per-sample job label.
func (s Sample) JobName() string { return s.Field("job_name") }

// Mkfastq lists the samples demultiplexed from every sequencing run.
type Mkfastq struct {
	Samples []Sample `json:"samples"`
}

// Processing holds the demultiplexing section.
type Processing struct {
	Mkfastq *Mkfastq `json:"mkfastq"`
}

// Analyses lists the samples that get a counting job.
type Analyses struct {
	Samples []Sample `json:"samples"`
}

// Configuration is the job configuration for a single experiment.
type Configuration struct {
	Experiment Experiment `json:"experiment"`
	Processing Processing `json:"processing"`
	Analyses   *Analyses  `json:"analyses"`
}

// MkfastqEnabled mirrors a truthiness check on processing.mkfastq: the
// section must be present and carry a samples list.
func (c Configuration) MkfastqEnabled() bool {
	return c.Processing.Mkfastq != nil && c.Processing.Mkfastq.Samples != nil
}

// AnalysesEnabled reports whether the analyses section is present and non-empty.
func (c Configuration) AnalysesEnabled() bool {
	return c.Analyses != nil && c.Analyses.Samples != nil
}

// Event is the envelope read from stdin or delivered by the function runtime.
type Event struct {
	Configuration Configuration `json:"configuration"`
}
