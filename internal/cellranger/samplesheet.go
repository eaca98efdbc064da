package cellranger

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"tenxpipeline/internal/experiment"
)

// SampleSheetRow is one line of the simple mkfastq sample sheet.
type SampleSheetRow struct {
	Lane   string `csv:"Lane"`
	Sample string `csv:"Sample"`
	Index  string `csv:"Index"`
}

// SampleSheet derives sheet rows from demultiplexing samples. The sample
// name falls back to its id; a missing lane means every lane ("*").
func SampleSheet(samples []experiment.Sample) ([]SampleSheetRow, error) {
	rows := make([]SampleSheetRow, 0, len(samples))
	for i, s := range samples {
		name := s.Name()
		if name == "" {
			name = s.ID()
		}
		index := s.Field("index")
		if name == "" || index == "" {
			return nil, fmt.Errorf("sample sheet: sample %d needs a name and an index", i)
		}
		lane := s.Field("lane")
		if lane == "" {
			lane = "*"
		}
		rows = append(rows, SampleSheetRow{Lane: lane, Sample: name, Index: index})
	}
	return rows, nil
}

// WriteSampleSheet writes rows as CSV with a header line.
func WriteSampleSheet(w io.Writer, rows []SampleSheetRow) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("sample sheet: %w", err)
	}
	return nil
}

// WriteSampleSheetFile writes rows to path.
func WriteSampleSheetFile(path string, rows []SampleSheetRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSampleSheet(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
