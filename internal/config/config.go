// Package config reads process settings from TENX_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultPipelineName = "test-cellranger-pipeline"
	DefaultJobQueue     = "test-10xpipeline"
	DefaultRegion       = "us-east-1"
	DefaultBucket       = "10x-pipeline"
	DefaultScratchDir   = "scratch"
	DefaultCellranger   = "cellranger"
	DefaultMinFree      = "50GB"
	DefaultParallelism  = 4
)

// Config holds the settings shared by the commands.
type Config struct {
	PipelineName   string
	JobQueue       string
	JobDefinition  string
	Region         string
	BatchEndpoint  string
	Bucket         string
	ScratchDir     string
	CellrangerBin  string
	MinFreeBytes   uint64
	Parallelism    int
	LedgerDriver   string
	LedgerDSN      string
	PushgatewayURL string
	Debug          bool
}

// Load reads the environment. Malformed numeric or boolean values are errors.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	c := Config{
		PipelineName:   get("TENX_PIPELINE_NAME", DefaultPipelineName),
		JobQueue:       get("TENX_JOB_QUEUE", DefaultJobQueue),
		Region:         get("TENX_AWS_REGION", DefaultRegion),
		BatchEndpoint:  getenv("TENX_BATCH_ENDPOINT"),
		Bucket:         get("TENX_BUCKET", DefaultBucket),
		ScratchDir:     get("TENX_SCRATCH_DIR", DefaultScratchDir),
		CellrangerBin:  get("TENX_CELLRANGER_BIN", DefaultCellranger),
		LedgerDriver:   getenv("TENX_LEDGER_DRIVER"),
		LedgerDSN:      getenv("TENX_LEDGER_DSN"),
		PushgatewayURL: getenv("TENX_PUSHGATEWAY_URL"),
	}
	c.JobDefinition = get("TENX_JOB_DEFINITION", c.PipelineName+"-mkfastq")

	minFree, err := humanize.ParseBytes(get("TENX_MIN_FREE", DefaultMinFree))
	if err != nil {
		return Config{}, fmt.Errorf("TENX_MIN_FREE: %w", err)
	}
	c.MinFreeBytes = minFree

	c.Parallelism = DefaultParallelism
	if v := getenv("TENX_TRANSFER_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("TENX_TRANSFER_PARALLELISM: invalid value %q", v)
		}
		c.Parallelism = n
	}

	if v := getenv("DEBUG"); v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("DEBUG: %w", err)
		}
		c.Debug = d
	}
	return c, nil
}

// LogLevel is Debug when DEBUG is set, Info otherwise.
func (c Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
