package config

import (
	"log/slog"
	"testing"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	c, err := load(env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PipelineName != DefaultPipelineName || c.JobQueue != DefaultJobQueue {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.JobDefinition != "test-cellranger-pipeline-mkfastq" {
		t.Fatalf("job definition derives from pipeline name, got %s", c.JobDefinition)
	}
	if c.Bucket != "10x-pipeline" || c.ScratchDir != "scratch" || c.Region != "us-east-1" {
		t.Fatalf("unexpected storage defaults %+v", c)
	}
	if c.MinFreeBytes != 50_000_000_000 || c.Parallelism != 4 || c.LogLevel() != slog.LevelInfo {
		t.Fatalf("unexpected numeric defaults %+v", c)
	}
}

func TestLoadOverrides(t *testing.T) {
	c, err := load(env(map[string]string{
		"TENX_PIPELINE_NAME":        "prod",
		"TENX_JOB_QUEUE":            "q",
		"TENX_MIN_FREE":             "1 GiB",
		"TENX_TRANSFER_PARALLELISM": "8",
		"TENX_LEDGER_DRIVER":        "sqlite",
		"DEBUG":                     "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.JobDefinition != "prod-mkfastq" || c.JobQueue != "q" || c.LedgerDriver != "sqlite" {
		t.Fatalf("unexpected overrides %+v", c)
	}
	if c.MinFreeBytes != 1<<30 || c.Parallelism != 8 || c.LogLevel() != slog.LevelDebug {
		t.Fatalf("unexpected parsed values %+v", c)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	for name, m := range map[string]map[string]string{
		"min free":    {"TENX_MIN_FREE": "lots"},
		"parallelism": {"TENX_TRANSFER_PARALLELISM": "0"},
		"debug":       {"DEBUG": "maybe"},
	} {
		if _, err := load(env(m)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadReadsProcessEnv(t *testing.T) {
	t.Setenv("TENX_BUCKET", "other")
	c, err := Load()
	if err != nil || c.Bucket != "other" {
		t.Fatalf("load: %+v %v", c, err)
	}
}
