package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Video.FPS != 3 {
		t.Fatalf("default fps = %d, want 3", cfg.Video.FPS)
	}
	if cfg.Classifier.Model != "gemini-2.5-flash" {
		t.Fatalf("default model = %q", cfg.Classifier.Model)
	}
	if cfg.Classifier.Concurrency != 1 {
		t.Fatalf("default concurrency = %d, want 1", cfg.Classifier.Concurrency)
	}
	if cfg.Cycles.CompleteMinSeconds != 5.0 || cfg.Cycles.PartialMinSeconds != 3.0 {
		t.Fatalf("default cycle thresholds = %.1f/%.1f", cfg.Cycles.CompleteMinSeconds, cfg.Cycles.PartialMinSeconds)
	}
	if cfg.Report.Narrative {
		t.Fatal("narrative mode should default to off")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[video]
fps = 5
max_frames = 100

[classifier]
model = "gpt-5-mini"
concurrency = 4
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Video.FPS != 5 || cfg.Video.MaxFrames != 100 {
		t.Fatalf("video overrides not applied: %+v", cfg.Video)
	}
	if cfg.Classifier.Model != "gpt-5-mini" || cfg.Classifier.Concurrency != 4 {
		t.Fatalf("classifier overrides not applied: %+v", cfg.Classifier)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad fps", content: "[video]\nfps = 7\n"},
		{name: "negative max frames", content: "[video]\nfps = 3\nmax_frames = -1\n"},
		{name: "zero concurrency", content: "[classifier]\nconcurrency = 0\n"},
		{name: "empty model", content: "[classifier]\nmodel = \"\"\n"},
		{name: "inverted thresholds", content: "[cycles]\ncomplete_min_seconds = 2.0\n"},
		{name: "bad port", content: "[server]\nport = 0\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if analysis.KindOf(err) != analysis.KindConfigInvalid {
				t.Fatalf("error kind = %q, want config_invalid", analysis.KindOf(err))
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
