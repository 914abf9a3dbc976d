// Package config provides configuration management for the analyzer.
// Configuration is loaded from a TOML file with defaults and environment
// variable overrides; the loaded Settings value is passed into the
// pipeline rather than read from globals.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

// SamplingRates are the permitted frame sampling rates in FPS.
var SamplingRates = []int{1, 3, 5, 10}

// Settings is the full configuration surface.
type Settings struct {
	Video      VideoSettings      `mapstructure:"video"`
	Classifier ClassifierSettings `mapstructure:"classifier"`
	Cycles     CycleSettings      `mapstructure:"cycles"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	Report     ReportSettings     `mapstructure:"report"`
	Timeouts   TimeoutSettings    `mapstructure:"timeouts"`
	Server     ServerSettings     `mapstructure:"server"`
	Log        LogSettings        `mapstructure:"log"`
	DataDir    string             `mapstructure:"data_dir"`
}

type VideoSettings struct {
	FPS       int `mapstructure:"fps"`
	MaxFrames int `mapstructure:"max_frames"` // 0 = unbounded
}

type ClassifierSettings struct {
	Model            string  `mapstructure:"model"`
	Concurrency      int     `mapstructure:"concurrency"`
	TokenLimit       int     `mapstructure:"token_limit"`
	Temperature      float64 `mapstructure:"temperature"`
	RetryAttempts    int     `mapstructure:"retry_attempts"`
	RetryInitialMs   int     `mapstructure:"retry_initial_ms"`
	BreakerThreshold int     `mapstructure:"breaker_threshold"`
	BaseURL          string  `mapstructure:"base_url"` // OpenAI-compatible endpoint
}

type CycleSettings struct {
	CompleteMinSeconds float64 `mapstructure:"complete_min_seconds"`
	PartialMinSeconds  float64 `mapstructure:"partial_min_seconds"`
}

type TelemetrySettings struct {
	Dir string `mapstructure:"dir"`
}

type ReportSettings struct {
	Narrative      bool    `mapstructure:"narrative"`
	NarrativeModel string  `mapstructure:"narrative_model"`
	TokenLimit     int     `mapstructure:"token_limit"`
	Temperature    float64 `mapstructure:"temperature"`
	Dir            string  `mapstructure:"dir"`
	Template       string  `mapstructure:"template"`
}

type TimeoutSettings struct {
	ExtractS  int `mapstructure:"extract_s"`
	ClassifyS int `mapstructure:"classify_s"`
	EnrichS   int `mapstructure:"enrich_s"`
	ReportS   int `mapstructure:"report_s"`
	TotalS    int `mapstructure:"total_s"`
}

type ServerSettings struct {
	Port     int    `mapstructure:"port"`
	WatchDir string `mapstructure:"watch_dir"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

func (t TimeoutSettings) Extract() time.Duration  { return time.Duration(t.ExtractS) * time.Second }
func (t TimeoutSettings) Classify() time.Duration { return time.Duration(t.ClassifyS) * time.Second }
func (t TimeoutSettings) Enrich() time.Duration   { return time.Duration(t.EnrichS) * time.Second }
func (t TimeoutSettings) Report() time.Duration   { return time.Duration(t.ReportS) * time.Second }
func (t TimeoutSettings) Total() time.Duration    { return time.Duration(t.TotalS) * time.Second }

func (c ClassifierSettings) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

// Load reads the configuration file at path (or the defaults when path is
// empty and no config.toml is present) plus EXAN_* environment overrides.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("EXAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, analysis.NewError(analysis.KindConfigInvalid, "config", "", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, analysis.NewError(analysis.KindConfigInvalid, "config", "", err)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, analysis.NewError(analysis.KindConfigInvalid, "config", "",
			fmt.Errorf("unmarshaling config: %w", err))
	}

	if err := Validate(settings); err != nil {
		return nil, analysis.NewError(analysis.KindConfigInvalid, "config", "", err)
	}

	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".exan")

	v.SetDefault("video.fps", 3)
	v.SetDefault("video.max_frames", 0)

	v.SetDefault("classifier.model", "gemini-2.5-flash")
	v.SetDefault("classifier.concurrency", 1)
	v.SetDefault("classifier.token_limit", 200)
	v.SetDefault("classifier.temperature", 0.2)
	v.SetDefault("classifier.retry_attempts", 3)
	v.SetDefault("classifier.retry_initial_ms", 1000)
	v.SetDefault("classifier.breaker_threshold", 10)
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")

	v.SetDefault("cycles.complete_min_seconds", 5.0)
	v.SetDefault("cycles.partial_min_seconds", 3.0)

	v.SetDefault("telemetry.dir", "simulation_report")

	v.SetDefault("report.narrative", false)
	v.SetDefault("report.narrative_model", "gemini-2.5-flash")
	v.SetDefault("report.token_limit", 2000)
	v.SetDefault("report.temperature", 0.7)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.template", "cycle_report")

	v.SetDefault("timeouts.extract_s", 300)
	v.SetDefault("timeouts.classify_s", 1800)
	v.SetDefault("timeouts.enrich_s", 60)
	v.SetDefault("timeouts.report_s", 300)
	v.SetDefault("timeouts.total_s", 3600)

	v.SetDefault("server.port", 8005)
	v.SetDefault("server.watch_dir", "")

	v.SetDefault("log.level", "info")
}

// Validate checks the settings invariants the pipeline relies on.
func Validate(s *Settings) error {
	validFPS := false
	for _, r := range SamplingRates {
		if s.Video.FPS == r {
			validFPS = true
			break
		}
	}
	if !validFPS {
		return fmt.Errorf("video.fps must be one of %v, got %d", SamplingRates, s.Video.FPS)
	}

	if s.Video.MaxFrames < 0 {
		return fmt.Errorf("video.max_frames must be >= 0, got %d", s.Video.MaxFrames)
	}
	if s.Classifier.Concurrency < 1 {
		return fmt.Errorf("classifier.concurrency must be >= 1, got %d", s.Classifier.Concurrency)
	}
	if s.Classifier.Model == "" {
		return fmt.Errorf("classifier.model must not be empty")
	}
	if s.Classifier.RetryAttempts < 1 {
		return fmt.Errorf("classifier.retry_attempts must be >= 1, got %d", s.Classifier.RetryAttempts)
	}
	if s.Classifier.BreakerThreshold < 1 {
		return fmt.Errorf("classifier.breaker_threshold must be >= 1, got %d", s.Classifier.BreakerThreshold)
	}
	if s.Cycles.PartialMinSeconds > s.Cycles.CompleteMinSeconds {
		return fmt.Errorf("cycles.partial_min_seconds (%.1f) must not exceed cycles.complete_min_seconds (%.1f)",
			s.Cycles.PartialMinSeconds, s.Cycles.CompleteMinSeconds)
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Server.Port)
	}
	return nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
