// Package config reads the worker and CLI settings from the environment and
// an optional YAML pipeline file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elihugi89/aistyler/internal/pipeline"
	"github.com/elihugi89/aistyler/internal/provider"
	"github.com/elihugi89/aistyler/internal/retry"
)

const (
	StageBackgroundRemoval    = "Background Removal"
	StageClothingSegmentation = "Clothing Segmentation"
)

type Config struct {
	NATSURL       string
	JobSubject    string
	WorkerQueue   string
	ResultSubject string
	JobTimeout    time.Duration

	WorkDir       string
	MaxImageBytes int64
	HTTPTimeout   time.Duration
	LogLevel      slog.Level

	ContentEnabled bool

	Retry     retry.Policy
	Providers provider.Settings
	Stages    []pipeline.StageDef
}

func Load() (Config, error) {
	cfg := Config{
		NATSURL:        getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:     getenv("PROCESS_SUBJECT", "wardrobe.process.requested"),
		WorkerQueue:    getenv("PROCESS_QUEUE", "wardrobe-workers"),
		ResultSubject:  getenv("RESULT_SUBJECT", "wardrobe.process.done"),
		WorkDir:        getenv("WORK_DIR", "./data/processed"),
		ContentEnabled: getenvBool("CONTENT_ENABLED", false),
		Providers: provider.Settings{
			RemoveBG: provider.RemoveBGConfig{
				APIKey:     os.Getenv("REMOVE_BG_API_KEY"),
				URL:        os.Getenv("REMOVE_BG_URL"),
				AccountURL: os.Getenv("REMOVE_BG_ACCOUNT_URL"),
				Size:       getenv("REMOVE_BG_SIZE", "auto"),
				Format:     getenv("REMOVE_BG_FORMAT", "png"),
			},
			HuggingFace: provider.HuggingFaceConfig{
				Token:    os.Getenv("HUGGING_FACE_API_KEY"),
				ModelURL: os.Getenv("HUGGING_FACE_MODEL_URL"),
			},
			Runway: provider.RunwayConfig{
				APIKey: os.Getenv("RUNWAY_API_KEY"),
				URL:    os.Getenv("RUNWAY_API_URL"),
				Model:  os.Getenv("RUNWAY_MODEL"),
			},
			Normalize: provider.NormalizeConfig{
				Format: getenv("NORMALIZE_FORMAT", "png"),
			},
		},
	}

	ints := []struct {
		key  string
		def  string
		dest *int
	}{
		{"RETRY_MAX_ATTEMPTS", strconv.Itoa(retry.DefaultMaxAttempts), &cfg.Retry.MaxAttempts},
		{"NORMALIZE_MAX_WIDTH", "1500", &cfg.Providers.Normalize.MaxWidth},
		{"NORMALIZE_MAX_HEIGHT", "1500", &cfg.Providers.Normalize.MaxHeight},
		{"NORMALIZE_QUALITY", "90", &cfg.Providers.Normalize.Quality},
	}
	for _, v := range ints {
		n, err := parsePositiveInt(getenv(v.key, v.def), v.key)
		if err != nil {
			return Config{}, err
		}
		*v.dest = n
	}

	durations := []struct {
		key  string
		def  string
		unit time.Duration
		dest *time.Duration
	}{
		{"RETRY_BASE_DELAY_MS", "1000", time.Millisecond, &cfg.Retry.BaseDelay},
		{"JOB_TIMEOUT_SECONDS", "120", time.Second, &cfg.JobTimeout},
		{"HTTP_TIMEOUT_SECONDS", "60", time.Second, &cfg.HTTPTimeout},
	}
	for _, v := range durations {
		n, err := parsePositiveInt(getenv(v.key, v.def), v.key)
		if err != nil {
			return Config{}, err
		}
		*v.dest = time.Duration(n) * v.unit
	}

	mb, err := parsePositiveInt(getenv("MAX_IMAGE_MB", "25"), "MAX_IMAGE_MB")
	if err != nil {
		return Config{}, err
	}
	cfg.MaxImageBytes = int64(mb) << 20

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "INFO"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	stages, err := loadStages()
	if err != nil {
		return Config{}, err
	}
	cfg.Stages = stages

	return cfg, nil
}

// loadStages picks PIPELINE_FILE, then PIPELINE_STAGES, then the defaults.
func loadStages() ([]pipeline.StageDef, error) {
	if path := getenv("PIPELINE_FILE", ""); path != "" {
		stages, err := LoadStagesFile(path)
		if err != nil {
			return nil, fmt.Errorf("load PIPELINE_FILE: %w", err)
		}
		return stages, nil
	}
	if list := getenv("PIPELINE_STAGES", ""); list != "" {
		stages, err := ParseStages(list)
		if err != nil {
			return nil, fmt.Errorf("parse PIPELINE_STAGES: %w", err)
		}
		return stages, nil
	}
	return DefaultStages(getenvBool("SEGMENTATION_ENABLED", false)), nil
}

// DefaultStages is background removal with Hugging Face as the fallback,
// optionally followed by garment segmentation.
func DefaultStages(segmentation bool) []pipeline.StageDef {
	stages := []pipeline.StageDef{
		{Name: StageBackgroundRemoval, Providers: []string{"removebg", "huggingface"}},
	}
	if segmentation {
		stages = append(stages, pipeline.StageDef{Name: StageClothingSegmentation, Providers: []string{"runway"}})
	}
	return stages
}

// ParseStages reads the compact form "Name=p1|p2;Other=p3".
func ParseStages(list string) ([]pipeline.StageDef, error) {
	var stages []pipeline.StageDef
	for _, part := range strings.Split(list, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, chain, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid stage %q (expected Name=provider|provider)", part)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid stage %q: missing name", part)
		}

		var providers []string
		for _, p := range strings.Split(chain, "|") {
			if p = strings.TrimSpace(p); p != "" {
				providers = append(providers, strings.ToLower(p))
			}
		}
		if len(providers) == 0 {
			return nil, fmt.Errorf("invalid stage %q: no providers", part)
		}
		stages = append(stages, pipeline.StageDef{Name: name, Providers: providers})
	}
	return stages, nil
}

type stagesFile struct {
	Stages []pipeline.StageDef `yaml:"stages"`
}

// LoadStagesFile reads a YAML document with a top-level "stages" list.
func LoadStagesFile(path string) ([]pipeline.StageDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f stagesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f.Stages, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(getenv(key, ""))
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}
