// Package config loads refinery settings. Defaults are merged with an
// optional yaml file, REFINERY_* environment variables and explicit
// overrides, in that order, into one immutable Config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Verbosity selects how much of a step result is returned to callers.
type Verbosity string

const (
	VerbosityMinimal  Verbosity = "minimal"
	VerbosityStandard Verbosity = "standard"
	VerbosityVerbose  Verbosity = "verbose"
)

// Valid reports whether v is a known verbosity.
func (v Verbosity) Valid() bool {
	switch v {
	case VerbosityMinimal, VerbosityStandard, VerbosityVerbose:
		return true
	}
	return false
}

// Config holds the complete application configuration.
type Config struct {
	Draft      DraftConfig      `mapstructure:"draft" yaml:"draft"`
	Thought    ThoughtConfig    `mapstructure:"thought" yaml:"thought"`
	Confidence ConfidenceConfig `mapstructure:"confidence" yaml:"confidence"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Coherence  CoherenceConfig  `mapstructure:"coherence" yaml:"coherence"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// DraftConfig bounds the draft refinement cycle.
type DraftConfig struct {
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// ThoughtConfig bounds the thought chain.
type ThoughtConfig struct {
	MaxDepth            int  `mapstructure:"max_depth" yaml:"max_depth"`
	EnableBranching     bool `mapstructure:"enable_branching" yaml:"enable_branching"`
	EnableSummarization bool `mapstructure:"enable_summarization" yaml:"enable_summarization"`
}

// ConfidenceConfig holds the floors shared by every machine.
type ConfidenceConfig struct {
	Threshold   float64 `mapstructure:"threshold" yaml:"threshold"`
	MinGrowth   float64 `mapstructure:"min_growth" yaml:"min_growth"`
	MinRevision float64 `mapstructure:"min_revision" yaml:"min_revision"`
}

// ProcessingConfig holds processing switches.
type ProcessingConfig struct {
	ContextWindow     int  `mapstructure:"context_window" yaml:"context_window"`
	EnableParallel    bool `mapstructure:"enable_parallel" yaml:"enable_parallel"`
	DynamicAdaptation bool `mapstructure:"dynamic_adaptation" yaml:"dynamic_adaptation"`
}

// StorageConfig locates the session database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls log output and response verbosity.
type LoggingConfig struct {
	Level     string    `mapstructure:"level" yaml:"level"`
	Verbosity Verbosity `mapstructure:"verbosity" yaml:"verbosity"`
}

// CoherenceConfig enables the model-backed coherence check when both the
// API key and model are set.
type CoherenceConfig struct {
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Model         string        `mapstructure:"model" yaml:"model"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmbeddingConfig sizes the hashing embedder.
type EmbeddingConfig struct {
	Dimensions int `mapstructure:"dimensions" yaml:"dimensions"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Draft:   DraftConfig{MaxIterations: 10},
		Thought: ThoughtConfig{MaxDepth: 20, EnableBranching: true, EnableSummarization: true},
		Confidence: ConfidenceConfig{
			Threshold:   0.5,
			MinGrowth:   0.05,
			MinRevision: 0.65,
		},
		Processing: ProcessingConfig{
			ContextWindow:     4096,
			EnableParallel:    false,
			DynamicAdaptation: true,
		},
		Storage:   StorageConfig{Path: "~/.refinery/sessions.db"},
		Logging:   LoggingConfig{Level: "info", Verbosity: VerbosityStandard},
		Coherence: CoherenceConfig{MaxConcurrent: 2, Timeout: 20 * time.Second},
		Embedding: EmbeddingConfig{Dimensions: 256},
	}
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Draft.MaxIterations > 0, "draft.max_iterations must be positive, got %d", c.Draft.MaxIterations)
	check(c.Thought.MaxDepth > 0, "thought.max_depth must be positive, got %d", c.Thought.MaxDepth)
	check(inUnit(c.Confidence.Threshold), "confidence.threshold must be in [0, 1], got %v", c.Confidence.Threshold)
	check(inUnit(c.Confidence.MinGrowth), "confidence.min_growth must be in [0, 1], got %v", c.Confidence.MinGrowth)
	check(inUnit(c.Confidence.MinRevision), "confidence.min_revision must be in [0, 1], got %v", c.Confidence.MinRevision)
	check(c.Processing.ContextWindow > 0, "processing.context_window must be positive, got %d", c.Processing.ContextWindow)
	check(c.Storage.Path != "", "storage.path must not be empty")
	check(c.Logging.Verbosity.Valid(), "logging.verbosity must be minimal, standard or verbose, got %q", c.Logging.Verbosity)
	check(c.Coherence.MaxConcurrent > 0, "coherence.max_concurrent must be positive, got %d", c.Coherence.MaxConcurrent)
	check(c.Coherence.Timeout > 0, "coherence.timeout must be positive, got %v", c.Coherence.Timeout)
	check(c.Embedding.Dimensions > 0, "embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	if c.Coherence.APIKey != "" {
		c.Coherence.APIKey = "********"
	}
	return yaml.Marshal(c)
}

// WriteFile writes the configuration to path as yaml, creating the parent
// directory.
func (c Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
