package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "REFINERY"

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is a yaml config file. A missing file is not an error.
	Path string

	// Overrides take precedence over every other source, keyed by dotted
	// config key (e.g. "confidence.threshold").
	Overrides map[string]any

	// Environ replaces the process environment when non-nil, in
	// os.Environ "KEY=value" form.
	Environ []string
}

// Load merges defaults, the config file, the environment and overrides.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if opts.Environ == nil {
		v.AutomaticEnv()
	}

	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if opts.Environ != nil {
		applyEnviron(v, opts.Environ)
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.Path = ExpandHome(cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnviron sets every known key that has a matching REFINERY_* entry.
func applyEnviron(v *viper.Viper, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, val, ok := strings.Cut(kv, "="); ok {
			env[k] = val
		}
	}
	for _, key := range v.AllKeys() {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if val, ok := env[name]; ok {
			v.Set(key, val)
		}
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("draft.max_iterations", d.Draft.MaxIterations)
	v.SetDefault("thought.max_depth", d.Thought.MaxDepth)
	v.SetDefault("thought.enable_branching", d.Thought.EnableBranching)
	v.SetDefault("thought.enable_summarization", d.Thought.EnableSummarization)
	v.SetDefault("confidence.threshold", d.Confidence.Threshold)
	v.SetDefault("confidence.min_growth", d.Confidence.MinGrowth)
	v.SetDefault("confidence.min_revision", d.Confidence.MinRevision)
	v.SetDefault("processing.context_window", d.Processing.ContextWindow)
	v.SetDefault("processing.enable_parallel", d.Processing.EnableParallel)
	v.SetDefault("processing.dynamic_adaptation", d.Processing.DynamicAdaptation)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.verbosity", string(d.Logging.Verbosity))
	v.SetDefault("coherence.api_key", d.Coherence.APIKey)
	v.SetDefault("coherence.model", d.Coherence.Model)
	v.SetDefault("coherence.max_concurrent", d.Coherence.MaxConcurrent)
	v.SetDefault("coherence.timeout", d.Coherence.Timeout.String())
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}
