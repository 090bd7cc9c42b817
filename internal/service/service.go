// Package service wires the store, scoring collaborators and machines
// from one Config value.
package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/draft"
	"github.com/nvandessel/refinery/internal/integrator"
	"github.com/nvandessel/refinery/internal/llm"
	"github.com/nvandessel/refinery/internal/logging"
	"github.com/nvandessel/refinery/internal/metrics"
	"github.com/nvandessel/refinery/internal/scoring"
	"github.com/nvandessel/refinery/internal/store"
	"github.com/nvandessel/refinery/internal/thought"
)

// Service owns every long-lived component of a refinery process.
type Service struct {
	Config     config.Config
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Store      store.SessionStore
	Scorer     *scoring.Scorer
	Drafts     *draft.Machine
	Thoughts   *thought.Machine
	Integrator *integrator.Integrator

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger  zerolog.Logger
	store   store.SessionStore
	sampler scoring.ResourceSampler
}

// Option configures New.
type Option func(*options)

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore uses st instead of opening the configured database.
func WithStore(st store.SessionStore) Option {
	return func(o *options) { o.store = st }
}

// WithSampler replaces the runtime heap sampler.
func WithSampler(s scoring.ResourceSampler) Option {
	return func(o *options) { o.sampler = s }
}

// New validates cfg and builds the service.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: zerolog.Nop(), sampler: scoring.RuntimeSampler{}}
	for _, opt := range opts {
		opt(&o)
	}

	st := o.store
	if st == nil {
		sq, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		st = sq
	}

	mt := metrics.New()
	policy := scoring.Policy{
		Threshold:   cfg.Confidence.Threshold,
		MinGrowth:   cfg.Confidence.MinGrowth,
		MinRevision: cfg.Confidence.MinRevision,
	}

	coherence := llm.NewCoherenceChecker(llm.CoherenceConfig{
		APIKey:        cfg.Coherence.APIKey,
		Model:         cfg.Coherence.Model,
		MaxConcurrent: cfg.Coherence.MaxConcurrent,
		Timeout:       cfg.Coherence.Timeout,
	}, logging.Component(o.logger, "coherence"))

	scorer := scoring.New(
		scoring.WithEmbedder(llm.NewHashEmbedder(cfg.Embedding.Dimensions)),
		scoring.WithCoherence(coherence),
		scoring.WithSampler(o.sampler),
		scoring.WithParallel(cfg.Processing.EnableParallel),
		scoring.WithLogger(logging.Component(o.logger, "scoring")),
	)

	drafts := draft.New(st, scorer, draft.Config{
		MaxIterations:     cfg.Draft.MaxIterations,
		Policy:            policy,
		ContextWindow:     cfg.Processing.ContextWindow,
		DynamicAdaptation: cfg.Processing.DynamicAdaptation,
	}, draft.WithLogger(logging.Component(o.logger, "draft")), draft.WithMetrics(mt))

	thoughts := thought.New(scorer, thought.Config{
		MaxDepth:            cfg.Thought.MaxDepth,
		EnableBranching:     cfg.Thought.EnableBranching,
		EnableSummarization: cfg.Thought.EnableSummarization,
		DynamicAdaptation:   cfg.Processing.DynamicAdaptation,
		Policy:              policy,
		ContextWindow:       cfg.Processing.ContextWindow,
	}, thought.WithLogger(logging.Component(o.logger, "thought")), thought.WithMetrics(mt))

	integ := integrator.New(thoughts, drafts, scorer, policy,
		integrator.WithLogger(logging.Component(o.logger, "integrator")),
		integrator.WithMetrics(mt),
	)

	o.logger.Debug().
		Str("storage", cfg.Storage.Path).
		Bool("coherence_model", cfg.Coherence.APIKey != "" && cfg.Coherence.Model != "").
		Bool("parallel", cfg.Processing.EnableParallel).
		Msg("service ready")

	return &Service{
		Config:     cfg,
		Logger:     o.logger,
		Metrics:    mt,
		Store:      st,
		Scorer:     scorer,
		Drafts:     drafts,
		Thoughts:   thoughts,
		Integrator: integ,
	}, nil
}

// Close releases the session store. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Store.Close()
	})
	return s.closeErr
}
