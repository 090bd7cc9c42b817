package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// CoherenceChecker rates how coherent a piece of text is, in [0, 1].
type CoherenceChecker interface {
	CheckCoherence(ctx context.Context, text string) (float64, error)
}

// HeuristicCoherence scores text from its sentence lengths and count.
type HeuristicCoherence struct{}

// CheckCoherence never fails.
func (HeuristicCoherence) CheckCoherence(_ context.Context, text string) (float64, error) {
	return heuristicCoherence(text), nil
}

const (
	idealMinWords   = 8
	idealMaxWords   = 25
	noSentenceScore = 0.3
)

func heuristicCoherence(text string) float64 {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return noSentenceScore
	}

	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	avg := float64(words) / float64(len(sentences))

	var lengthScore float64
	switch {
	case avg < idealMinWords:
		lengthScore = avg / idealMinWords
	case avg > idealMaxWords:
		lengthScore = math.Max(0, 1-(avg-idealMaxWords)/idealMaxWords)
	default:
		lengthScore = 1
	}
	countScore := math.Min(1, float64(len(sentences))/3)

	return 0.6*lengthScore + 0.4*countScore
}

// SplitSentences splits text on terminal punctuation and drops blanks.
func SplitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CoherenceConfig configures the model-backed checker.
type CoherenceConfig struct {
	APIKey        string
	Model         string
	MaxConcurrent int
	Timeout       time.Duration
	MaxTokens     int64
}

// Enabled reports whether both credentials needed for the model check are set.
func (c CoherenceConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// completeFunc sends one prompt and returns the reply text.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// AnthropicCoherence asks a Claude model to rate coherence. Failures fall
// back to the heuristic so a flaky API never blocks the chain.
type AnthropicCoherence struct {
	complete completeFunc
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewAnthropicCoherence creates a checker backed by the Messages API.
func NewAnthropicCoherence(cfg CoherenceConfig, logger zerolog.Logger) *AnthropicCoherence {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	model := cfg.Model

	complete := func(ctx context.Context, prompt string) (string, error) {
		response, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("API call failed: %w", err)
		}

		var text string
		for _, block := range response.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return text, nil
	}

	return newAnthropicCoherence(complete, cfg, logger)
}

func newAnthropicCoherence(complete completeFunc, cfg CoherenceConfig, logger zerolog.Logger) *AnthropicCoherence {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AnthropicCoherence{
		complete: complete,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:  timeout,
		logger:   logger,
	}
}

// CheckCoherence rates text with the model, falling back to the heuristic
// on any API or parse failure. Only context cancellation is returned.
func (a *AnthropicCoherence) CheckCoherence(ctx context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return noSentenceScore, nil
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire coherence slot: %w", err)
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.complete(callCtx, CoherencePrompt(text))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		a.logger.Warn().Err(err).Msg("coherence check failed, using heuristic")
		return heuristicCoherence(text), nil
	}

	result, err := ParseCoherenceResponse(reply)
	if err != nil {
		a.logger.Warn().Err(err).Msg("unparseable coherence reply, using heuristic")
		return heuristicCoherence(text), nil
	}
	return result.Coherence, nil
}

// NewCoherenceChecker returns the model-backed checker when credentials are
// configured and the heuristic otherwise.
func NewCoherenceChecker(cfg CoherenceConfig, logger zerolog.Logger) CoherenceChecker {
	if cfg.Enabled() {
		return NewAnthropicCoherence(cfg, logger)
	}
	return HeuristicCoherence{}
}
