package llm

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHeuristicCoherence(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{
			name: "no sentences",
			text: "   ",
			want: 0.3,
		},
		{
			name: "three ideal sentences",
			text: "The cache evicts stale entries before every insert. " +
				"Each eviction pass walks the list from the oldest entry. " +
				"Entries older than the TTL are removed from both maps.",
			want: 1.0,
		},
		{
			name: "one short sentence",
			text: "Fix the bug.",
			// length 3/8, count 1/3
			want: 0.6*(3.0/8.0) + 0.4*(1.0/3.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeuristicCoherence{}.CheckCoherence(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("CheckCoherence() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CheckCoherence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeuristicCoherence_LongSentencesPenalized(t *testing.T) {
	long := strings.Repeat("word ", 60) + "."
	got, _ := HeuristicCoherence{}.CheckCoherence(context.Background(), long)
	// avg 60 words: length score 0, count 1/3
	want := 0.4 * (1.0 / 3.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("CheckCoherence() = %v, want %v", got, want)
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("One. Two!  Three?  ")
	if len(got) != 3 {
		t.Fatalf("SplitSentences() = %v, want 3 sentences", got)
	}
	if got[2] != "Three" {
		t.Errorf("SplitSentences()[2] = %q, want Three", got[2])
	}
}

func TestAnthropicCoherence_ParsesReply(t *testing.T) {
	complete := func(_ context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "<text>") {
			t.Errorf("prompt missing text block: %s", prompt)
		}
		return "```json\n{\"coherence\": 0.82, \"reasoning\": \"flows well\"}\n```", nil
	}
	c := newAnthropicCoherence(complete, CoherenceConfig{MaxConcurrent: 1}, zerolog.Nop())

	got, err := c.CheckCoherence(context.Background(), "Some text to rate.")
	if err != nil {
		t.Fatalf("CheckCoherence() error = %v", err)
	}
	if got != 0.82 {
		t.Errorf("CheckCoherence() = %v, want 0.82", got)
	}
}

func TestAnthropicCoherence_FallsBackToHeuristic(t *testing.T) {
	text := "Fix the bug."
	want := heuristicCoherence(text)

	tests := []struct {
		name     string
		complete completeFunc
	}{
		{
			name: "api error",
			complete: func(context.Context, string) (string, error) {
				return "", errors.New("overloaded")
			},
		},
		{
			name: "garbage reply",
			complete: func(context.Context, string) (string, error) {
				return "I think it is fine", nil
			},
		},
		{
			name: "out of range",
			complete: func(context.Context, string) (string, error) {
				return `{"coherence": 4}`, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAnthropicCoherence(tt.complete, CoherenceConfig{}, zerolog.Nop())
			got, err := c.CheckCoherence(context.Background(), text)
			if err != nil {
				t.Fatalf("CheckCoherence() error = %v", err)
			}
			if got != want {
				t.Errorf("CheckCoherence() = %v, want heuristic %v", got, want)
			}
		})
	}
}

func TestAnthropicCoherence_LimitsConcurrency(t *testing.T) {
	var inFlight, peak int32
	complete := func(context.Context, string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return `{"coherence": 0.5}`, nil
	}
	c := newAnthropicCoherence(complete, CoherenceConfig{MaxConcurrent: 2}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.CheckCoherence(context.Background(), "Rate me.")
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestNewCoherenceChecker(t *testing.T) {
	if _, ok := NewCoherenceChecker(CoherenceConfig{}, zerolog.Nop()).(HeuristicCoherence); !ok {
		t.Error("expected heuristic checker without credentials")
	}
	if _, ok := NewCoherenceChecker(CoherenceConfig{APIKey: "k"}, zerolog.Nop()).(HeuristicCoherence); !ok {
		t.Error("expected heuristic checker without a model")
	}
	cfg := CoherenceConfig{APIKey: "k", Model: "claude-haiku-4-5"}
	if _, ok := NewCoherenceChecker(cfg, zerolog.Nop()).(*AnthropicCoherence); !ok {
		t.Error("expected anthropic checker with credentials")
	}
}
