// Package generate produces a fresh phrase from a text-generation API.
package generate

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"phrasebot/internal/metrics"
	logx "phrasebot/pkg/logx"
)

const (
	DefaultTimeout = 20 * time.Second
	DefaultModel   = "gpt-4o-mini"
	// MaxPhraseRunes caps generated text.
	MaxPhraseRunes = 280
)

const defaultPrompt = "Write one short, melancholic, darkly witty line in the voice of a tired young city dweller. Reply with the line only, no quotes."

var defaultFallback = []string{
	"Ironed the shirt, forgot to iron the soul.",
	"Cleaned the flat, left the heart for tomorrow.",
	"Everything is fine, said the coffee, going cold.",
}

// GenerationError wraps a failed or empty generation.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return "generate with " + e.Model + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

var errEmpty = errors.New("empty completion")

type Config struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Model    string
	Prompt   string
	Timeout  time.Duration
	Fallback []string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if strings.TrimSpace(c.Prompt) == "" {
		c.Prompt = defaultPrompt
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	var fb []string
	for _, f := range c.Fallback {
		if f = strings.TrimSpace(f); f != "" {
			fb = append(fb, f)
		}
	}
	if len(fb) == 0 {
		fb = defaultFallback
	}
	c.Fallback = fb
	return c
}

// Completer is the API surface the generator needs. *Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
}

type Generator struct {
	mu     sync.Mutex
	cfg    Config
	client Completer
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Generator {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Generator{log: log.With(logx.String("comp", "generate"))}
	g.Apply(cfg)
	return g
}

// Apply swaps the config and rebuilds the HTTP client.
func (g *Generator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	g.mu.Lock()
	g.cfg = cfg
	g.client = NewClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
	g.mu.Unlock()
}

func (g *Generator) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Enabled
}

// Generate asks the API for one phrase.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	g.mu.Lock()
	cfg, client := g.cfg, g.client
	g.mu.Unlock()

	if !cfg.Enabled {
		return "", &GenerationError{Model: cfg.Model, Err: errors.New("generator disabled")}
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    []ChatMessage{{Role: RoleUser, Content: cfg.Prompt}},
		Temperature: 0.9,
		MaxTokens:   120,
	})
	if err == nil && (len(resp.Choices) == 0 || clean(resp.Choices[0].Message.Content) == "") {
		err = errEmpty
	}
	metrics.ObserveGeneration(cfg.Model, start, err)
	if err != nil {
		return "", &GenerationError{Model: cfg.Model, Err: err}
	}
	return clean(resp.Choices[0].Message.Content), nil
}

// Phrase returns generated text, or a fallback phrase when generation
// fails. It never returns an error; fallback reports which one was used.
func (g *Generator) Phrase(ctx context.Context) (text string, fallback bool) {
	text, err := g.Generate(ctx)
	if err == nil {
		return text, false
	}
	g.log.Warn("generation failed; using fallback", logx.Err(err))

	g.mu.Lock()
	fb := g.cfg.Fallback
	g.mu.Unlock()
	return fb[rand.IntN(len(fb))], true
}

// clean strips quotes and surrounding space and caps the length.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(`"`, "", "“", "", "”", "", "«", "", "»", "").Replace(s)
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) > MaxPhraseRunes {
		s = string(rs[:MaxPhraseRunes]) + "…"
	}
	return s
}
