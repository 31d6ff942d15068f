// Package llm turns retrieved reviews into natural-language output through
// an OpenAI-compatible chat API. Generation failures fold into the returned
// Answer rather than surfacing as errors, so callers always have something
// presentable.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"reviewlens/internal/domain"
)

// chatAPI is the slice of the OpenAI client the generator uses; tests
// substitute a recording fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the chat client. APIKeyEnv names the environment
// variable holding the key; the key itself never lives in config files.
type Config struct {
	Model              string
	BaseURL            string
	APIKeyEnv          string
	Temperature        float64
	MaxTokens          int
	Timeout            time.Duration
	ContextTokenBudget int
}

const defaultBaseURL = "https://api.openai.com/v1"

// Generator builds grounded prompts and calls the chat API. One instance
// serves the whole process; it holds no per-request state.
type Generator struct {
	api         chatAPI
	model       string
	temperature float32
	maxTokens   int
	budget      int
	counter     tokenCounter
	retryWait   time.Duration
	log         zerolog.Logger
}

// New creates a generator from config. A key is mandatory against the hosted
// OpenAI endpoint; custom base URLs (local model servers) may run keyless.
func New(cfg Config, log zerolog.Logger) (*Generator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if key == "" && cfg.BaseURL == defaultBaseURL {
		return nil, domain.Ef(domain.KindValidation, "missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = 3000
	}
	cc := openai.DefaultConfig(key)
	cc.BaseURL = cfg.BaseURL
	cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Generator{
		api:         openai.NewClientWithConfig(cc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		budget:      cfg.ContextTokenBudget,
		counter:     newTokenCounter(log),
		retryWait:   time.Second,
		log:         log,
	}, nil
}

// Answer responds to a query grounded in the retrieved reviews. An empty
// retrieval returns an explicit "no relevant reviews" answer without calling
// the chat API, so the model never invents grounding.
func (g *Generator) Answer(ctx context.Context, query string, retrieved []domain.ScoredReview, business string) domain.Answer {
	if len(retrieved) == 0 {
		return domain.Answer{Text: noReviewsText(business), Success: true, Model: g.model}
	}
	grounding := groundingContext(retrieved, g.budget, g.counter)
	ans := g.complete(ctx, answerSystem, buildAnswerPrompt(query, grounding, business))
	ans.Sources = retrieved
	return ans
}

// Analyze produces the fixed analytical report (sentiment, themes,
// strengths, complaints) across all reviews of a business.
func (g *Generator) Analyze(ctx context.Context, business string, reviews []domain.Review, stats domain.BusinessStats) domain.Answer {
	if len(reviews) == 0 {
		return domain.Answer{Text: noReviewsText(business), Success: true, Model: g.model}
	}
	grounding := reviewsContext(reviews, g.budget, g.counter)
	return g.complete(ctx, analysisSystem, buildAnalysisPrompt(business, grounding, stats))
}

// Summarize produces a short prose summary of a business's reviews.
func (g *Generator) Summarize(ctx context.Context, business string, reviews []domain.Review) domain.Answer {
	if len(reviews) == 0 {
		return domain.Answer{Text: noReviewsText(business), Success: true, Model: g.model}
	}
	grounding := reviewsContext(reviews, g.budget, g.counter)
	return g.complete(ctx, summarySystem, buildSummaryPrompt(business, grounding, len(reviews)))
}

// complete runs one chat completion. A rate-limited call gets exactly one
// retry with backoff; every other failure surfaces immediately, folded into
// the Answer.
func (g *Generator) complete(ctx context.Context, system, user string) domain.Answer {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retryWait
	resp, err := backoff.RetryWithData(func() (openai.ChatCompletionResponse, error) {
		resp, err := g.api.CreateChatCompletion(ctx, req)
		if err != nil {
			if isRateLimited(err) {
				g.log.Warn().Err(err).Msg("chat completion rate limited, retrying")
				return resp, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
			}
			return resp, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx))
	if err != nil {
		g.log.Error().Err(err).Msg("chat completion failed")
		return domain.Answer{Text: failureText(err), Success: false, Model: g.model}
	}
	if len(resp.Choices) == 0 {
		g.log.Error().Msg("chat completion returned no choices")
		return domain.Answer{Text: failureText(errors.New("empty response from model")), Success: false, Model: g.model}
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return domain.Answer{
		Text:    resp.Choices[0].Message.Content,
		Success: true,
		Model:   model,
		Usage: domain.TokenUsage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests
}
