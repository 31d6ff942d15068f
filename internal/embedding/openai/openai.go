package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"reviewlens/internal/domain"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// Ollama-native response shape, so a local model server works unchanged.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  atomic.Int64
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	log        zerolog.Logger
}

// Config configures the embeddings client. APIKeyEnv names the environment
// variable holding the key; the key itself never lives in config files.
type Config struct {
	BaseURL      string
	APIKeyEnv    string
	Model        string
	Timeout      time.Duration
	RateLimitRPS int
}

const defaultBaseURL = "https://api.openai.com/v1"

// NewClient creates a new embeddings client using the provided configuration.
// A key is mandatory against the hosted OpenAI endpoint; custom base URLs
// (local model servers) may run keyless.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if key == "" && cfg.BaseURL == defaultBaseURL {
		return nil, domain.Ef(domain.KindValidation, "missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		maxRetries: 5,
		log:        log,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai/" + c.model }

// Dimension returns the dimensionality of the produced vectors. It is zero
// until the first successful Embed call. Atomic because batches embed from
// several goroutines at once.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Embed returns an embedding vector for the given text. Transient upstream
// failures (429, 5xx, network) are retried with capped exponential backoff,
// honoring Retry-After when present.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.E(domain.KindEmbedding, "rate limiter wait", err)
		}
		body := reqBody{Input: text, Prompt: text, Model: c.model}
		data, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, domain.E(domain.KindEmbedding, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
					return nil, domain.E(domain.KindEmbedding, "embed request", lastErr)
				}
				continue
			}
			return nil, domain.E(domain.KindEmbedding, "embed request", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("embeddings endpoint returned %s", resp.Status)
			c.log.Warn().Int("attempt", attempt).Str("status", resp.Status).Dur("delay", delay).Msg("embedding call throttled, retrying")
			if attempt < c.maxRetries {
				if err := sleepCtx(ctx, delay); err != nil {
					return nil, domain.E(domain.KindEmbedding, "embed request", lastErr)
				}
				continue
			}
			return nil, domain.E(domain.KindEmbedding, "embed request", lastErr)
		}

		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, domain.Ef(domain.KindEmbedding, "embeddings endpoint returned %s", resp.Status)
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
					return nil, domain.E(domain.KindEmbedding, "read response", lastErr)
				}
				continue
			}
			return nil, domain.E(domain.KindEmbedding, "read response", err)
		}
		if v := decodeEmbedding(payload); len(v) > 0 {
			c.dimension.CompareAndSwap(0, int64(len(v)))
			return v, nil
		}
		lastErr = fmt.Errorf("no embedding in response")
		if attempt < c.maxRetries {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return nil, domain.E(domain.KindEmbedding, "decode response", lastErr)
			}
			continue
		}
	}
	return nil, domain.E(domain.KindEmbedding, "decode response", lastErr)
}

// decodeEmbedding tries the OpenAI-compatible shape first, then the
// Ollama-native { "embedding": [...] } shape.
func decodeEmbedding(payload []byte) []float32 {
	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding
		}
	}
	var ollamaOut struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil {
		return ollamaOut.Embedding
	}
	return nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
