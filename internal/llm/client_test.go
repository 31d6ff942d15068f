package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewlens/internal/domain"
	"reviewlens/internal/logging"
)

type step struct {
	resp openai.ChatCompletionResponse
	err  error
}

// fakeChat replays a script of responses and records every request.
type fakeChat struct {
	calls  []openai.ChatCompletionRequest
	script []step
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, req)
	if idx >= len(f.script) {
		return okResponse("unscripted"), nil
	}
	return f.script[idx].resp, f.script[idx].err
}

func okResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model:   "fake-model",
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}}},
		Usage:   openai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
}

func newTestGenerator(api chatAPI) *Generator {
	return &Generator{
		api:         api,
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   200,
		budget:      2000,
		counter:     tokenCounter{},
		retryWait:   time.Millisecond,
		log:         logging.Nop(),
	}
}

func retrieved() []domain.ScoredReview {
	return []domain.ScoredReview{
		{Review: domain.Review{ReviewerName: "Ann", Rating: 1, Content: "bad parking", DateText: "2 months ago", BusinessName: "TestCafe"}, Score: 0.91, Seq: 1},
		{Review: domain.Review{ReviewerName: "Bob", Rating: 5, Content: "great food", DateText: "a week ago", PhotoCount: 2, BusinessName: "TestCafe"}, Score: 0.40, Seq: 2},
	}
}

func TestAnswerEmptyRetrievalNeverCallsAPI(t *testing.T) {
	api := &fakeChat{}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "how is parking?", nil, "TestCafe")

	assert.Empty(t, api.calls)
	assert.True(t, ans.Success)
	assert.Contains(t, ans.Text, "No relevant reviews found for TestCafe")
	assert.Equal(t, "test-model", ans.Model)
}

func TestAnswerGroundsPromptInReviews(t *testing.T) {
	api := &fakeChat{script: []step{{resp: okResponse("parking is a known problem")}}}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "how is parking?", retrieved(), "TestCafe")

	require.Len(t, api.calls, 1)
	req := api.calls[0]
	assert.Equal(t, "test-model", req.Model)
	assert.InDelta(t, 0.7, float64(req.Temperature), 1e-6)
	assert.Equal(t, 200, req.MaxTokens)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, answerSystem, req.Messages[0].Content)
	user := req.Messages[1].Content
	assert.Contains(t, user, "Business: TestCafe")
	assert.Contains(t, user, "bad parking")
	assert.Contains(t, user, "Rating: 1/5")
	assert.Contains(t, user, "Photos: 2")
	assert.Contains(t, user, "QUESTION: how is parking?")

	assert.True(t, ans.Success)
	assert.Equal(t, "parking is a known problem", ans.Text)
	assert.Equal(t, "fake-model", ans.Model)
	assert.Equal(t, domain.TokenUsage{Prompt: 100, Completion: 20, Total: 120}, ans.Usage)
	assert.Len(t, ans.Sources, 2)
}

func TestAnswerRetriesOnceOnRateLimit(t *testing.T) {
	api := &fakeChat{script: []step{
		{err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}},
		{resp: okResponse("recovered")},
	}}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "q", retrieved(), "")

	assert.Len(t, api.calls, 2)
	assert.True(t, ans.Success)
	assert.Equal(t, "recovered", ans.Text)
}

func TestAnswerRateLimitExhaustedFoldsIntoAnswer(t *testing.T) {
	limit := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	api := &fakeChat{script: []step{{err: limit}, {err: limit}}}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "q", retrieved(), "")

	assert.Len(t, api.calls, 2, "exactly one retry")
	assert.False(t, ans.Success)
	assert.Contains(t, ans.Text, "Could not generate an answer")
	assert.Equal(t, "test-model", ans.Model)
}

func TestAnswerDoesNotRetryOtherFailures(t *testing.T) {
	api := &fakeChat{script: []step{{err: errors.New("connection refused")}}}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "q", retrieved(), "")

	assert.Len(t, api.calls, 1)
	assert.False(t, ans.Success)
	assert.Contains(t, ans.Text, "connection refused")
}

func TestAnswerEmptyChoicesIsFailure(t *testing.T) {
	api := &fakeChat{script: []step{{resp: openai.ChatCompletionResponse{Model: "fake-model"}}}}
	g := newTestGenerator(api)

	ans := g.Answer(context.Background(), "q", retrieved(), "")

	assert.False(t, ans.Success)
	assert.Contains(t, ans.Text, "empty response")
}

func TestAnalyzePromptCarriesStatsAndReviews(t *testing.T) {
	api := &fakeChat{script: []step{{resp: okResponse("analysis text")}}}
	g := newTestGenerator(api)

	reviews := []domain.Review{
		{ReviewerName: "Ann", Rating: 5, Content: "great food", DateText: "a week ago"},
		{ReviewerName: "Bob", Rating: 3, Content: "ok service"},
	}
	stats := domain.BusinessStats{
		Business:      "TestCafe",
		Total:         2,
		AverageRating: 4.0,
		RatingCounts:  [5]int{0, 0, 1, 0, 1},
		FrequentTerms: []string{"food", "service"},
	}
	ans := g.Analyze(context.Background(), "TestCafe", reviews, stats)

	require.Len(t, api.calls, 1)
	assert.Equal(t, analysisSystem, api.calls[0].Messages[0].Content)
	user := api.calls[0].Messages[1].Content
	assert.Contains(t, user, "Analyze the customer reviews of TestCafe")
	assert.Contains(t, user, "Total reviews: 2")
	assert.Contains(t, user, "Average rating: 4.0/5")
	assert.Contains(t, user, "5-star: 1")
	assert.Contains(t, user, "3-star: 1")
	assert.Contains(t, user, "Frequent terms: food, service")
	assert.Contains(t, user, "great food")
	assert.Contains(t, user, "Recurring complaints")

	assert.True(t, ans.Success)
	assert.Equal(t, "analysis text", ans.Text)
}

func TestAnalyzeEmptyReviewsNeverCallsAPI(t *testing.T) {
	api := &fakeChat{}
	g := newTestGenerator(api)

	ans := g.Analyze(context.Background(), "Ghost", nil, domain.BusinessStats{Business: "Ghost"})

	assert.Empty(t, api.calls)
	assert.True(t, ans.Success)
	assert.Contains(t, ans.Text, "No relevant reviews")
}

func TestSummarizePrompt(t *testing.T) {
	api := &fakeChat{script: []step{{resp: okResponse("short summary")}}}
	g := newTestGenerator(api)

	reviews := []domain.Review{
		{Rating: 4, Content: "friendly staff", DateText: "3 days ago"},
		{Rating: 2, Content: "slow service"},
	}
	ans := g.Summarize(context.Background(), "TestCafe", reviews)

	require.Len(t, api.calls, 1)
	assert.Equal(t, summarySystem, api.calls[0].Messages[0].Content)
	user := api.calls[0].Messages[1].Content
	assert.Contains(t, user, "Summarize the following customer reviews of TestCafe (2 reviews shown)")
	assert.Contains(t, user, "friendly staff")
	assert.Contains(t, user, "slow service")

	assert.True(t, ans.Success)
	assert.Equal(t, "short summary", ans.Text)
}
