package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewlens/internal/domain"
)

func scored(content string, rating int, score float64) domain.ScoredReview {
	return domain.ScoredReview{
		Review: domain.Review{ReviewerName: "R", Rating: rating, Content: content, DateText: "a week ago"},
		Score:  score,
	}
}

func TestGroundingContextStopsAtBudget(t *testing.T) {
	counter := tokenCounter{} // character estimate
	long := strings.Repeat("word ", 40)
	rs := []domain.ScoredReview{
		scored(long, 5, 0.9),
		scored(long, 4, 0.8),
		scored(long, 3, 0.7),
	}
	oneBlock := counter.Count(scoredBlock(1, rs[0]))

	got := groundingContext(rs, oneBlock*2, counter)

	assert.Contains(t, got, "Review 1")
	assert.Contains(t, got, "Review 2")
	assert.NotContains(t, got, "Review 3")
}

func TestGroundingContextAlwaysIncludesFirstBlock(t *testing.T) {
	counter := tokenCounter{}
	huge := scored(strings.Repeat("parking trouble every evening ", 200), 1, 0.95)

	got := groundingContext([]domain.ScoredReview{huge}, 30, counter)

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, counter.Count(got), 32, "truncated near the budget")
	assert.Contains(t, got, "Review 1")
}

func TestGroundingContextEmpty(t *testing.T) {
	assert.Empty(t, groundingContext(nil, 100, tokenCounter{}))
}

func TestScoredBlockFields(t *testing.T) {
	sr := domain.ScoredReview{
		Review: domain.Review{
			ReviewerName: "Ann",
			Rating:       4,
			Content:      "cozy place",
			DateText:     "2 months ago",
			PhotoCount:   3,
		},
		Score: 0.8123,
	}
	block := scoredBlock(2, sr)

	assert.Contains(t, block, "Review 2 (relevance 0.81):")
	assert.Contains(t, block, "Reviewer: Ann")
	assert.Contains(t, block, "Rating: 4/5")
	assert.Contains(t, block, "Date: 2 months ago")
	assert.Contains(t, block, "Photos: 3")
	assert.Contains(t, block, "Text: cozy place")
}

func TestScoredBlockPlaceholders(t *testing.T) {
	block := scoredBlock(1, domain.ScoredReview{Review: domain.Review{Rating: 3}})

	assert.Contains(t, block, "Reviewer: Anonymous")
	assert.Contains(t, block, "Date: unknown date")
	assert.Contains(t, block, "Text: (no written review)")
	assert.NotContains(t, block, "Photos:")
}

func TestDisplayDateFallsBackToResolvedDate(t *testing.T) {
	r := domain.Review{Date: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)}
	assert.Equal(t, "2024-03-09", displayDate(r))

	r.DateText = "2 months ago"
	assert.Equal(t, "2 months ago", displayDate(r))
}

func TestReviewsContextPlainBlocks(t *testing.T) {
	reviews := []domain.Review{
		{Rating: 5, Content: "excellent pastries", DateText: "a day ago"},
		{Rating: 2, Content: ""},
	}
	got := reviewsContext(reviews, 10_000, tokenCounter{})

	assert.Contains(t, got, "Review 1 (5/5, a day ago): excellent pastries")
	assert.Contains(t, got, "Review 2 (2/5, unknown date): (no written review)")
}

func TestTruncateToBudgetBoundary(t *testing.T) {
	counter := tokenCounter{}
	text := strings.Repeat("abcd", 25) // 100 runes, 25 estimated tokens

	assert.Equal(t, text, truncateToBudget(text, 25, counter))

	cut := truncateToBudget(text, 10, counter)
	assert.LessOrEqual(t, counter.Count(cut), 11)
	assert.True(t, strings.HasPrefix(cut, "abcd"))
}
