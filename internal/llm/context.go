package llm

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"reviewlens/internal/domain"
)

const encodingName = "cl100k_base"

// tokenCounter measures prompt size for the context budget. The tiktoken
// encoding table is fetched on first use, so offline processes fall back to
// the usual four-characters-per-token estimate.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter(log zerolog.Logger) tokenCounter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken encoding unavailable, using character estimate")
		return tokenCounter{}
	}
	return tokenCounter{enc: enc}
}

func (t tokenCounter) Count(s string) int {
	if t.enc != nil {
		return len(t.enc.Encode(s, nil, nil))
	}
	return (utf8.RuneCountInString(s) + 3) / 4
}

// groundingContext renders retrieved reviews as numbered blocks, in the
// order given, stopping before the token budget is exceeded. The first block
// is always included, truncated if it alone overflows, so an answer is never
// generated from an empty context when reviews were retrieved.
func groundingContext(retrieved []domain.ScoredReview, budget int, counter tokenCounter) string {
	var b strings.Builder
	used := 0
	for i, sr := range retrieved {
		block := scoredBlock(i+1, sr)
		cost := counter.Count(block)
		if used+cost > budget {
			if i == 0 {
				b.WriteString(truncateToBudget(block, budget, counter))
			}
			break
		}
		b.WriteString(block)
		used += cost
	}
	return b.String()
}

// reviewsContext is groundingContext for plain records, used by the analyze
// and summary prompts which span a whole business rather than a retrieval.
func reviewsContext(reviews []domain.Review, budget int, counter tokenCounter) string {
	var b strings.Builder
	used := 0
	for i, r := range reviews {
		block := plainBlock(i+1, r)
		cost := counter.Count(block)
		if used+cost > budget {
			if i == 0 {
				b.WriteString(truncateToBudget(block, budget, counter))
			}
			break
		}
		b.WriteString(block)
		used += cost
	}
	return b.String()
}

func scoredBlock(n int, sr domain.ScoredReview) string {
	r := sr.Review
	var b strings.Builder
	fmt.Fprintf(&b, "Review %d (relevance %.2f):\n", n, sr.Score)
	fmt.Fprintf(&b, "Reviewer: %s\n", orUnknown(r.ReviewerName))
	fmt.Fprintf(&b, "Rating: %d/5\n", r.Rating)
	fmt.Fprintf(&b, "Date: %s\n", displayDate(r))
	if r.PhotoCount > 0 {
		fmt.Fprintf(&b, "Photos: %d\n", r.PhotoCount)
	}
	fmt.Fprintf(&b, "Text: %s\n\n", orNoText(r.Content))
	return b.String()
}

func plainBlock(n int, r domain.Review) string {
	return fmt.Sprintf("Review %d (%d/5, %s): %s\n", n, r.Rating, displayDate(r), orNoText(r.Content))
}

func displayDate(r domain.Review) string {
	if r.DateText != "" {
		return r.DateText
	}
	if r.Dated() {
		return r.Date.Format(time.DateOnly)
	}
	return "unknown date"
}

func orUnknown(s string) string {
	if s == "" {
		return "Anonymous"
	}
	return s
}

func orNoText(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no written review)"
	}
	return s
}

// truncateToBudget cuts a block to the budget at a rune boundary, binary
// searching the longest prefix that still fits.
func truncateToBudget(block string, budget int, counter tokenCounter) string {
	if counter.Count(block) <= budget {
		return block
	}
	runes := []rune(block)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]) + "\n"
}
