package domain

import (
	"fmt"
	"strings"
	"time"
)

// Review is one scraped review, normalized. Records are immutable once
// scraped; re-scraping a business produces new records, not updates.
type Review struct {
	ReviewerName string    `json:"reviewer_name"`
	Rating       int       `json:"rating"`
	Content      string    `json:"content"`
	Date         time.Time `json:"date"`
	DateText     string    `json:"date_text"`
	PhotoCount   int       `json:"photo_count"`
	BusinessName string    `json:"business_name"`
}

// Dated reports whether the relative date text was resolved to a timestamp.
// Undated records are kept but excluded from recency-cutoff comparisons.
func (r Review) Dated() bool { return !r.Date.IsZero() }

// ValidRating reports whether the rating is in the accepted 1..5 range.
// Records outside the range are dropped, not clamped.
func (r Review) ValidRating() bool { return r.Rating >= 1 && r.Rating <= 5 }

// Document renders the text that gets embedded. Rating-only reviews get an
// explicit placeholder sentence so they stay searchable by metadata-adjacent
// queries ("any 1-star reviews?").
func (r Review) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rating: %d out of 5 stars.", r.Rating)
	if content := strings.TrimSpace(r.Content); content != "" {
		fmt.Fprintf(&b, " Review: %s", content)
		if !strings.ContainsAny(content[len(content)-1:], ".!?") {
			b.WriteString(".")
		}
	} else {
		b.WriteString(" No written review.")
	}
	if r.DateText != "" {
		fmt.Fprintf(&b, " Posted: %s.", r.DateText)
	}
	if r.ReviewerName != "" {
		fmt.Fprintf(&b, " Reviewer: %s.", r.ReviewerName)
	}
	if r.PhotoCount > 0 {
		fmt.Fprintf(&b, " Photos attached: %d.", r.PhotoCount)
	}
	return b.String()
}

// Entry is an indexed review: the record, its embedding, a stable ID and the
// insertion sequence used for deterministic tie-breaking. Entries are created
// at indexing time, never mutated, and removed only by delete-by-business.
type Entry struct {
	ID     string
	Review Review
	Vector []float32
	Seq    int64
}

// ScoredReview is one element of a query result: a review with its
// similarity score. Ephemeral, produced per retrieval call.
type ScoredReview struct {
	Review Review
	Score  float64
	Seq    int64
}

// TokenUsage mirrors the usage block of a chat completion response.
type TokenUsage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
}

// Answer is the outcome of a generation call. Generation failures are folded
// into Success/Text rather than surfaced as errors, so callers always have
// something presentable.
type Answer struct {
	Text    string
	Success bool
	Model   string
	Usage   TokenUsage
	Sources []ScoredReview
}

// BusinessInfo is the page-level header data captured during a scrape.
// All fields are best-effort; zero values mean "not shown or not parsed".
type BusinessInfo struct {
	Name        string  `json:"name"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// BusinessStats summarizes the indexed records of one business.
type BusinessStats struct {
	Business      string
	Total         int
	AverageRating float64
	RatingCounts  [5]int // index 0 = 1 star
	Newest        time.Time
	Oldest        time.Time
	Undated       int
	FrequentTerms []string
}

// StoreInfo describes the state of a vector store.
type StoreInfo struct {
	TotalRecords int
	PerBusiness  map[string]int
	SizeBytes    int64
}
