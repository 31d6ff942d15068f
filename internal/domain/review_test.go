package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReviewDocument(t *testing.T) {
	r := Review{
		ReviewerName: "Anna",
		Rating:       5,
		Content:      "great food",
		DateText:     "2 months ago",
		PhotoCount:   2,
	}
	doc := r.Document()
	assert.Contains(t, doc, "Rating: 5 out of 5 stars.")
	assert.Contains(t, doc, "Review: great food.")
	assert.Contains(t, doc, "Posted: 2 months ago.")
	assert.Contains(t, doc, "Reviewer: Anna.")
	assert.Contains(t, doc, "Photos attached: 2.")
}

func TestReviewDocumentEmptyContent(t *testing.T) {
	r := Review{ReviewerName: "Bob", Rating: 3, DateText: "a year ago"}
	doc := r.Document()
	assert.Contains(t, doc, "No written review.")
	assert.Contains(t, doc, "Rating: 3 out of 5 stars.")
	assert.NotContains(t, doc, "Photos attached")
}

func TestReviewDocumentKeepsFinalPunctuation(t *testing.T) {
	doc := Review{Rating: 4, Content: "would come again!"}.Document()
	assert.Contains(t, doc, "Review: would come again!")
	assert.NotContains(t, doc, "again!.")
}

func TestReviewValidRating(t *testing.T) {
	assert.True(t, Review{Rating: 1}.ValidRating())
	assert.True(t, Review{Rating: 5}.ValidRating())
	assert.False(t, Review{Rating: 0}.ValidRating())
	assert.False(t, Review{Rating: 6}.ValidRating())
	assert.False(t, Review{Rating: -1}.ValidRating())
}

func TestReviewDated(t *testing.T) {
	assert.False(t, Review{}.Dated())
	assert.True(t, Review{Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)}.Dated())
}
