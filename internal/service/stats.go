package service

import (
	"regexp"
	"sort"
	"strings"

	"reviewlens/internal/domain"
)

const maxFrequentTerms = 8

// computeStats aggregates the indexed records of one business. Everything is
// derived locally from the stored reviews.
func computeStats(business string, reviews []domain.Review) domain.BusinessStats {
	st := domain.BusinessStats{Business: business, Total: len(reviews)}
	if len(reviews) == 0 {
		return st
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
		if r.ValidRating() {
			st.RatingCounts[r.Rating-1]++
		}
		if r.Dated() {
			if st.Newest.IsZero() || r.Date.After(st.Newest) {
				st.Newest = r.Date
			}
			if st.Oldest.IsZero() || r.Date.Before(st.Oldest) {
				st.Oldest = r.Date
			}
		} else {
			st.Undated++
		}
	}
	st.AverageRating = float64(sum) / float64(len(reviews))
	st.FrequentTerms = frequentTerms(reviews, maxFrequentTerms)
	return st
}

var termPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

// frequentTerms ranks the words of the written reviews by occurrence count,
// stopwords and very short tokens filtered, ties broken alphabetically so
// the output is stable.
func frequentTerms(reviews []domain.Review, limit int) []string {
	stop := statsStopwords()
	freq := make(map[string]int)
	for _, r := range reviews {
		for _, tok := range termPattern.FindAllString(strings.ToLower(r.Content), -1) {
			if _, isStop := stop[tok]; isStop {
				continue
			}
			if len([]rune(tok)) < 3 {
				continue
			}
			freq[tok]++
		}
	}
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

func statsStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
