package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"reviewlens/internal/domain"
)

// rawReview mirrors what the in-page extraction script returns for one
// review block, before any validation.
type rawReview struct {
	Name   string `json:"name"`
	Rating string `json:"rating"`
	When   string `json:"when"`
	Text   string `json:"text"`
	Photos int    `json:"photos"`
}

// rawBusiness mirrors the page header fields.
type rawBusiness struct {
	Name    string `json:"name"`
	Rating  string `json:"rating"`
	Reviews string `json:"reviews"`
}

var (
	numberRe   = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	digitsRe   = regexp.MustCompile(`\d+`)
	relativeRe = regexp.MustCompile(`^(a|an|\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago$`)
)

// parseRating extracts the star count from an aria-label such as "5 stars",
// "1 star" or "Rated 4.0 out of 5". Anything outside 1..5 is rejected so the
// record gets dropped rather than stored with a bogus rating.
func parseRating(label string) (int, bool) {
	m := numberRe.FindString(label)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	r := int(f + 0.5)
	if r < 1 || r > 5 {
		return 0, false
	}
	return r, true
}

// resolveRelativeDate turns Google's relative date text ("2 months ago",
// "a week ago", "yesterday") into an absolute timestamp anchored at now.
// Best-effort: unknown phrasing yields ok=false and the record stays
// undated instead of guessing.
func resolveRelativeDate(text string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimPrefix(s, "edited")
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return time.Time{}, false
	case "just now", "a moment ago":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	}
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	n := 1
	if m[1] != "a" && m[1] != "an" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		n = v
	}
	switch m[2] {
	case "second":
		return now.Add(-time.Duration(n) * time.Second), true
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	case "year":
		return now.AddDate(-n, 0, 0), true
	}
	return time.Time{}, false
}

// parseReviews validates raw blocks into records, applying the two cutoffs:
// at most maxReviews records, and none older than yearLimit years before
// now. Records whose date text did not resolve pass the recency cutoff
// untouched; only a successfully parsed date can exclude a record.
func parseReviews(raws []rawReview, business string, now time.Time, yearLimit, maxReviews int) []domain.Review {
	var cutoff time.Time
	if yearLimit > 0 {
		cutoff = now.AddDate(-yearLimit, 0, 0)
	}
	out := make([]domain.Review, 0, len(raws))
	for _, raw := range raws {
		if maxReviews > 0 && len(out) >= maxReviews {
			break
		}
		rating, ok := parseRating(raw.Rating)
		if !ok {
			continue
		}
		date, dated := resolveRelativeDate(raw.When, now)
		if dated && !cutoff.IsZero() && date.Before(cutoff) {
			continue
		}
		r := domain.Review{
			ReviewerName: strings.TrimSpace(raw.Name),
			Rating:       rating,
			Content:      strings.TrimSpace(raw.Text),
			DateText:     strings.TrimSpace(raw.When),
			PhotoCount:   raw.Photos,
			BusinessName: business,
		}
		if dated {
			r.Date = date
		}
		if r.PhotoCount < 0 {
			r.PhotoCount = 0
		}
		out = append(out, r)
	}
	return out
}

// parseBusinessInfo turns the header fields into a BusinessInfo. Everything
// is best-effort; a missing rating or count just stays zero.
func parseBusinessInfo(raw rawBusiness, url string) domain.BusinessInfo {
	info := domain.BusinessInfo{Name: strings.TrimSpace(raw.Name), URL: url}
	if m := numberRe.FindString(raw.Rating); m != "" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil && f >= 0 && f <= 5 {
			info.Rating = f
		}
	}
	digits := digitsRe.FindAllString(raw.Reviews, -1)
	if len(digits) > 0 {
		if n, err := strconv.Atoi(strings.Join(digits, "")); err == nil {
			info.ReviewCount = n
		}
	}
	return info
}
