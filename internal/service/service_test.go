package service

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reviewlens/internal/domain"
	"reviewlens/internal/logging"
	"reviewlens/internal/vectorstore/memory"
)

// keywordEmbedder projects text onto a fixed vocabulary so similarity is
// transparent in tests: a text scores against a query exactly when they share
// vocabulary words.
type keywordEmbedder struct{ vocab []string }

func (e keywordEmbedder) Name() string   { return "keyword" }
func (e keywordEmbedder) Dimension() int { return len(e.vocab) }

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	var norm float64
	for i, w := range e.vocab {
		if strings.Contains(lower, w) {
			vec[i] = 1
			norm++
		}
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

var testVocab = []string{"food", "service", "parking", "great", "bad", "coffee", "nice", "loud", "music"}

type fakeGenerator struct {
	answers   int
	analyzes  int
	summaries int

	lastQuery     string
	lastBusiness  string
	lastRetrieved []domain.ScoredReview
	lastReviews   []domain.Review
	lastStats     domain.BusinessStats
}

func (f *fakeGenerator) Answer(_ context.Context, query string, retrieved []domain.ScoredReview, business string) domain.Answer {
	f.answers++
	f.lastQuery = query
	f.lastBusiness = business
	f.lastRetrieved = retrieved
	return domain.Answer{Text: "canned answer", Success: true, Model: "fake", Sources: retrieved}
}

func (f *fakeGenerator) Analyze(_ context.Context, business string, reviews []domain.Review, stats domain.BusinessStats) domain.Answer {
	f.analyzes++
	f.lastBusiness = business
	f.lastReviews = reviews
	f.lastStats = stats
	return domain.Answer{Text: "canned analysis", Success: true, Model: "fake"}
}

func (f *fakeGenerator) Summarize(_ context.Context, business string, reviews []domain.Review) domain.Answer {
	f.summaries++
	f.lastBusiness = business
	f.lastReviews = reviews
	return domain.Answer{Text: "canned summary", Success: true, Model: "fake"}
}

// steppedClock advances one millisecond per call, so every Index batch gets
// a strictly larger sequence base.
func steppedClock() func() time.Time {
	var n int64
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
}

func newTestService(dedupe bool) (*Service, *fakeGenerator) {
	gen := &fakeGenerator{}
	emb := keywordEmbedder{vocab: testVocab}
	svc := New(emb, memory.NewStorage(), gen, Config{Dedupe: dedupe, Workers: 2}, logging.Nop())
	svc.now = steppedClock()
	return svc, gen
}

func rev(name string, rating int, content string) domain.Review {
	return domain.Review{ReviewerName: name, Rating: rating, Content: content}
}

func datedRev(name string, rating int, content string, date time.Time) domain.Review {
	r := rev(name, rating, content)
	r.Date = date
	return r
}

func parkingBatch() []domain.Review {
	return []domain.Review{
		rev("Alina", 5, "great food"),
		rev("Boris", 4, "ok service"),
		rev("Carmen", 1, "bad parking"),
	}
}

func TestSearchFindsParkingComplaint(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	n, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	res, err := svc.Search(ctx, "parking", "TestCafe", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, 1, res[0].Review.Rating)
	require.Equal(t, "bad parking", res[0].Review.Content)
	require.Greater(t, res[0].Score, 0.0)

	info, err := svc.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, info.TotalRecords)
	require.Equal(t, 3, info.PerBusiness["TestCafe"])
}

func TestSearchReturnsAllWhenFewerThanTopK(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)

	res, err := svc.Search(ctx, "parking", "TestCafe", 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, "bad parking", res[0].Review.Content)
}

func TestSearchHonorsBusinessFilter(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	_, err = svc.Index(ctx, "OtherBar", []domain.Review{rev("Dana", 2, "parking trouble")})
	require.NoError(t, err)

	res, err := svc.Search(ctx, "parking", "TestCafe", 5)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	for _, sr := range res {
		require.Equal(t, "TestCafe", sr.Review.BusinessName)
	}
}

func TestSearchUnknownBusinessIsEmptyNotError(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)

	res, err := svc.Search(ctx, "parking", "NoSuchPlace", 5)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestSearchValidation(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Search(ctx, "   ", "TestCafe", 5)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.Search(ctx, "parking", "TestCafe", 0)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSearchTieBreaksByDateThenInsertion(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	older := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	batch := []domain.Review{
		datedRev("Dana", 4, "nice coffee", older),
		datedRev("Egor", 4, "nice coffee", newer),
		rev("Fede", 4, "nice coffee"), // undated
	}
	_, err := svc.Index(ctx, "TieHouse", batch)
	require.NoError(t, err)

	res, err := svc.Search(ctx, "coffee", "TieHouse", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, "Egor", res[0].Review.ReviewerName)
	require.Equal(t, "Dana", res[1].Review.ReviewerName)
	require.Equal(t, "Fede", res[2].Review.ReviewerName)
}

func TestSearchEqualDatesKeepInsertionOrder(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	batch := []domain.Review{
		datedRev("Pia", 3, "loud music", day),
		datedRev("Quinn", 3, "loud music", day),
	}
	_, err := svc.Index(ctx, "TieHouse", batch)
	require.NoError(t, err)

	res, err := svc.Search(ctx, "music", "TieHouse", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "Pia", res[0].Review.ReviewerName)
	require.Equal(t, "Quinn", res[1].Review.ReviewerName)
}

func TestSearchIsDeterministic(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TieHouse", []domain.Review{
		rev("Dana", 4, "nice coffee"),
		rev("Egor", 4, "nice coffee"),
		rev("Fede", 4, "nice coffee"),
	})
	require.NoError(t, err)

	first, err := svc.Search(ctx, "coffee", "TieHouse", 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Search(ctx, "coffee", "TieHouse", 3)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestIndexStampsBusinessAndDropsInvalidRatings(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	batch := []domain.Review{
		rev("Alina", 5, "great food"),
		rev("Zero", 0, "broken import row"),
		rev("Six", 6, "broken import row"),
		rev("Boris", 2, "bad service"),
	}
	n, err := svc.Index(ctx, "TestCafe", batch)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	reviews, err := svc.BusinessReviews(ctx, "TestCafe")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	for _, r := range reviews {
		require.Equal(t, "TestCafe", r.BusinessName)
	}
}

func TestIndexValidation(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "  ", parkingBatch())
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	n, err := svc.Index(ctx, "TestCafe", nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIndexDedupeOverwritesRepeatedBatch(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(true)
	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	_, err = svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	info, err := svc.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, info.TotalRecords)

	svc, _ = newTestService(false)
	_, err = svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	_, err = svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	info, err = svc.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, info.TotalRecords)
}

func TestDeleteRemovesOnlyTargetBusiness(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)
	_, err = svc.Index(ctx, "OtherBar", []domain.Review{rev("Dana", 2, "loud music")})
	require.NoError(t, err)

	removed, err := svc.Delete(ctx, "TestCafe")
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	names, err := svc.ListBusinesses(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"OtherBar"}, names)
}

func TestAskPassesRetrievalToGenerator(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)

	ans, err := svc.Ask(ctx, "how is parking?", "TestCafe", 2)
	require.NoError(t, err)
	require.True(t, ans.Success)
	require.Equal(t, "canned answer", ans.Text)
	require.Equal(t, 1, gen.answers)
	require.Equal(t, "how is parking?", gen.lastQuery)
	require.Equal(t, "TestCafe", gen.lastBusiness)
	require.NotEmpty(t, gen.lastRetrieved)
	require.Equal(t, "bad parking", gen.lastRetrieved[0].Review.Content)
}

func TestAskEmptyStoreStillReachesGenerator(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	ans, err := svc.Ask(ctx, "how is parking?", "Ghost", 3)
	require.NoError(t, err)
	require.Equal(t, "canned answer", ans.Text)
	require.Equal(t, 1, gen.answers)
	require.Empty(t, gen.lastRetrieved)
}

func TestAskPropagatesValidationErrors(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	_, err := svc.Ask(ctx, "", "TestCafe", 3)
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
	require.Zero(t, gen.answers)
}

func TestAnalyzeCarriesStatsAndReviews(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)

	ans, err := svc.Analyze(ctx, "TestCafe")
	require.NoError(t, err)
	require.Equal(t, "canned analysis", ans.Text)
	require.Equal(t, 1, gen.analyzes)
	require.Len(t, gen.lastReviews, 3)
	require.Equal(t, "great food", gen.lastReviews[0].Content)
	require.Equal(t, 3, gen.lastStats.Total)
	require.InDelta(t, 10.0/3.0, gen.lastStats.AverageRating, 1e-9)
}

func TestAnalyzeUnknownBusinessPassesEmptySet(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "Ghost")
	require.NoError(t, err)
	require.Equal(t, 1, gen.analyzes)
	require.Empty(t, gen.lastReviews)
	require.Zero(t, gen.lastStats.Total)
}

func TestSummaryUsesAllReviews(t *testing.T) {
	svc, gen := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", parkingBatch())
	require.NoError(t, err)

	ans, err := svc.Summary(ctx, "TestCafe")
	require.NoError(t, err)
	require.Equal(t, "canned summary", ans.Text)
	require.Equal(t, 1, gen.summaries)
	require.Len(t, gen.lastReviews, 3)
}

func TestBusinessReviewsKeepInsertionOrder(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Index(ctx, "TestCafe", []domain.Review{
		rev("Alina", 5, "great food"),
		rev("Boris", 4, "ok service"),
	})
	require.NoError(t, err)
	_, err = svc.Index(ctx, "TestCafe", []domain.Review{
		rev("Carmen", 1, "bad parking"),
	})
	require.NoError(t, err)

	reviews, err := svc.BusinessReviews(ctx, "TestCafe")
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	require.Equal(t, "Alina", reviews[0].ReviewerName)
	require.Equal(t, "Boris", reviews[1].ReviewerName)
	require.Equal(t, "Carmen", reviews[2].ReviewerName)
}

func TestStatsAggregation(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	older := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC)
	batch := []domain.Review{
		datedRev("Alina", 5, "great food and great coffee", newer),
		datedRev("Boris", 5, "food again", older),
		datedRev("Carmen", 2, "bad parking", older),
		rev("Dana", 1, "parking nightmare"),
	}
	_, err := svc.Index(ctx, "TestCafe", batch)
	require.NoError(t, err)

	st, err := svc.Stats(ctx, "TestCafe")
	require.NoError(t, err)
	require.Equal(t, "TestCafe", st.Business)
	require.Equal(t, 4, st.Total)
	require.InDelta(t, 3.25, st.AverageRating, 1e-9)
	require.Equal(t, [5]int{1, 1, 0, 0, 2}, st.RatingCounts)
	require.Equal(t, newer, st.Newest)
	require.Equal(t, older, st.Oldest)
	require.Equal(t, 1, st.Undated)
	require.Contains(t, st.FrequentTerms, "parking")
	require.Contains(t, st.FrequentTerms, "food")
}

func TestStatsValidation(t *testing.T) {
	svc, _ := newTestService(false)
	ctx := context.Background()

	_, err := svc.Stats(ctx, "")
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	st, err := svc.Stats(ctx, "Ghost")
	require.NoError(t, err)
	require.Zero(t, st.Total)
}

func TestFrequentTermsFilterAndOrder(t *testing.T) {
	terms := frequentTerms([]domain.Review{
		{Content: "The parking was bad, parking again"},
		{Content: "parking and the food"},
		{Content: "food"},
	}, 2)
	require.Equal(t, []string{"parking", "food"}, terms)

	terms = frequentTerms([]domain.Review{
		{Content: "beta alpha"},
		{Content: "alpha beta"},
	}, 5)
	require.Equal(t, []string{"alpha", "beta"}, terms)
}

func TestRerankOrdersScoreDateInsertion(t *testing.T) {
	older := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	in := []domain.ScoredReview{
		{Review: domain.Review{ReviewerName: "undated-late"}, Score: 0.5, Seq: 7},
		{Review: domain.Review{ReviewerName: "older", Date: older}, Score: 0.5, Seq: 2},
		{Review: domain.Review{ReviewerName: "top"}, Score: 0.9, Seq: 3},
		{Review: domain.Review{ReviewerName: "newer", Date: newer}, Score: 0.5, Seq: 4},
		{Review: domain.Review{ReviewerName: "undated-early"}, Score: 0.5, Seq: 1},
	}
	rerank(in)
	names := make([]string, len(in))
	for i, sr := range in {
		names[i] = sr.Review.ReviewerName
	}
	require.Equal(t, []string{"top", "newer", "older", "undated-early", "undated-late"}, names)
}
