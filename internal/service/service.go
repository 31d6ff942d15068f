// Package service wires the scraper output, the embedder, the vector store
// and the answer generator into the user-facing operations.
package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"reviewlens/internal/domain"
	"reviewlens/internal/embedding"
	"reviewlens/internal/vectorstore"
)

// Generator is the service-facing slice of the answer generator. All three
// operations fold failures into the returned Answer.
type Generator interface {
	Answer(ctx context.Context, query string, retrieved []domain.ScoredReview, business string) domain.Answer
	Analyze(ctx context.Context, business string, reviews []domain.Review, stats domain.BusinessStats) domain.Answer
	Summarize(ctx context.Context, business string, reviews []domain.Review) domain.Answer
}

// Config tunes the orchestration itself; collaborator tuning lives with the
// collaborators.
type Config struct {
	// Dedupe switches indexing from append-only to overwrite-by-identity:
	// entry IDs become deterministic, so re-indexing the same review
	// overwrites instead of duplicating.
	Dedupe bool
	// Workers bounds the embedding parallelism while indexing a batch.
	Workers int
}

// Service owns no state beyond the write locks; every operation is
// independent and runs against the shared store handle.
type Service struct {
	emb   embedding.Embedder
	store vectorstore.Storage
	gen   Generator
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(emb embedding.Embedder, store vectorstore.Storage, gen Generator, cfg Config, log zerolog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Service{
		emb:   emb,
		store: store,
		gen:   gen,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Index embeds a batch of reviews and persists them under business. Records
// with out-of-range ratings are dropped here too: the scraper filters them,
// but imported files arrive unchecked. Returns the number of entries written.
func (s *Service) Index(ctx context.Context, business string, reviews []domain.Review) (int, error) {
	business = strings.TrimSpace(business)
	if business == "" {
		return 0, domain.Ef(domain.KindValidation, "business name is required for indexing")
	}
	kept := make([]domain.Review, 0, len(reviews))
	for _, r := range reviews {
		if !r.ValidRating() {
			s.log.Debug().Str("reviewer", r.ReviewerName).Int("rating", r.Rating).
				Msg("dropping review with out-of-range rating")
			continue
		}
		r.BusinessName = business
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(kept))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)
	for i := range kept {
		eg.Go(func() error {
			vec, err := s.emb.Embed(gctx, kept[i].Document())
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, kindOrWrap(err, domain.KindEmbedding, "embed reviews")
	}

	unlock := s.lockBusiness(business)
	defer unlock()

	if err := s.store.Init(ctx, len(vectors[0])); err != nil {
		return 0, kindOrWrap(err, domain.KindStorage, "init collection")
	}
	entries := make([]domain.Entry, len(kept))
	base := s.now().UnixNano()
	for i, r := range kept {
		entries[i] = domain.Entry{
			ID:     s.entryID(r),
			Review: r,
			Vector: vectors[i],
			Seq:    base + int64(i),
		}
	}
	if err := s.store.Upsert(ctx, entries); err != nil {
		return 0, kindOrWrap(err, domain.KindStorage, "store reviews")
	}
	s.log.Info().Str("business", business).Int("indexed", len(entries)).Msg("reviews indexed")
	return len(entries), nil
}

// Search embeds the query and returns the topK most similar reviews,
// re-ranked deterministically: similarity descending, then most-recent date
// with undated records last, then insertion order. A filter on a business
// that holds fewer than topK records returns what exists, without error.
func (s *Service) Search(ctx context.Context, query, business string, topK int) ([]domain.ScoredReview, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.Ef(domain.KindValidation, "search query must not be empty")
	}
	if topK < 1 {
		return nil, domain.Ef(domain.KindValidation, "top_k must be >= 1, got %d", topK)
	}
	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, kindOrWrap(err, domain.KindEmbedding, "embed query")
	}
	// Over-fetch so ties straddling the topK boundary are re-ranked before
	// the cut, not after.
	fetch := topK * 3
	if fetch < 10 {
		fetch = 10
	}
	res, err := s.store.Search(ctx, vec, fetch, business)
	if err != nil {
		return nil, kindOrWrap(err, domain.KindStorage, "similarity search")
	}
	rerank(res)
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

// Ask retrieves grounding reviews for the query and generates an answer.
// The generator guards against empty retrievals itself, so asking about an
// unknown business yields an explicit "no relevant reviews" answer.
func (s *Service) Ask(ctx context.Context, query, business string, topK int) (domain.Answer, error) {
	retrieved, err := s.Search(ctx, query, business, topK)
	if err != nil {
		return domain.Answer{}, err
	}
	return s.gen.Answer(ctx, query, retrieved, business), nil
}

// Analyze generates the fixed analytical report over every indexed review of
// a business.
func (s *Service) Analyze(ctx context.Context, business string) (domain.Answer, error) {
	reviews, err := s.BusinessReviews(ctx, business)
	if err != nil {
		return domain.Answer{}, err
	}
	return s.gen.Analyze(ctx, business, reviews, computeStats(business, reviews)), nil
}

// Summary generates a short prose summary of a business's reviews.
func (s *Service) Summary(ctx context.Context, business string) (domain.Answer, error) {
	reviews, err := s.BusinessReviews(ctx, business)
	if err != nil {
		return domain.Answer{}, err
	}
	return s.gen.Summarize(ctx, business, reviews), nil
}

// Stats aggregates rating and date statistics locally, no LLM involved.
func (s *Service) Stats(ctx context.Context, business string) (domain.BusinessStats, error) {
	reviews, err := s.BusinessReviews(ctx, business)
	if err != nil {
		return domain.BusinessStats{}, err
	}
	return computeStats(business, reviews), nil
}

// BusinessReviews returns every indexed record of one business in insertion
// order. The stores only expose similarity search, so the full set is
// recovered by probing with the business name and asking for the whole
// population.
func (s *Service) BusinessReviews(ctx context.Context, business string) ([]domain.Review, error) {
	business = strings.TrimSpace(business)
	if business == "" {
		return nil, domain.Ef(domain.KindValidation, "business name must not be empty")
	}
	info, err := s.Info(ctx)
	if err != nil {
		return nil, err
	}
	population := info.PerBusiness[business]
	if population == 0 {
		return nil, nil
	}
	vec, err := s.emb.Embed(ctx, "reviews for "+business)
	if err != nil {
		return nil, kindOrWrap(err, domain.KindEmbedding, "embed probe")
	}
	res, err := s.store.Search(ctx, vec, population, business)
	if err != nil {
		return nil, kindOrWrap(err, domain.KindStorage, "collect business reviews")
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	reviews := make([]domain.Review, len(res))
	for i, r := range res {
		reviews[i] = r.Review
	}
	return reviews, nil
}

func (s *Service) ListBusinesses(ctx context.Context) ([]string, error) {
	names, err := s.store.Businesses(ctx)
	return names, kindOrWrap(err, domain.KindStorage, "list businesses")
}

func (s *Service) Info(ctx context.Context) (domain.StoreInfo, error) {
	info, err := s.store.Info(ctx)
	return info, kindOrWrap(err, domain.KindStorage, "collect store info")
}

// Delete removes every indexed entry of a business and reports how many.
func (s *Service) Delete(ctx context.Context, business string) (int, error) {
	business = strings.TrimSpace(business)
	if business == "" {
		return 0, domain.Ef(domain.KindValidation, "business name must not be empty")
	}
	unlock := s.lockBusiness(business)
	defer unlock()
	removed, err := s.store.DeleteBusiness(ctx, business)
	if err != nil {
		return 0, kindOrWrap(err, domain.KindStorage, "delete business")
	}
	s.log.Info().Str("business", business).Int("removed", removed).Msg("business deleted")
	return removed, nil
}

// entryNamespace seeds deterministic IDs in dedupe mode; fixed so the same
// review maps to the same ID across runs.
var entryNamespace = uuid.MustParse("b5f9f5a6-8a6e-4f2e-9c4e-2d9b7f1f3a55")

func (s *Service) entryID(r domain.Review) string {
	if !s.cfg.Dedupe {
		return uuid.NewString()
	}
	key := strings.Join([]string{
		r.BusinessName, r.ReviewerName, strconv.Itoa(r.Rating), r.Content, r.DateText,
	}, "\x1f")
	return uuid.NewSHA1(entryNamespace, []byte(key)).String()
}

// lockBusiness serializes writes per business_name so concurrent scrape and
// delete runs cannot interleave inside one business's entries.
func (s *Service) lockBusiness(business string) func() {
	s.mu.Lock()
	l, ok := s.locks[business]
	if !ok {
		l = &sync.Mutex{}
		s.locks[business] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// rerank orders results for determinism: similarity descending, equal scores
// by most-recent date with undated records last, then insertion order.
func rerank(res []domain.ScoredReview) {
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		di, dj := res[i].Review.Date, res[j].Review.Date
		if !di.Equal(dj) {
			switch {
			case di.IsZero():
				return false
			case dj.IsZero():
				return true
			default:
				return di.After(dj)
			}
		}
		return res[i].Seq < res[j].Seq
	})
}

// kindOrWrap classifies untyped collaborator errors; already-classified
// errors pass through so the original boundary wins.
func kindOrWrap(err error, kind domain.Kind, msg string) error {
	if err == nil || domain.KindOf(err) != "" {
		return err
	}
	return domain.E(kind, msg, err)
}
