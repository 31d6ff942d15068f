package local

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"reviewlens/internal/domain"
)

// Storage is the default persistent vector store, backed by a chromem-go
// directory. A manifest file alongside the collection tracks the vector
// dimension and per-business counts: the dimension pins the embedding space
// across runs, and the counts let filtered searches clamp topK to the
// post-filter population without scanning the collection.
type Storage struct {
	mu         sync.Mutex
	db         *chromem.DB
	col        *chromem.Collection
	path       string
	collection string
	man        manifest
	log        zerolog.Logger
}

type manifest struct {
	Dimension  int            `json:"dimension"`
	Businesses map[string]int `json:"businesses"`
}

const manifestFile = "manifest.json"

// New opens (or creates) the store rooted at path.
func New(path, collection string, log zerolog.Logger) (*Storage, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, domain.E(domain.KindStorage, "create store directory", err)
	}
	db, err := chromem.NewPersistentDB(filepath.Join(path, "db"), false)
	if err != nil {
		return nil, domain.E(domain.KindStorage, "open vector database", err)
	}
	col, err := db.GetOrCreateCollection(collection, nil, rejectRemoteEmbedding)
	if err != nil {
		return nil, domain.E(domain.KindStorage, "open collection", err)
	}
	s := &Storage{db: db, col: col, path: path, collection: collection, log: log}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// All embeddings are computed upstream; chromem must never fall back to its
// own embedding function.
func rejectRemoteEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("store received text without a precomputed embedding")
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.Ef(domain.KindStorage, "invalid dimension %d", dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.man.Dimension != 0 && s.man.Dimension != dimension {
		return domain.Ef(domain.KindStorage,
			"collection was built with %d-dimensional embeddings, got %d; the embedding model changed under stored data",
			s.man.Dimension, dimension)
	}
	if s.man.Dimension == dimension {
		return nil
	}
	s.man.Dimension = dimension
	return s.saveManifest()
}

func (s *Storage) Upsert(ctx context.Context, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]chromem.Document, 0, len(entries))
	added := make(map[string]int)
	for _, e := range entries {
		if s.man.Dimension != 0 && len(e.Vector) != s.man.Dimension {
			return domain.Ef(domain.KindStorage, "vector dimension %d, want %d", len(e.Vector), s.man.Dimension)
		}
		docs = append(docs, chromem.Document{
			ID:        e.ID,
			Content:   e.Review.Document(),
			Embedding: e.Vector,
			Metadata:  encodeMeta(e),
		})
		added[e.Review.BusinessName]++
	}
	before := s.col.Count()
	concurrency := len(docs)
	if concurrency > 8 {
		concurrency = 8
	}
	if err := s.col.AddDocuments(ctx, docs, concurrency); err != nil {
		return domain.E(domain.KindStorage, "add documents", err)
	}
	// Dedupe mode overwrites by ID, so trust the collection's own delta
	// rather than assuming every entry was new.
	delta := s.col.Count() - before
	switch {
	case delta == len(docs):
		for b, n := range added {
			s.man.Businesses[b] += n
		}
	case len(added) == 1:
		for b := range added {
			s.man.Businesses[b] += delta
		}
	default:
		return s.recountLocked(ctx, added)
	}
	return s.saveManifest()
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, business string) ([]domain.ScoredReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topK <= 0 {
		topK = 5
	}
	total := s.col.Count()
	if total == 0 {
		return nil, nil
	}
	n := topK
	var where map[string]string
	if business != "" {
		population := s.man.Businesses[business]
		if population == 0 {
			return nil, nil
		}
		if n > population {
			n = population
		}
		where = map[string]string{"business": business}
	}
	if n > total {
		n = total
	}
	res, err := s.col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, domain.E(domain.KindStorage, "query embedding", err)
	}
	out := make([]domain.ScoredReview, 0, len(res))
	for _, r := range res {
		review, seq := decodeMeta(r.Metadata)
		out = append(out, domain.ScoredReview{Review: review, Score: float64(r.Similarity), Seq: seq})
	}
	return out, nil
}

func (s *Storage) DeleteBusiness(ctx context.Context, business string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.man.Businesses[business]
	if removed == 0 {
		return 0, nil
	}
	if err := s.col.Delete(ctx, map[string]string{"business": business}, nil); err != nil {
		return 0, domain.E(domain.KindStorage, "delete by business", err)
	}
	delete(s.man.Businesses, business)
	if err := s.saveManifest(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Storage) Businesses(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.man.Businesses))
	for n := range s.man.Businesses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) Info(_ context.Context) (domain.StoreInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := domain.StoreInfo{
		TotalRecords: s.col.Count(),
		PerBusiness:  make(map[string]int, len(s.man.Businesses)),
	}
	for b, n := range s.man.Businesses {
		info.PerBusiness[b] = n
	}
	var size int64
	_ = filepath.WalkDir(s.path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			size += fi.Size()
		}
		return nil
	})
	info.SizeBytes = size
	return info, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveManifest()
}

// recountLocked rebuilds per-business counts from the collection after a
// mixed-business upsert that overwrote existing IDs. chromem has no metadata
// scan, so the counts are recovered by filtered queries over every business
// the store has ever seen in this batch or the manifest.
func (s *Storage) recountLocked(ctx context.Context, batch map[string]int) error {
	seen := make(map[string]struct{}, len(s.man.Businesses)+len(batch))
	for b := range s.man.Businesses {
		seen[b] = struct{}{}
	}
	for b := range batch {
		seen[b] = struct{}{}
	}
	total := s.col.Count()
	counts := make(map[string]int, len(seen))
	probe := make([]float32, s.man.Dimension)
	if len(probe) > 0 {
		probe[0] = 1
	}
	for b := range seen {
		n := total
		if n == 0 {
			continue
		}
		res, err := s.col.QueryEmbedding(ctx, probe, n, map[string]string{"business": b}, nil)
		if err != nil {
			return domain.E(domain.KindStorage, "recount business", err)
		}
		if len(res) > 0 {
			counts[b] = len(res)
		}
	}
	s.man.Businesses = counts
	return s.saveManifest()
}

func (s *Storage) loadManifest() error {
	s.man = manifest{Businesses: make(map[string]int)}
	data, err := os.ReadFile(filepath.Join(s.path, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return domain.E(domain.KindStorage, "read manifest", err)
	}
	if err := json.Unmarshal(data, &s.man); err != nil {
		return domain.E(domain.KindStorage, "corrupted manifest", err)
	}
	if s.man.Businesses == nil {
		s.man.Businesses = make(map[string]int)
	}
	return nil
}

func (s *Storage) saveManifest() error {
	data, err := json.MarshalIndent(s.man, "", "  ")
	if err != nil {
		return domain.E(domain.KindStorage, "encode manifest", err)
	}
	tmp := filepath.Join(s.path, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return domain.E(domain.KindStorage, "write manifest", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.path, manifestFile)); err != nil {
		return domain.E(domain.KindStorage, "write manifest", err)
	}
	return nil
}

func encodeMeta(e domain.Entry) map[string]string {
	r := e.Review
	m := map[string]string{
		"business":  r.BusinessName,
		"reviewer":  r.ReviewerName,
		"rating":    strconv.Itoa(r.Rating),
		"date_text": r.DateText,
		"content":   r.Content,
		"photos":    strconv.Itoa(r.PhotoCount),
		"seq":       strconv.FormatInt(e.Seq, 10),
	}
	if r.Dated() {
		m["date"] = r.Date.UTC().Format(time.RFC3339)
	}
	return m
}

func decodeMeta(m map[string]string) (domain.Review, int64) {
	r := domain.Review{
		BusinessName: m["business"],
		ReviewerName: m["reviewer"],
		DateText:     m["date_text"],
		Content:      m["content"],
	}
	r.Rating, _ = strconv.Atoi(m["rating"])
	r.PhotoCount, _ = strconv.Atoi(m["photos"])
	if d, err := time.Parse(time.RFC3339, m["date"]); err == nil {
		r.Date = d
	}
	seq, _ := strconv.ParseInt(m["seq"], 10, 64)
	return r, seq
}
