package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"reviewlens/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine
// similarity. It backs tests and the ephemeral `memory` storage backend.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.Entry
	byID      map[string]int
}

func NewStorage() *Storage { return &Storage{byID: make(map[string]int)} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("dimension %d conflicts with existing %d", dimension, s.dimension)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("vector dimension %d, want %d", len(e.Vector), s.dimension)
		}
	}
	for _, e := range entries {
		if i, ok := s.byID[e.ID]; ok {
			s.entries[i] = e
			continue
		}
		s.byID[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int, business string) ([]domain.ScoredReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	candidates := make([]int, 0, len(s.entries))
	for i := range s.entries {
		if business != "" && s.entries[i].Review.BusinessName != business {
			continue
		}
		candidates = append(candidates, i)
	}
	// cosine similarity over L2-normalized vectors
	scores := make([]float64, len(candidates))
	for i, j := range candidates {
		scores[i] = dot(s.entries[j].Vector, vector)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.ScoredReview, 0, topK)
	for i := 0; i < topK; i++ {
		j := candidates[idxs[i]]
		results = append(results, domain.ScoredReview{
			Review: s.entries[j].Review,
			Score:  scores[idxs[i]],
			Seq:    s.entries[j].Seq,
		})
	}
	return results, nil
}

func (s *Storage) DeleteBusiness(_ context.Context, business string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Review.BusinessName == business {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.byID = make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		s.byID[e.ID] = i
	}
	return removed, nil
}

func (s *Storage) Businesses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		seen[e.Review.BusinessName] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) Info(_ context.Context) (domain.StoreInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := domain.StoreInfo{
		TotalRecords: len(s.entries),
		PerBusiness:  make(map[string]int),
	}
	for _, e := range s.entries {
		info.PerBusiness[e.Review.BusinessName]++
		info.SizeBytes += int64(len(e.Vector)) * 4
	}
	return info, nil
}

func (s *Storage) Close() error { return nil }

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	// Stable so equal scores keep insertion order; final tie-breaking
	// happens at the service layer.
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}
