package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"reviewlens/internal/domain"
)

// Storage is a minimal REST client to Qdrant. It assumes cosine distance
// and creates the collection if missing. Review fields travel in point
// payloads; business filtering happens server-side.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
	log        zerolog.Logger
}

// Config contains connection details. APIKeyEnv names the environment
// variable holding the key.
type Config struct {
	URL        string
	APIKeyEnv  string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config, log zerolog.Logger) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "reviews"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     os.Getenv(cfg.APIKeyEnv),
		collection: collection,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.Ef(domain.KindStorage, "invalid dimension %d", dimension)
	}
	if s.dimension == dimension {
		return nil
	}
	var existing struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.getJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), &existing)
	switch {
	case err == nil:
		if got := existing.Result.Config.Params.Vectors.Size; got != 0 && got != dimension {
			return domain.Ef(domain.KindStorage,
				"collection %s holds %d-dimensional vectors, got %d", s.collection, got, dimension)
		}
	default:
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
		}
		if err := s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body); err != nil {
			return domain.E(domain.KindStorage, "create collection", err)
		}
		s.log.Debug().Str("collection", s.collection).Int("dimension", dimension).Msg("created qdrant collection")
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []domain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		points[i] = map[string]any{
			"id":      e.ID,
			"vector":  e.Vector,
			"payload": encodePayload(e),
		}
	}
	body := map[string]any{"points": points}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection)
	if err := s.putJSON(ctx, url, body); err != nil {
		return domain.E(domain.KindStorage, "upsert points", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, business string) ([]domain.ScoredReview, error) {
	if topK <= 0 {
		topK = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if business != "" {
		req["filter"] = businessFilter(business)
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, &resp); err != nil {
		return nil, domain.E(domain.KindStorage, "search points", err)
	}
	results := make([]domain.ScoredReview, 0, len(resp.Result))
	for _, r := range resp.Result {
		review, seq := decodePayload(r.Payload)
		results = append(results, domain.ScoredReview{Review: review, Score: r.Score, Seq: seq})
	}
	return results, nil
}

func (s *Storage) DeleteBusiness(ctx context.Context, business string) (int, error) {
	count, err := s.countBusiness(ctx, business)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	req := map[string]any{"filter": businessFilter(business)}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, nil); err != nil {
		return 0, domain.E(domain.KindStorage, "delete points", err)
	}
	return count, nil
}

func (s *Storage) Businesses(ctx context.Context) ([]string, error) {
	counts, err := s.businessCounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) Info(ctx context.Context) (domain.StoreInfo, error) {
	counts, err := s.businessCounts(ctx)
	if err != nil {
		return domain.StoreInfo{}, err
	}
	info := domain.StoreInfo{PerBusiness: counts}
	for _, n := range counts {
		info.TotalRecords += n
	}
	return info, nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) countBusiness(ctx context.Context, business string) (int, error) {
	req := map[string]any{"filter": businessFilter(business), "exact": true}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, &resp); err != nil {
		return 0, domain.E(domain.KindStorage, "count points", err)
	}
	return resp.Result.Count, nil
}

// businessCounts aggregates payloads with the scroll API; Qdrant has no
// distinct-values endpoint.
func (s *Storage) businessCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	url := fmt.Sprintf("%s/collections/%s/points/scroll", s.url, s.collection)
	var offset any
	for {
		req := map[string]any{
			"limit":        512,
			"with_payload": []string{"business"},
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.postJSON(ctx, url, req, &resp); err != nil {
			return nil, domain.E(domain.KindStorage, "scroll points", err)
		}
		for _, p := range resp.Result.Points {
			if b, ok := p.Payload["business"].(string); ok {
				counts[b]++
			}
		}
		if resp.Result.NextPageOffset == nil {
			return counts, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func businessFilter(business string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "business", "match": map[string]any{"value": business}},
		},
	}
}

func encodePayload(e domain.Entry) map[string]any {
	r := e.Review
	p := map[string]any{
		"business":  r.BusinessName,
		"reviewer":  r.ReviewerName,
		"rating":    r.Rating,
		"content":   r.Content,
		"date_text": r.DateText,
		"photos":    r.PhotoCount,
		"seq":       e.Seq,
	}
	if r.Dated() {
		p["date"] = r.Date.UTC().Format(time.RFC3339)
	}
	return p
}

func decodePayload(p map[string]any) (domain.Review, int64) {
	r := domain.Review{}
	if v, ok := p["business"].(string); ok {
		r.BusinessName = v
	}
	if v, ok := p["reviewer"].(string); ok {
		r.ReviewerName = v
	}
	if v, ok := p["rating"].(float64); ok {
		r.Rating = int(v)
	}
	if v, ok := p["content"].(string); ok {
		r.Content = v
	}
	if v, ok := p["date_text"].(string); ok {
		r.DateText = v
	}
	if v, ok := p["photos"].(float64); ok {
		r.PhotoCount = int(v)
	}
	if v, ok := p["date"].(string); ok {
		if d, err := time.Parse(time.RFC3339, v); err == nil {
			r.Date = d
		}
	}
	var seq int64
	if v, ok := p["seq"].(float64); ok {
		seq = int64(v)
	}
	return r, seq
}

func (s *Storage) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant GET %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *Storage) putJSON(ctx context.Context, url string, body any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *Storage) postJSON(ctx context.Context, url string, body any, out any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
