package vectorstore

import (
	"context"

	"reviewlens/internal/domain"
)

// Storage persists indexed entries and supports filtered similarity search.
// A handle is opened at process start and closed at shutdown; no implicit
// process-wide state.
type Storage interface {
	// Init pins the vector dimension. It is idempotent; reopening a persisted
	// collection with a different dimension is an error, since that means the
	// embedding model changed under stored data.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []domain.Entry) error
	// Search returns up to topK entries by descending similarity. An empty
	// business searches everything; otherwise only exact business matches are
	// returned, and a post-filter population smaller than topK yields that
	// many results without error.
	Search(ctx context.Context, vector []float32, topK int, business string) ([]domain.ScoredReview, error)
	DeleteBusiness(ctx context.Context, business string) (int, error)
	Businesses(ctx context.Context) ([]string, error)
	Info(ctx context.Context) (domain.StoreInfo, error)
	Close() error
}
