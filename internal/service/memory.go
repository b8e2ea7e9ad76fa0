// Package service implements memorize and retrieve on top of the
// conversation store, the provider router and a retrieval backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/llm"
	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/models"
	"github.com/raphaelgruber/memu-go/internal/router"
	"github.com/raphaelgruber/memu-go/internal/store"
)

// DefaultRetrieveLimit caps retrieve results when neither the query nor
// the service sets a limit.
const DefaultRetrieveLimit = 10

// Models is the subset of the router the service calls.
type Models interface {
	Summarize(ctx context.Context, text string, opts router.SummarizeOptions) (string, error)
	Chat(ctx context.Context, messages []llm.Message, opts router.ChatOptions) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend stores memory items and ranks them against a query vector.
type Backend interface {
	Upsert(ctx context.Context, items []models.MemoryItem, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, scope *models.Scope, limit int) ([]models.ScoredItem, error)
}

// Options configures a MemoryService.
type Options struct {
	// RetrieveLimit is the default maximum number of retrieved items.
	RetrieveLimit int
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// MemoryService memorizes conversations and retrieves memory for queries.
type MemoryService struct {
	store     store.Store
	models    Models
	backend   Backend
	extractor *Extractor

	limit   int
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// NewMemoryService creates a memory service.
func NewMemoryService(st store.Store, m Models, backend Backend, opts Options) *MemoryService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.RetrieveLimit
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	return &MemoryService{
		store:     st,
		models:    m,
		backend:   backend,
		extractor: NewExtractor(m, logger),
		limit:     limit,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Memorize parses raw, persists the conversation and extracts memory from
// it. The record is durable before any provider is called, so a provider
// failure leaves the conversation stored without memory items.
func (s *MemoryService) Memorize(ctx context.Context, raw []byte) (*models.MemorizeResult, error) {
	start := time.Now()
	result, err := s.memorize(ctx, raw)
	s.metrics.RecordTiming(metrics.OpMemorize, time.Since(start), err)
	return result, err
}

func (s *MemoryService) memorize(ctx context.Context, raw []byte) (*models.MemorizeResult, error) {
	rec, err := models.ParsePayload(raw, s.now())
	if err != nil {
		return nil, err
	}

	persistStart := time.Now()
	id, err := s.store.Persist(ctx, rec)
	s.metrics.RecordTiming(metrics.OpPersist, time.Since(persistStart), err)
	if err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	stored := *rec
	stored.ID = id
	s.logger.Info("conversation persisted", "conversation", id, "user", stored.OwnerID(), "messages", len(stored.Messages))

	items, err := s.extractor.Extract(ctx, &stored)
	if err != nil {
		return nil, err
	}

	// Embed everything before writing so a failure leaves the backend untouched.
	vectors := make([][]float32, len(items))
	for i, item := range items {
		vec, err := s.models.Embed(ctx, item.Content)
		if err != nil {
			return nil, fmt.Errorf("embed memory item: %w", err)
		}
		vectors[i] = vec
	}

	if len(items) > 0 {
		upsertStart := time.Now()
		err := s.backend.Upsert(ctx, items, vectors)
		s.metrics.RecordTiming(metrics.OpBackendUpsert, time.Since(upsertStart), err)
		if err != nil {
			return nil, apperr.Storage("store memory items", err)
		}
	}

	caption, err := s.extractor.Caption(ctx, &stored)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("caption failed, continuing without one", "conversation", id, "error", err)
	}

	s.logger.Info("conversation memorized", "conversation", id, "items", len(items))
	return &models.MemorizeResult{
		ConversationID: id,
		Resource:       models.Resource{ID: id, Caption: caption},
		Items:          items,
		Categories:     models.Categories(items),
	}, nil
}

// Retrieve embeds every query, searches the backend with each vector and
// merges the results by item ID. Any embedding failure aborts the call.
// Retrieve never writes.
func (s *MemoryService) Retrieve(ctx context.Context, q models.RetrievalQuery) (*models.RetrievalResult, error) {
	start := time.Now()
	result, err := s.retrieve(ctx, q)
	s.metrics.RecordTiming(metrics.OpRetrieve, time.Since(start), err)
	return result, err
}

func (s *MemoryService) retrieve(ctx context.Context, q models.RetrievalQuery) (*models.RetrievalResult, error) {
	queries := make([]string, 0, len(q.Queries))
	for _, text := range q.Queries {
		if text = strings.TrimSpace(text); text != "" {
			queries = append(queries, text)
		}
	}
	if len(queries) == 0 {
		return nil, apperr.Validation("at least one non-empty query is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.limit
	}

	vectors := make([][]float32, len(queries))
	for i, text := range queries {
		vec, err := s.models.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vectors[i] = vec
	}

	sets := make([][]models.ScoredItem, 0, len(vectors))
	for _, vec := range vectors {
		searchStart := time.Now()
		found, err := s.backend.Search(ctx, vec, q.Scope, limit)
		s.metrics.RecordTiming(metrics.OpBackendSearch, time.Since(searchStart), err)
		if err != nil {
			return nil, apperr.Storage("search memory items", err)
		}
		sets = append(sets, found)
	}

	items := models.MergeScored(limit, sets...)
	s.logger.Debug("memory retrieved", "queries", len(queries), "items", len(items))
	return &models.RetrievalResult{
		Items:      items,
		Categories: models.ScoredCategories(items),
	}, nil
}

// Conversation returns a stored conversation by ID.
func (s *MemoryService) Conversation(ctx context.Context, id string) (*models.ConversationRecord, error) {
	rec, err := s.store.Locate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("locate conversation: %w", err)
	}
	return rec, nil
}
