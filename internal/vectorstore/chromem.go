// Package vectorstore is an embedded retrieval backend on chromem-go.
// Each owner gets its own collection; items without an owner share one.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/raphaelgruber/memu-go/internal/models"
)

const globalCollection = "global"

// ChromemStore stores memory items and their vectors in chromem-go.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // keyed by collection name
	mu          sync.RWMutex
	logger      *slog.Logger
}

// New returns a store. With an empty dir everything stays in memory;
// otherwise collections are persisted under dir and reloaded on start.
func New(dir string, logger *slog.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := chromem.NewDB()
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store %s: %w", dir, err)
		}
	}

	s := &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With("component", "chromem"),
	}
	for name, col := range db.ListCollections() {
		s.collections[name] = col
	}
	return s, nil
}

func collectionName(owner string) string {
	if owner == "" {
		return globalCollection
	}
	return "user_" + owner
}

// collection returns the collection for owner, creating it when create is set.
func (s *ChromemStore) collection(owner string, create bool) (*chromem.Collection, error) {
	name := collectionName(owner)

	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	// Vectors are always supplied by the caller, so no embedding func.
	col, err := s.db.GetOrCreateCollection(name, map[string]string{"owner": owner}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert stores items with their vectors. An existing item with the same
// ID is replaced.
func (s *ChromemStore) Upsert(ctx context.Context, items []models.MemoryItem, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return fmt.Errorf("upsert: %d items but %d vectors", len(items), len(vectors))
	}
	for i, item := range items {
		col, err := s.collection(item.Owner, true)
		if err != nil {
			return err
		}
		doc := chromem.Document{
			ID:        item.ID,
			Content:   item.Content,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"owner":           item.Owner,
				"conversation_id": item.ConversationID,
				"category":        item.Category,
				"created_at":      item.CreatedAt.UTC().Format(time.RFC3339),
			},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", item.ID, err)
		}
	}
	s.logger.Debug("memory items stored", "count", len(items))
	return nil
}

// Search returns up to limit items nearest to vector. A nil scope searches
// every collection.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, scope *models.Scope, limit int) ([]models.ScoredItem, error) {
	var cols []*chromem.Collection
	if scope != nil {
		col, err := s.collection(scope.UserID, false)
		if err != nil {
			return nil, err
		}
		if col != nil {
			cols = append(cols, col)
		}
	} else {
		s.mu.RLock()
		for _, col := range s.collections {
			cols = append(cols, col)
		}
		s.mu.RUnlock()
	}

	out := make([]models.ScoredItem, 0)
	for _, col := range cols {
		// chromem rejects nResults larger than the collection.
		n := min(limit, col.Count())
		if n <= 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query collection %s: %w", col.Name, err)
		}
		for _, r := range results {
			out = append(out, toScored(r))
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored items across all collections.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, col := range s.collections {
		n += col.Count()
	}
	return n
}

func toScored(r chromem.Result) models.ScoredItem {
	created, _ := time.Parse(time.RFC3339, r.Metadata["created_at"])
	return models.ScoredItem{
		MemoryItem: models.MemoryItem{
			ID:             r.ID,
			Owner:          r.Metadata["owner"],
			ConversationID: r.Metadata["conversation_id"],
			Category:       r.Metadata["category"],
			Content:        strings.TrimSpace(r.Content),
			CreatedAt:      created,
		},
		Score: r.Similarity,
	}
}
