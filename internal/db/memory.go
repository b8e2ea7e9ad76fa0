package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/memu-go/internal/models"
)

// memoryRow is the stored shape of a memory item. Score is only set by
// search queries.
type memoryRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Owner          string                 `json:"owner"`
	ConversationID string                 `json:"conversation_id"`
	Category       string                 `json:"category"`
	Content        string                 `json:"content"`
	CreatedAt      time.Time              `json:"created_at"`
	Score          float64                `json:"score,omitempty"`
}

func (r memoryRow) scored() (models.ScoredItem, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.ScoredItem{}, err
	}
	return models.ScoredItem{
		MemoryItem: models.MemoryItem{
			ID:             id,
			Owner:          r.Owner,
			ConversationID: r.ConversationID,
			Category:       r.Category,
			Content:        r.Content,
			CreatedAt:      r.CreatedAt.UTC(),
		},
		Score: float32(r.Score),
	}, nil
}

// Upsert stores items with their vectors. An existing item with the same
// ID is overwritten.
func (c *Client) Upsert(ctx context.Context, items []models.MemoryItem, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return fmt.Errorf("upsert memory items: %d items but %d vectors", len(items), len(vectors))
	}

	sql := `
		UPSERT type::record("memory_item", $id) SET
			owner = $owner,
			conversation_id = $conversation_id,
			category = $category,
			content = $content,
			embedding = $embedding,
			created_at = <datetime>$created_at
		RETURN NONE
	`
	for i, item := range items {
		created := item.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
			"id":              item.ID,
			"owner":           item.Owner,
			"conversation_id": item.ConversationID,
			"category":        item.Category,
			"content":         item.Content,
			"embedding":       vectors[i],
			"created_at":      created.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("upsert memory item %s: %w", item.ID, wrapQueryError(err))
		}
	}
	return nil
}

// Search returns up to limit items nearest to vector by cosine similarity.
// A nil scope searches every owner.
func (c *Client) Search(ctx context.Context, vector []float32, scope *models.Scope, limit int) ([]models.ScoredItem, error) {
	if limit <= 0 {
		return []models.ScoredItem{}, nil
	}

	k := limit
	ownerClause := ""
	vars := map[string]any{
		"emb":   vector,
		"limit": limit,
	}
	if scope != nil {
		ownerClause = "AND owner = $owner"
		vars["owner"] = scope.UserID
		// Neighbours are picked before the owner filter applies.
		k = limit * 4
	}

	// HNSW with ef=40; the KNN operator needs a literal k.
	sql := fmt.Sprintf(`
		SELECT id, owner, conversation_id, category, content, created_at,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM memory_item
		WHERE embedding <|%d,40|> $emb %s
		ORDER BY score DESC
		LIMIT $limit
	`, k, ownerClause)

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search memory items: %w", wrapQueryError(err))
	}

	out := make([]models.ScoredItem, 0)
	if results == nil || len(*results) == 0 {
		return out, nil
	}
	for _, row := range (*results)[0].Result {
		item, err := row.scored()
		if err != nil {
			return nil, fmt.Errorf("search memory items: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Count returns the number of stored memory items.
func (c *Client) Count(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, `SELECT count() AS c FROM memory_item GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("count memory items: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}
