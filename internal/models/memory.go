package models

import (
	"sort"
	"time"
)

// MemoryItem is a fact extracted from a conversation. It lives in the
// retrieval backend and points back to its source record.
type MemoryItem struct {
	ID             string    `json:"id"`
	Owner          string    `json:"user_id,omitempty"`
	ConversationID string    `json:"resource_id"`
	Category       string    `json:"category"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScoredItem is a MemoryItem with its similarity to a query.
type ScoredItem struct {
	MemoryItem
	Score float32 `json:"score"`
}

// Resource describes the conversation a memorize call stored.
type Resource struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// MemorizeResult is the extraction outcome for one conversation.
type MemorizeResult struct {
	ConversationID string       `json:"conversation_id"`
	Resource       Resource     `json:"resource"`
	Items          []MemoryItem `json:"items"`
	Categories     []string     `json:"categories"`
}

// RetrievalQuery asks for memory relevant to one or more query strings.
type RetrievalQuery struct {
	Queries []string
	Scope   *Scope
	Limit   int
}

// RetrievalResult lists matched items by descending score.
type RetrievalResult struct {
	Items      []ScoredItem `json:"items"`
	Categories []string     `json:"categories"`
}

// Categories returns the distinct non-empty categories of items in first-seen order.
func Categories(items []MemoryItem) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0)
	for _, it := range items {
		if it.Category == "" || seen[it.Category] {
			continue
		}
		seen[it.Category] = true
		out = append(out, it.Category)
	}
	return out
}

// ScoredCategories is Categories for ranked results.
func ScoredCategories(items []ScoredItem) []string {
	plain := make([]MemoryItem, len(items))
	for i, it := range items {
		plain[i] = it.MemoryItem
	}
	return Categories(plain)
}

// MergeScored combines result sets keyed by item ID, keeping each item's
// best score, and returns them sorted by score descending. Ties keep the
// order in which items were first seen. limit <= 0 means no limit.
func MergeScored(limit int, sets ...[]ScoredItem) []ScoredItem {
	index := make(map[string]int)
	merged := make([]ScoredItem, 0)
	for _, set := range sets {
		for _, it := range set {
			if i, ok := index[it.ID]; ok {
				if it.Score > merged[i].Score {
					merged[i].Score = it.Score
				}
				continue
			}
			index[it.ID] = len(merged)
			merged = append(merged, it)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
