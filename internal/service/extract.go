package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/memu-go/internal/llm"
	"github.com/raphaelgruber/memu-go/internal/models"
	"github.com/raphaelgruber/memu-go/internal/parser"
	"github.com/raphaelgruber/memu-go/internal/router"
)

const extractPrompt = `You extract durable memories about the user from a conversation.

Output format (one per line):
category|fact

Guidelines:
- category is a short lowercase noun such as preferences, work, relationships, health, events
- fact is one self-contained sentence in the third person that names the user when known
- Only include facts stated or clearly implied in the conversation
- Output nothing if there is nothing worth remembering`

const captionPrompt = `Write a one-sentence caption describing what this conversation is about. Reply with the caption only.`

// Extractor turns a conversation transcript into memory items and a
// caption using the routed model operations.
type Extractor struct {
	models   Models
	logger   *slog.Logger
	now      func() time.Time
	chunking parser.ChunkConfig
}

// NewExtractor creates an extractor.
func NewExtractor(m Models, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{models: m, logger: logger, now: time.Now, chunking: parser.DefaultChunkConfig()}
}

// Extract summarizes rec into category|fact lines and returns the parsed
// items. Long transcripts are summarized chunk by chunk. Items reference
// rec.ID and inherit its owner.
func (e *Extractor) Extract(ctx context.Context, rec *models.ConversationRecord) ([]models.MemoryItem, error) {
	chunks := e.chunks(rec)
	outputs := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := e.models.Summarize(ctx, chunk, router.SummarizeOptions{SystemPrompt: extractPrompt})
		if err != nil {
			if len(chunks) > 1 {
				return nil, fmt.Errorf("extract memory (chunk %d of %d): %w", i+1, len(chunks), err)
			}
			return nil, fmt.Errorf("extract memory: %w", err)
		}
		outputs = append(outputs, out)
	}
	items := parseItems(strings.Join(outputs, "\n"), rec, e.now().UTC())
	e.logger.Debug("memory extracted", "conversation", rec.ID, "chunks", len(chunks), "items", len(items))
	return items, nil
}

// Caption asks the chat_fallback binding for a one-line description of rec.
func (e *Extractor) Caption(ctx context.Context, rec *models.ConversationRecord) (string, error) {
	out, err := e.models.Chat(ctx, []llm.Message{
		{Role: models.RoleSystem, Content: captionPrompt},
		{Role: models.RoleUser, Content: e.firstChunk(rec)},
	}, router.ChatOptions{MaxTokens: 64, Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("caption conversation: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// chunks splits rec's transcript for the summarize model, naming the owner
// at the top of every chunk.
func (e *Extractor) chunks(rec *models.ConversationRecord) []string {
	chunks := parser.ChunkTranscript(rec.Turns(), e.chunking)
	for i := range chunks {
		chunks[i] = withOwner(rec, chunks[i]+"\n")
	}
	return chunks
}

func (e *Extractor) firstChunk(rec *models.ConversationRecord) string {
	if chunks := e.chunks(rec); len(chunks) > 0 {
		return chunks[0]
	}
	return withOwner(rec, "")
}

func withOwner(rec *models.ConversationRecord, transcript string) string {
	if id := rec.OwnerID(); id != "" {
		return "The user in this conversation is " + id + ".\n\n" + transcript
	}
	return transcript
}

// parseItems reads category|fact lines. Lines without a separator or with
// an empty fact are skipped, as are repeats.
func parseItems(text string, rec *models.ConversationRecord, now time.Time) []models.MemoryItem {
	items := make([]models.MemoryItem, 0)
	seen := make(map[string]bool)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		category, fact, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		category = strings.ToLower(strings.TrimSpace(category))
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		key := category + "|" + strings.ToLower(fact)
		if seen[key] {
			continue
		}
		seen[key] = true

		items = append(items, models.MemoryItem{
			ID:             models.NewID(),
			Owner:          rec.OwnerID(),
			ConversationID: rec.ID,
			Category:       category,
			Content:        fact,
			CreatedAt:      now,
		})
	}
	return items
}
