package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/memu-go/internal/models"
)

// InputMessage is the loose message shape accepted on the command line.
type InputMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// BuildConversation turns a JSON array of InputMessage into a record owned
// by userID. Missing roles default to user and missing timestamps to now.
func BuildConversation(userID string, input []byte, now time.Time) (*models.ConversationRecord, error) {
	var msgs []InputMessage
	if err := json.Unmarshal(input, &msgs); err != nil {
		return nil, fmt.Errorf("input must be a JSON array of messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("input contains no messages")
	}

	stamp := models.Timestamp{Time: now.UTC().Truncate(time.Second)}
	rec := &models.ConversationRecord{
		Messages:  make([]models.Message, 0, len(msgs)),
		CreatedAt: stamp,
	}
	if userID != "" {
		rec.Owner = &models.Scope{UserID: userID}
	}

	for i, m := range msgs {
		role := models.Role(m.Role)
		if role == "" {
			role = models.RoleUser
		}
		if !role.Valid() {
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		created := stamp
		if m.CreatedAt != "" {
			ts, err := models.ParseTimestamp(m.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			created = ts
		}
		rec.Messages = append(rec.Messages, models.Message{
			Role:      role,
			Content:   models.Content{Text: m.Content},
			CreatedAt: created,
		})
	}
	return rec, nil
}
