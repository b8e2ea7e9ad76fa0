package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

// rawMessage mirrors Message with every field optional so defaults can be applied.
type rawMessage struct {
	Role      *string         `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt *string         `json:"created_at"`
}

type rawPayload struct {
	Content json.RawMessage `json:"content"`
	User    *Scope          `json:"user"`
}

// ParsePayload builds a ConversationRecord from a memorize payload. Two
// shapes are recognized:
//
//	{"content": [{"role", "content": {"text"}, "created_at"}...], "user": {"user_id"}}
//	[{"role", "content", "created_at"}...]
//
// Missing roles default to "user", missing timestamps to now, missing content
// to empty text. The returned record has no ID; the store assigns one.
func ParsePayload(raw []byte, now time.Time) (*ConversationRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, apperr.Validation("empty payload")
	}

	var list json.RawMessage
	var owner *Scope

	switch raw[0] {
	case '[':
		list = raw
	case '{':
		var p rawPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, apperr.Validation("malformed payload: %v", err)
		}
		if len(p.Content) == 0 || bytes.Equal(p.Content, []byte("null")) {
			return nil, apperr.Validation("payload must contain a 'content' list of messages")
		}
		list = p.Content
		if p.User != nil && p.User.UserID != "" {
			owner = p.User
		}
	default:
		return nil, apperr.Validation("payload must be a conversation object or a list of messages")
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, apperr.Validation("'content' must be a list of messages")
	}
	if len(entries) == 0 {
		return nil, apperr.Validation("conversation has no messages")
	}

	stamp := Timestamp{now.UTC().Truncate(time.Second)}
	messages := make([]Message, 0, len(entries))
	for i, entry := range entries {
		msg, err := parseMessage(entry, stamp)
		if err != nil {
			return nil, apperr.Validation("message %d: %v", i, err)
		}
		messages = append(messages, msg)
	}

	return &ConversationRecord{
		Messages:  messages,
		Owner:     owner,
		CreatedAt: stamp,
		Raw:       bytes.Clone(raw),
	}, nil
}

func parseMessage(entry json.RawMessage, now Timestamp) (Message, error) {
	var rm rawMessage
	if err := json.Unmarshal(entry, &rm); err != nil {
		return Message{}, errors.New("must be an object with role and content")
	}

	msg := Message{Role: RoleUser, CreatedAt: now}
	if rm.Role != nil && *rm.Role != "" {
		msg.Role = Role(*rm.Role)
		if !msg.Role.Valid() {
			return Message{}, fmt.Errorf("unknown role %q", *rm.Role)
		}
	}
	if len(rm.Content) > 0 {
		if err := json.Unmarshal(rm.Content, &msg.Content); err != nil {
			return Message{}, fmt.Errorf("invalid content: %w", err)
		}
	}
	if rm.CreatedAt != nil && *rm.CreatedAt != "" {
		ts, err := ParseTimestamp(*rm.CreatedAt)
		if err != nil {
			return Message{}, err
		}
		msg.CreatedAt = ts
	}
	return msg, nil
}
