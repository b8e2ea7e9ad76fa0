package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the wire format for message and record timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Timestamp is a time.Time that serializes as TimestampLayout and accepts
// either that layout or RFC 3339 on input. Values are kept in UTC at
// second precision so they survive a round trip unchanged.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s as TimestampLayout, then RFC 3339.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{t.UTC().Truncate(time.Second)}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) String() string { return t.Format(TimestampLayout) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Content is a message payload. Only text is carried today.
type Content struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts {"text": "..."}, a bare string, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &c.Text)
	case data[0] == '{':
		type plain Content
		var p plain
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*c = Content(p)
		return nil
	default:
		return fmt.Errorf("content must be a string or an object with a text field")
	}
}

// Message is a single turn of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

// Scope restricts an operation to a single owner.
type Scope struct {
	UserID string `json:"user_id"`
}

// ConversationRecord is a persisted transcript. Its JSON form is the
// canonical memorize payload, so a stored record can be replayed as-is.
type ConversationRecord struct {
	ID        string    `json:"id,omitempty"`
	Messages  []Message `json:"content"`
	Owner     *Scope    `json:"user,omitempty"`
	CreatedAt Timestamp `json:"created_at"`

	// Raw is the payload exactly as received, kept by stores next to the
	// canonical form. Empty for records not built by ParsePayload.
	Raw []byte `json:"-"`
}

// OwnerID returns the owner's user ID or "" for unowned records.
func (r *ConversationRecord) OwnerID() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.UserID
}

// Turns renders each message as "role: text", in order.
func (r *ConversationRecord) Turns() []string {
	turns := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		turns[i] = string(m.Role) + ": " + m.Content.Text
	}
	return turns
}

// NewID returns a 128-bit random identifier as 32 lowercase hex characters.
func NewID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}
