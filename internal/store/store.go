// Package store persists conversation records. Records are immutable once
// written; every Persist call creates a new record with a fresh ID.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/raphaelgruber/memu-go/internal/models"
)

// ErrNotFound indicates no record exists for an ID.
var ErrNotFound = errors.New("conversation not found")

// Store persists and looks up conversation records.
type Store interface {
	// Persist durably writes rec under a newly generated ID and returns it.
	// The write is complete before Persist returns.
	Persist(ctx context.Context, rec *models.ConversationRecord) (string, error)
	// Locate returns the record for id or ErrNotFound.
	Locate(ctx context.Context, id string) (*models.ConversationRecord, error)
}

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// validID reports whether id has the shape NewID produces. Anything else
// cannot name a stored record, which also keeps IDs out of file paths.
func validID(id string) bool { return idPattern.MatchString(id) }

// storedRecord is the canonical record plus the payload as received, so
// fields the parser does not know survive.
type storedRecord struct {
	*models.ConversationRecord
	RawPayload string `json:"raw_payload,omitempty"`
}

// encode returns the stored JSON for rec stamped with id.
func encode(rec *models.ConversationRecord, id string) ([]byte, error) {
	stamped := *rec
	stamped.ID = id
	return json.Marshal(storedRecord{ConversationRecord: &stamped, RawPayload: string(rec.Raw)})
}

func decode(data []byte) (*models.ConversationRecord, error) {
	stored := storedRecord{ConversationRecord: &models.ConversationRecord{}}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	rec := stored.ConversationRecord
	if rec.Messages == nil {
		rec.Messages = []models.Message{}
	}
	if stored.RawPayload != "" {
		rec.Raw = []byte(stored.RawPayload)
	}
	return rec, nil
}
