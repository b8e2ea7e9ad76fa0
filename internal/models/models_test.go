package models

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/memu-go/internal/apperr"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestParsePayloadObjectShape(t *testing.T) {
	raw := `{"content":[{"role":"user","content":{"text":"I like cats"},"created_at":"2024-01-01 00:00:00"}],"user":{"user_id":"alice"}}`

	rec, err := ParsePayload([]byte(raw), fixedNow)
	require.NoError(t, err)

	require.Len(t, rec.Messages, 1)
	assert.Equal(t, RoleUser, rec.Messages[0].Role)
	assert.Equal(t, "I like cats", rec.Messages[0].Content.Text)
	assert.Equal(t, "2024-01-01 00:00:00", rec.Messages[0].CreatedAt.String())
	assert.Equal(t, "alice", rec.OwnerID())
	assert.Empty(t, rec.ID)
	assert.Equal(t, "2025-03-14 09:26:53", rec.CreatedAt.String())
}

func TestParsePayloadListShapeAppliesDefaults(t *testing.T) {
	raw := `[
		{"content":"hello"},
		{"role":"assistant","content":{"text":"hi there"}},
		{"role":"system","created_at":"2024-05-01T10:00:00Z"}
	]`

	rec, err := ParsePayload([]byte(raw), fixedNow)
	require.NoError(t, err)
	require.Len(t, rec.Messages, 3)

	assert.Equal(t, RoleUser, rec.Messages[0].Role)
	assert.Equal(t, "hello", rec.Messages[0].Content.Text)
	assert.Equal(t, "2025-03-14 09:26:53", rec.Messages[0].CreatedAt.String())

	assert.Equal(t, RoleAssistant, rec.Messages[1].Role)
	assert.Equal(t, "hi there", rec.Messages[1].Content.Text)

	assert.Equal(t, RoleSystem, rec.Messages[2].Role)
	assert.Empty(t, rec.Messages[2].Content.Text)
	assert.Equal(t, "2024-05-01 10:00:00", rec.Messages[2].CreatedAt.String())

	assert.Nil(t, rec.Owner)
	assert.Equal(t, "", rec.OwnerID())
}

func TestParsePayloadRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty body", ""},
		{"scalar", `"just text"`},
		{"object without content", `{"user":{"user_id":"alice"}}`},
		{"content not a list", `{"content":"hello"}`},
		{"empty list", `[]`},
		{"unknown role", `[{"role":"tool","content":"x"}]`},
		{"message not object", `["hello"]`},
		{"numeric content", `[{"role":"user","content":42}]`},
		{"bad timestamp", `[{"content":"x","created_at":"yesterday"}]`},
		{"malformed json", `{"content":[`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.raw), fixedNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestParsePayloadPreservesOrder(t *testing.T) {
	raw := `[{"content":"one"},{"content":"two"},{"content":"three"},{"content":"four"}]`
	rec, err := ParsePayload([]byte(raw), fixedNow)
	require.NoError(t, err)

	var got []string
	for _, m := range rec.Messages {
		got = append(got, m.Content.Text)
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, got)
}

func TestConversationRecordJSONIsReplayable(t *testing.T) {
	raw := `[{"content":"hello"},{"role":"assistant","content":{"text":"hi"}}]`
	rec, err := ParsePayload([]byte(raw), fixedNow)
	require.NoError(t, err)
	rec.ID = "abc"
	rec.Owner = &Scope{UserID: "bob"}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"created_at":"2025-03-14 09:26:53"`)
	assert.Contains(t, string(data), `"user":{"user_id":"bob"}`)

	replayed, err := ParsePayload(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, rec.Messages, replayed.Messages)
	assert.Equal(t, "bob", replayed.OwnerID())
}

func TestParseTimestampNormalizesToUTC(t *testing.T) {
	ts, err := ParseTimestamp("2024-05-01T18:00:00.750+08:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 10:00:00", ts.String())

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, ts.Equal(back.Time))
}

func TestTurns(t *testing.T) {
	rec := &ConversationRecord{Messages: []Message{
		{Role: RoleUser, Content: Content{Text: "I like cats"}},
		{Role: RoleAssistant, Content: Content{Text: "Noted."}},
	}}
	assert.Equal(t, []string{"user: I like cats", "assistant: Noted."}, rec.Turns())
	assert.Empty(t, (&ConversationRecord{}).Turns())
}

func TestNewID(t *testing.T) {
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		require.Regexp(t, hex32, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestMergeScored(t *testing.T) {
	item := func(id, cat string, score float32) ScoredItem {
		return ScoredItem{MemoryItem: MemoryItem{ID: id, Category: cat}, Score: score}
	}

	first := []ScoredItem{item("a", "pets", 0.4), item("b", "food", 0.9)}
	second := []ScoredItem{item("a", "pets", 0.8), item("c", "", 0.1), item("d", "pets", 0.5)}

	merged := MergeScored(0, first, second)
	var ids []string
	for _, it := range merged {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"b", "a", "d", "c"}, ids)
	assert.InDelta(t, 0.8, merged[1].Score, 1e-6)

	assert.Len(t, MergeScored(2, first, second), 2)
	assert.Equal(t, []string{"food", "pets"}, ScoredCategories(merged))
	assert.Empty(t, MergeScored(5))
	assert.NotNil(t, ScoredCategories(nil))
}

func TestRecordIDString(t *testing.T) {
	id, err := RecordIDString(surrealmodels.NewRecordID("memory_item", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = RecordIDString(surrealmodels.NewRecordID("memory_item", 42))
	assert.Error(t, err)
}
