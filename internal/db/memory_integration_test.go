//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/memu-go/internal/llm/llmtest"
	"github.com/raphaelgruber/memu-go/internal/models"
)

const testDimension = 64

var testDB *Client

// TestMain starts a SurrealDB container shared by all integration tests.
func TestMain(m *testing.M) {
	// Ryuk fails to start in some CI environments.
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v2.3.7",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("container port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := testDB.InitSchema(ctx, testDimension); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func upsert(t *testing.T, items ...models.MemoryItem) {
	t.Helper()
	vectors := make([][]float32, len(items))
	for i, it := range items {
		vectors[i] = llmtest.BagOfWords(it.Content, testDimension)
	}
	require.NoError(t, testDB.Upsert(context.Background(), items, vectors))
}

func TestUpsertAndSearchScoped(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	upsert(t,
		models.MemoryItem{ID: models.NewID(), Owner: "alice", ConversationID: "c1", Category: "preferences", Content: "alice likes cats", CreatedAt: created},
		models.MemoryItem{ID: models.NewID(), Owner: "bob", ConversationID: "c2", Category: "preferences", Content: "bob likes cats", CreatedAt: created},
	)

	got, err := testDB.Search(ctx, llmtest.BagOfWords("what does alice like", testDimension), &models.Scope{UserID: "alice"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice likes cats", got[0].Content)
	assert.Equal(t, "preferences", got[0].Category)
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.True(t, created.Equal(got[0].CreatedAt))
	assert.Greater(t, got[0].Score, float32(0))

	all, err := testDB.Search(ctx, llmtest.BagOfWords("cats", testDimension), nil, 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	id := models.NewID()
	upsert(t, models.MemoryItem{ID: id, Owner: "alice", ConversationID: "c1", Content: "alice likes cats"})
	upsert(t, models.MemoryItem{ID: id, Owner: "alice", ConversationID: "c1", Content: "alice likes dogs"})

	n, err := testDB.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchEmptyTable(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	got, err := testDB.Search(ctx, llmtest.BagOfWords("anything", testDimension), &models.Scope{UserID: "nobody"}, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpsertWrongDimension(t *testing.T) {
	err := testDB.Upsert(context.Background(),
		[]models.MemoryItem{{ID: models.NewID(), Content: "short"}},
		[][]float32{{0.1, 0.2, 0.3}},
	)
	assert.Error(t, err)
}

func TestConnectionSurvivesIdle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := testDB.Query(ctx, "RETURN 1", nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Second)
	_, err = testDB.Query(ctx, "RETURN 2", nil)
	require.NoError(t, err)
}
