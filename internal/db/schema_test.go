package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestSchemaSQLUsesDimension(t *testing.T) {
	sql := schemaSQL(1536)
	assert.Contains(t, sql, "HNSW DIMENSION 1536 DIST COSINE")
	assert.Contains(t, sql, "DEFINE TABLE IF NOT EXISTS memory_item SCHEMAFULL")
}

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: resource busy"}, ErrTransactionConflict},
		{"dimension", &surrealdb.QueryError{Message: "Incorrect vector dimension (3). Expected a vector of 768 dimension."}, ErrDimensionMismatch},
		{"wrapped conflict", fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "Transaction conflict"}), ErrTransactionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapQueryError(tt.err), tt.want)
		})
	}

	plain := errors.New("boom")
	assert.Same(t, plain, wrapQueryError(plain))
	assert.NoError(t, wrapQueryError(nil))
}
