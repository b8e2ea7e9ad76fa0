package db

import "fmt"

// schemaTemplate defines the memory item table. The format verb is the
// embedding dimension of the HNSW index.
const schemaTemplate = `
    -- ==========================================================================
    -- MEMORY ITEM TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS memory_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON memory_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS conversation_id ON memory_item TYPE string;
    DEFINE FIELD IF NOT EXISTS category ON memory_item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS content ON memory_item TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON memory_item TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON memory_item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS memory_item_owner ON memory_item FIELDS owner;
    DEFINE INDEX IF NOT EXISTS memory_item_conversation ON memory_item FIELDS conversation_id;
    DEFINE INDEX IF NOT EXISTS memory_item_embedding ON memory_item FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`

func schemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
