package model

import (
	"encoding/json"
	"time"
)

// SchemaRecord is a persisted, versioned metadata schema definition.
type SchemaRecord struct {
	NodeType   string          `json:"node_type"`
	Version    int             `json:"schema_version"`
	JSONSchema json.RawMessage `json:"json_schema"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Commit is one entry of the structured store's commit log.
type Commit struct {
	ID        string    `json:"id"`
	Branch    string    `json:"branch"`
	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	BlockID   string    `json:"block_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IndexState records whether a block's vector node matches the structured store.
type IndexState struct {
	BlockID     string     `json:"block_id"`
	ContentHash string     `json:"content_hash,omitempty"`
	Consistent  bool       `json:"consistent"`
	LastError   string     `json:"last_error,omitempty"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
}
