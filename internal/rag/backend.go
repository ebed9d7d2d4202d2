package rag

import (
	"context"
	"errors"
	"time"
)

// ErrCapacityExceeded marks a document the backend cannot process (too large or
// too expensive to embed). Terminal for the ingestion task.
var ErrCapacityExceeded = errors.New("document exceeds processing capacity")

// ErrQuotaExceeded marks a query-time throttle from the backend. Retryable by
// the client, surfaced like a rate limit.
var ErrQuotaExceeded = errors.New("answer quota exhausted, try again later")

// Chunk is one indexed slice of an uploaded document.
type Chunk struct {
	DocID       string    `json:"doc_id"`
	Title       string    `json:"title,omitempty"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	ChunkIndex  int       `json:"chunk_index"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Backend is the content-processing collaborator: extraction, artifact
// construction and answer generation. Variants are chosen at construction
// time, never by flag checks inside callers.
type Backend interface {
	ExtractAndChunk(ctx context.Context, data []byte, contentType string) ([]Chunk, error)
	// BuildArtifact embeds and indexes chunks. Fails with ErrCapacityExceeded
	// when the document is beyond the backend's limits.
	BuildArtifact(ctx context.Context, chunks []Chunk) (*Artifact, error)
	// Answer generates an answer to query against the artifact. Fails with
	// ErrQuotaExceeded when the backend throttles the request.
	Answer(ctx context.Context, query string, artifact *Artifact) (string, error)
}
