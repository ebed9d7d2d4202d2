package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

const mockVecDims = 64

// MockBackend is the deterministic, offline backend variant: hashed
// bag-of-words vectors instead of provider embeddings, and an extractive
// answer assembled from the top retrieval hits. Used in tests and for
// development without an API key.
type MockBackend struct {
	split     *Splitter
	topK      int
	maxChunks int
}

func NewMockBackend(split *Splitter, topK, maxChunks int) *MockBackend {
	if topK <= 0 {
		topK = 5
	}
	if maxChunks <= 0 {
		maxChunks = 256
	}
	return &MockBackend{split: split, topK: topK, maxChunks: maxChunks}
}

func (b *MockBackend) ExtractAndChunk(ctx context.Context, data []byte, contentType string) ([]Chunk, error) {
	return makeChunks(data, contentType, b.split)
}

func (b *MockBackend) BuildArtifact(ctx context.Context, chunks []Chunk) (*Artifact, error) {
	if len(chunks) > b.maxChunks {
		return nil, fmt.Errorf("%w: %d chunks, limit %d", ErrCapacityExceeded, len(chunks), b.maxChunks)
	}
	artifact, err := NewArtifact()
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if err := artifact.AddChunk(c); err != nil {
			return nil, err
		}
		artifact.SetVector(c.DocID, hashEmbed(c.Text))
	}
	return artifact, nil
}

func (b *MockBackend) Answer(ctx context.Context, query string, artifact *Artifact) (string, error) {
	bmHits, err := artifact.Bm25Search(query, b.topK)
	if err != nil {
		return "", err
	}
	vecHits := artifact.VectorSearch(hashEmbed(query), b.topK)
	hits := artifact.FuseRRF(bmHits, vecHits, b.topK)
	if len(hits) == 0 {
		return "I couldn't find anything relevant in the document.", nil
	}
	var sb strings.Builder
	sb.WriteString("Based on the document: ")
	for i, h := range hits {
		if i > 0 {
			sb.WriteString(" … ")
		}
		sb.WriteString(h.Snippet)
		if i == 1 {
			break
		}
	}
	return sb.String(), nil
}

// hashEmbed maps text to a fixed-dimension bag-of-words vector. Deterministic
// so that serialize/deserialize round-trips answer identically.
func hashEmbed(text string) []float32 {
	vec := make([]float32, mockVecDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%mockVecDims]++
	}
	return vec
}
