package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/user/docqa/provider"
)

const embedBatchSize = 64

// OpenAIBackend builds artifacts with provider embeddings and answers with a
// provider completion over fused BM25 + vector retrieval.
type OpenAIBackend struct {
	prov      provider.Provider
	split     *Splitter
	topK      int
	maxChunks int
	logger    *log.Logger
}

func NewOpenAIBackend(prov provider.Provider, split *Splitter, topK, maxChunks int) *OpenAIBackend {
	if topK <= 0 {
		topK = 5
	}
	if maxChunks <= 0 {
		maxChunks = 256
	}
	return &OpenAIBackend{
		prov:      prov,
		split:     split,
		topK:      topK,
		maxChunks: maxChunks,
		logger:    log.New(log.Writer(), "[RAG] ", log.LstdFlags),
	}
}

func (b *OpenAIBackend) ExtractAndChunk(ctx context.Context, data []byte, contentType string) ([]Chunk, error) {
	return makeChunks(data, contentType, b.split)
}

func (b *OpenAIBackend) BuildArtifact(ctx context.Context, chunks []Chunk) (*Artifact, error) {
	if len(chunks) > b.maxChunks {
		return nil, fmt.Errorf("%w: %d chunks, limit %d", ErrCapacityExceeded, len(chunks), b.maxChunks)
	}
	artifact, err := NewArtifact()
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if err := artifact.AddChunk(c); err != nil {
			return nil, fmt.Errorf("index chunk: %w", err)
		}
	}
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := b.prov.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, classifyBuildErr(err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(batch))
		}
		for i, v := range vecs {
			artifact.SetVector(batch[i].DocID, v)
		}
	}
	return artifact, nil
}

func (b *OpenAIBackend) Answer(ctx context.Context, query string, artifact *Artifact) (string, error) {
	bmHits, err := artifact.Bm25Search(query, b.topK)
	if err != nil {
		return "", err
	}
	qvecs, err := b.prov.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return "", classifyAnswerErr(err)
	}
	var vecHits []SearchHit
	if len(qvecs) == 1 {
		vecHits = artifact.VectorSearch(qvecs[0], b.topK)
	}
	hits := artifact.FuseRRF(bmHits, vecHits, b.topK)
	if len(hits) == 0 {
		return "I couldn't find anything relevant in the document.", nil
	}
	contexts := make([]string, len(hits))
	for i, h := range hits {
		contexts[i] = h.Text
	}
	answer, err := b.prov.Answer(ctx, query, contexts)
	if err != nil {
		return "", classifyAnswerErr(err)
	}
	return answer, nil
}

// classifyBuildErr maps provider failures during ingestion. Size and throttle
// rejections are both terminal for the task, so they surface as capacity.
func classifyBuildErr(err error) error {
	var se *provider.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrCapacityExceeded, err)
		}
	}
	return err
}

func classifyAnswerErr(err error) error {
	var se *provider.StatusError
	if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
