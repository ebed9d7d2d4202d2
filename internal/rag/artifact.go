package rag

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// EmbedVec pairs a chunk id with its embedding vector.
type EmbedVec struct {
	DocID string    `json:"doc_id"`
	Vec   []float32 `json:"vec"`
}

// SearchHit is one retrieval result from the artifact.
type SearchHit struct {
	DocID   string
	Title   string
	Text    string
	Snippet string
	Score   float64
	Rank    int
}

// Artifact is the query-ready representation of one processed document:
// chunk metadata, embedding vectors and an in-memory BM25 index. The bleve
// index is never serialized; UnmarshalArtifact rebuilds it, which is the
// expensive step the local cache exists to amortize.
type Artifact struct {
	meta    map[string]Chunk
	vectors []EmbedVec
	bleve   bleve.Index
	mu      sync.RWMutex
}

func NewArtifact() (*Artifact, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Artifact{
		meta:  make(map[string]Chunk),
		bleve: index,
	}, nil
}

func (a *Artifact) AddChunk(chunk Chunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta[chunk.DocID] = chunk
	return a.bleve.Index(chunk.DocID, chunk)
}

func (a *Artifact) SetVector(docID string, v []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vectors = append(a.vectors, EmbedVec{DocID: docID, Vec: v})
}

func (a *Artifact) Chunks() []Chunk {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Chunk, 0, len(a.meta))
	for _, c := range a.meta {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (a *Artifact) Bm25Search(q string, k int) ([]SearchHit, error) {
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := a.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []SearchHit
	for i, hit := range res.Hits {
		doc := a.meta[hit.ID]
		out = append(out, SearchHit{
			DocID: hit.ID, Title: doc.Title, Text: doc.Text,
			Snippet: snippet(doc.Text),
			Score:   hit.Score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (a *Artifact) VectorSearch(q []float32, k int) []SearchHit {
	a.mu.RLock()
	defer a.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for _, v := range a.vectors {
		s := cosine(q, v.Vec)
		scoreds = append(scoreds, scored{id: v.DocID, score: s})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []SearchHit
	for i, sc := range scoreds {
		doc := a.meta[sc.id]
		out = append(out, SearchHit{
			DocID: sc.id, Title: doc.Title, Text: doc.Text,
			Snippet: snippet(doc.Text), Score: sc.score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out
}

func (a *Artifact) FuseRRF(x, y []SearchHit, k int) []SearchHit {
	type agg struct {
		item  SearchHit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []SearchHit) {
		for _, h := range list {
			e, ok := m[h.DocID]
			if !ok {
				m[h.DocID] = &agg{item: h}
				e = m[h.DocID]
			}
			e.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(x)
	add(y)
	items := make([]agg, 0, len(m))
	for _, v := range m {
		items = append(items, *v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	if k > len(items) {
		k = len(items)
	}
	out := make([]SearchHit, 0, k)
	for i := 0; i < k; i++ {
		h := items[i].item
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

// envelope is the serialized form stored in the shared state store.
type envelope struct {
	Version int        `json:"version"`
	Chunks  []Chunk    `json:"chunks"`
	Vectors []EmbedVec `json:"vectors"`
}

// Marshal serializes chunks and vectors. The BM25 index is rebuilt on load.
func (a *Artifact) Marshal() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	env := envelope{Version: 1, Vectors: a.vectors}
	env.Chunks = make([]Chunk, 0, len(a.meta))
	for _, c := range a.meta {
		env.Chunks = append(env.Chunks, c)
	}
	sort.Slice(env.Chunks, func(i, j int) bool { return env.Chunks[i].ChunkIndex < env.Chunks[j].ChunkIndex })
	return json.Marshal(env)
}

// UnmarshalArtifact deserializes an artifact and rebuilds its BM25 index.
func UnmarshalArtifact(data []byte) (*Artifact, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if env.Version != 1 {
		return nil, fmt.Errorf("unsupported artifact version %d", env.Version)
	}
	a, err := NewArtifact()
	if err != nil {
		return nil, err
	}
	for _, c := range env.Chunks {
		if err := a.AddChunk(c); err != nil {
			return nil, fmt.Errorf("rebuild index: %w", err)
		}
	}
	a.vectors = env.Vectors
	return a, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= 300 {
		return s
	}
	return string(runes[:300]) + "…"
}
