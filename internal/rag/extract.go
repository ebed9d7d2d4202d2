package rag

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/pkoukk/tiktoken-go"
)

// ErrUnsupportedContent rejects uploads the extractor cannot read.
var ErrUnsupportedContent = fmt.Errorf("unsupported document content")

// extract pulls plain text (and a best-effort title) out of uploaded bytes.
// HTML goes through readability; anything else must be valid UTF-8 text.
func extract(data []byte, contentType string) (text, title string, err error) {
	if looksLikeHTML(data, contentType) {
		base, _ := url.Parse("http://localhost/document")
		article, err := readability.FromReader(bytes.NewReader(data), base)
		if err != nil {
			return "", "", fmt.Errorf("readability: %w", err)
		}
		return article.TextContent, article.Title, nil
	}
	if !utf8.Valid(data) {
		return "", "", ErrUnsupportedContent
	}
	text = strings.TrimSpace(string(data))
	if text == "" {
		return "", "", ErrUnsupportedContent
	}
	return text, "", nil
}

func looksLikeHTML(data []byte, contentType string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	head := bytes.TrimSpace(data)
	if len(head) > 256 {
		head = head[:256]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}

// Splitter cuts text into token-budgeted overlapping chunks. When the
// tokenizer is unavailable it falls back to a rune-count approximation.
type Splitter struct {
	enc          *tiktoken.Tiktoken
	chunkTokens  int
	chunkOverlap int
}

func NewSplitter(encoding string, chunkTokens, chunkOverlap int) *Splitter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc = nil // fall back to rune counting
	}
	return &Splitter{enc: enc, chunkTokens: chunkTokens, chunkOverlap: chunkOverlap}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.enc == nil {
		// ~4 chars per token is close enough when the tokenizer is missing
		return splitRunes(text, s.chunkTokens*4, s.chunkOverlap*4)
	}
	ids := s.enc.Encode(text, nil, nil)
	if len(ids) <= s.chunkTokens {
		return []string{text}
	}
	var chunks []string
	step := s.chunkTokens - s.chunkOverlap
	for start := 0; start < len(ids); start += step {
		end := start + s.chunkTokens
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, strings.TrimSpace(s.enc.Decode(ids[start:end])))
		if end == len(ids) {
			break
		}
	}
	return chunks
}

func splitRunes(text string, approx, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + approx
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// makeChunks runs extraction and splitting, producing indexed chunks with
// stable ids derived from the content hash.
func makeChunks(data []byte, contentType string, split *Splitter) ([]Chunk, error) {
	text, title, err := extract(data, contentType)
	if err != nil {
		return nil, err
	}
	hash := sha1Hex(text)
	now := time.Now()
	var chunks []Chunk
	for i, part := range split.Split(text) {
		if part == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			DocID:       fmt.Sprintf("%s#%03d", hash, i),
			Title:       title,
			Text:        part,
			ContentHash: hash,
			ChunkIndex:  i,
			IngestedAt:  now,
		})
	}
	if len(chunks) == 0 {
		return nil, ErrUnsupportedContent
	}
	return chunks, nil
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
