package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkTable ChunkKind = "table"
)

// Document is one corpus file. Re-ingesting a file with the same name overwrites its chunks.
type Document struct {
	FileName  string
	Content   []byte
	Year      *int
	Pages     int
	UpdatedAt time.Time
}

// Segment is a span of extracted lines sharing one kind. Never persisted.
type Segment struct {
	Kind    ChunkKind
	Content string
}

type Chunk struct {
	ID      string
	Content string
	Kind    ChunkKind
	Source  string // file name of the owning document
	Index   int
	Year    *int
}

// ChunkID is the deterministic identifier of the index-th chunk of fileName.
func ChunkID(fileName string, index int) string {
	return fmt.Sprintf("%s_%d", fileName, index)
}

// DocumentTitle turns a file name into a human readable title.
func DocumentTitle(fileName string) string {
	name := filepath.Base(fileName)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// ChunkMeta is the payload stored next to every vector.
type ChunkMeta struct {
	Content    string    `json:"text"`
	Source     string    `json:"fileName"`
	Kind       ChunkKind `json:"type"`
	Year       *int      `json:"year,omitempty"`
	ChunkIndex int       `json:"chunkIndex"`
}

func (c Chunk) Meta() ChunkMeta {
	return ChunkMeta{
		Content:    c.Content,
		Source:     c.Source,
		Kind:       c.Kind,
		Year:       c.Year,
		ChunkIndex: c.Index,
	}
}

// Filter narrows a similarity query. Nil fields are ignored.
type Filter struct {
	Year   *int
	Kind   ChunkKind
	Source string
}

type RetrievalResult struct {
	ID          string
	Meta        ChunkMeta
	Score       float64
	RerankScore *float64
}

// RagAnswer is the structured answer produced by the refinement pass.
type RagAnswer struct {
	DirectAnswer       string   `json:"direct_answer"`
	SupportingEvidence []string `json:"supporting_evidence"`
	ContextualAnalysis string   `json:"contextual_analysis"`
	Sources            []string `json:"sources"`
}

type CitationRef struct {
	Title      string `json:"title"`
	Source     string `json:"source,omitempty"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
	Year       *int   `json:"year,omitempty"`
	Link       string `json:"link"`
	Pinpointed bool   `json:"pinpointed"`
	Note       string `json:"note,omitempty"`
}

// Message is one prior conversation turn supplied by the client.
type Message struct {
	Role string `json:"role" validate:"required,oneof=user agent assistant system"`
	Text string `json:"text"`
}

func IntPtr(v int) *int {
	return &v
}
