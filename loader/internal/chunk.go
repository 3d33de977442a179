package internal

import (
	"fmt"
	"strings"

	"ragchat/types"
)

const (
	StrategyTableAware  = "table-aware"
	StrategyFixedWindow = "fixed-window"

	UnitWord = "word"
	UnitChar = "char"
)

// ChunkingStrategy turns the extracted text of one document into ordered chunks.
// Chunk indexes are dense and start at zero.
type ChunkingStrategy interface {
	Chunk(doc types.Document, text string) []types.Chunk
	Name() string
}

type Window struct {
	Size    int
	Overlap int
	Unit    string
}

func (w Window) split(text string) []string {
	if w.Unit == UnitChar {
		return WindowRunes([]rune(text), w.Size, w.Overlap)
	}
	return WindowTokens(strings.Fields(text), w.Size, w.Overlap)
}

// WindowTokens slices tokens into windows of at most size tokens that share overlap
// tokens with their predecessor. The stride is clamped to 1 so overlap >= size
// still terminates.
func WindowTokens(tokens []string, size, overlap int) []string {
	var out []string
	for _, r := range windowRanges(len(tokens), size, overlap) {
		out = append(out, strings.Join(tokens[r[0]:r[1]], " "))
	}
	return out
}

func WindowRunes(runes []rune, size, overlap int) []string {
	var out []string
	for _, r := range windowRanges(len(runes), size, overlap) {
		out = append(out, string(runes[r[0]:r[1]]))
	}
	return out
}

func windowRanges(n, size, overlap int) [][2]int {
	if n == 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	if overlap < 0 {
		overlap = 0
	}
	stride := size - overlap
	if stride < 1 {
		stride = 1
	}

	var ranges [][2]int
	for start := 0; start < n; start += stride {
		end := min(start+size, n)
		ranges = append(ranges, [2]int{start, end})
		if end == n {
			break
		}
	}
	return ranges
}

type TableAware struct {
	Window   Window
	Classify LineClassifier
}

func (TableAware) Name() string { return StrategyTableAware }

// Chunk windows text segments and passes table segments through whole.
func (s TableAware) Chunk(doc types.Document, text string) []types.Chunk {
	var chunks []types.Chunk
	for _, seg := range Segment(text, s.Classify) {
		if strings.TrimSpace(seg.Content) == "" {
			continue
		}
		if seg.Kind == types.ChunkTable {
			chunks = appendChunk(chunks, doc, seg.Content, types.ChunkTable)
			continue
		}
		for _, part := range s.Window.split(seg.Content) {
			chunks = appendChunk(chunks, doc, part, types.ChunkText)
		}
	}
	return chunks
}

// FixedWindow ignores document structure and windows the whole text.
type FixedWindow struct {
	Window Window
}

func (FixedWindow) Name() string { return StrategyFixedWindow }

func (s FixedWindow) Chunk(doc types.Document, text string) []types.Chunk {
	var chunks []types.Chunk
	for _, part := range s.Window.split(text) {
		chunks = appendChunk(chunks, doc, part, types.ChunkText)
	}
	return chunks
}

func appendChunk(chunks []types.Chunk, doc types.Document, content string, kind types.ChunkKind) []types.Chunk {
	if strings.TrimSpace(content) == "" {
		return chunks
	}
	idx := len(chunks)
	return append(chunks, types.Chunk{
		ID:      types.ChunkID(doc.FileName, idx),
		Content: content,
		Kind:    kind,
		Source:  doc.FileName,
		Index:   idx,
		Year:    doc.Year,
	})
}

func NewStrategy(name string, w Window) (ChunkingStrategy, error) {
	if w.Unit == "" {
		w.Unit = UnitWord
	}
	switch name {
	case "", StrategyTableAware:
		return TableAware{Window: w}, nil
	case StrategyFixedWindow:
		return FixedWindow{Window: w}, nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", name)
	}
}
