package agent

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ragchat/model"
	"ragchat/model/modeltest"
	"ragchat/store"
	"ragchat/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredJSON = "```json\n" + `{
  "direct_answer": "Float grew in 1992.",
  "supporting_evidence": ["Insurance float grew again in 1992."],
  "contextual_analysis": "Float funds investments.",
  "sources": ["1992 Shareholder Letter", "1994 Shareholder Letter"]
}` + "\n```"

// scripted answers each kind of call the pipeline makes.
type scripted struct {
	judge    func(passage string) string
	freeform string
	refine   string
	repair   string
}

func (s scripted) generator() *modeltest.Generator {
	return &modeltest.Generator{Respond: func(req model.Request) (string, error) {
		system := req.Messages[0].Content
		switch {
		case system == judgeSystemPrompt:
			user := modeltest.LastUserMessage(req)
			passage := user[strings.Index(user, "Passage:\n")+len("Passage:\n"):]
			if s.judge == nil {
				return `{"score": 0.5}`, nil
			}
			return s.judge(passage), nil
		case system == DefaultInstructions:
			return s.freeform, nil
		case strings.HasPrefix(system, "Return ONLY valid JSON"):
			return s.refine, nil
		case strings.Contains(system, "You previously returned invalid JSON"):
			return s.repair, nil
		}
		return "", errors.New("unexpected request")
	}}
}

func isJudge(req model.Request) bool { return req.Messages[0].Content == judgeSystemPrompt }

func newIndex(t *testing.T, emb model.Embedder, chunks ...types.Chunk) store.VectorIndex {
	t.Helper()
	ctx := context.Background()
	idx, err := store.NewChromemIndex("", "letters")
	require.NoError(t, err)
	require.NoError(t, idx.EnsureIndex(ctx, emb.Dimension()))

	if len(chunks) == 0 {
		return idx
	}
	var (
		ids   []string
		vecs  [][]float32
		metas []types.ChunkMeta
	)
	for _, c := range chunks {
		vec, err := emb.Embed(ctx, c.Content)
		require.NoError(t, err)
		ids = append(ids, c.ID)
		vecs = append(vecs, vec)
		metas = append(metas, c.Meta())
	}
	require.NoError(t, idx.Upsert(ctx, ids, vecs, metas))
	return idx
}

func chunk(source string, index int, year *int, content string) types.Chunk {
	return types.Chunk{
		ID:      types.ChunkID(source, index),
		Content: content,
		Kind:    types.ChunkText,
		Source:  source,
		Index:   index,
		Year:    year,
	}
}

func newAgent(emb model.Embedder, idx store.VectorIndex, gen model.Generator) *Agent {
	backoff := model.Backoff{Base: time.Millisecond, Max: time.Millisecond, Attempts: 2}
	return New(
		NewRetriever(emb, idx, gen, RetrieverOptions{TopK: 10, TopN: 5, Backoff: backoff}),
		NewSynthesizer(gen, SynthesizerOptions{ContextTokens: 500, MemoryWindow: 6}),
		NewCitationResolver("/letters"),
	)
}

func TestAskEmptyIndexSkipsGeneration(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	gen := scripted{}.generator()
	a := newAgent(emb, newIndex(t, emb), gen)

	answer, err := a.Ask(context.Background(), "What happened to float in 1992?", nil)
	require.NoError(t, err)
	assert.True(t, answer.Empty)
	assert.Equal(t, NoContentAnswer, answer.Text)
	assert.Nil(t, answer.Structured)
	assert.Empty(t, gen.Requests())
}

func TestAskStructuredAnswer(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	idx := newIndex(t, emb,
		chunk("1992.pdf", 0, types.IntPtr(1992), "Insurance float grew again in 1992."),
		chunk("1992.pdf", 1, types.IntPtr(1992), "See's Candies had a record year."),
		chunk("notes.txt", 0, nil, "Unrelated notes about nothing in particular."),
	)
	gen := scripted{
		freeform: "Float grew in 1992 according to the letter.",
		refine:   structuredJSON,
	}.generator()
	a := newAgent(emb, idx, gen)

	memory := []types.Message{{Role: "user", Text: "Tell me about insurance."}, {Role: "agent", Text: "Sure."}}
	answer, err := a.Ask(context.Background(), "How did insurance float change?", memory)
	require.NoError(t, err)
	require.NotNil(t, answer.Structured)
	assert.False(t, answer.Empty)
	assert.Equal(t, "Float grew in 1992.", answer.Structured.DirectAnswer)
	assert.True(t, strings.HasPrefix(answer.Text, "Direct Answer: Float grew in 1992."))

	require.Len(t, answer.Citations, 4)
	links := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		links = append(links, c.Link)
	}
	assert.Contains(t, links, "/letters/1992.pdf")
	assert.Contains(t, links, "/letters/1994.pdf")
	assert.Contains(t, links, "/letters/")

	var freeform model.Request
	for _, req := range gen.Requests() {
		if req.Messages[0].Content == DefaultInstructions {
			freeform = req
		}
	}
	prompt := modeltest.LastUserMessage(freeform)
	assert.Contains(t, prompt, excerptSeparator)
	assert.Contains(t, prompt, "User: Tell me about insurance.")
	assert.Contains(t, prompt, "Assistant: Sure.")
	assert.True(t, strings.HasSuffix(prompt, "Question: How did insurance float change?"))
}

func TestAskFallsBackToRawText(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	idx := newIndex(t, emb, chunk("1992.pdf", 0, types.IntPtr(1992), "Insurance float grew again in 1992."))
	raw := "Direct Answer: Float grew.\n\nDirect Answer: Float grew."
	gen := scripted{
		freeform: raw,
		refine:   "Sorry, here is the answer: float grew",
		repair:   "{not json",
	}.generator()
	a := newAgent(emb, idx, gen)

	answer, err := a.Ask(context.Background(), "How did float change?", nil)
	require.NoError(t, err)
	assert.Nil(t, answer.Structured)
	assert.Equal(t, "Direct Answer: Float grew.", answer.Text)
	require.Len(t, answer.Citations, 1)
	assert.True(t, answer.Citations[0].Pinpointed)
}

func TestAskBlankModelOutputStillAnswers(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	idx := newIndex(t, emb, chunk("1992.pdf", 0, types.IntPtr(1992), "Insurance float grew again in 1992."))
	gen := scripted{freeform: "   "}.generator()
	a := newAgent(emb, idx, gen)

	answer, err := a.Ask(context.Background(), "How did float change?", nil)
	require.NoError(t, err)
	assert.Nil(t, answer.Structured)
	assert.Equal(t, NoAnswerGenerated, answer.Text)
	assert.Equal(t, NoAnswerGenerated, Draft{Raw: "\n\t"}.Text())
}

func TestAskLogsCarryRequestID(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	idx := newIndex(t, emb, chunk("1992.pdf", 0, types.IntPtr(1992), "Insurance float grew again in 1992."))
	gen := scripted{freeform: "Float grew.", refine: "nope", repair: "still nope"}.generator()
	a := newAgent(emb, idx, gen)

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).With().Str("request_id", "req-1").Logger().WithContext(context.Background())

	_, err := a.Ask(ctx, "How did float change?", nil)
	require.NoError(t, err)

	out := buf.String()
	for _, msg := range []string{"vector search", "rerank", "freeform synthesis", "refinement degraded to raw answer"} {
		assert.Contains(t, out, msg)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Contains(t, line, `"request_id":"req-1"`)
	}
}

func TestRefineRepairsInvalidJSON(t *testing.T) {
	gen := scripted{
		refine: `{"direct_answer": "Float grew", "supporting_evidence": [}`,
		repair: `{"direct_answer": "Float grew", "supporting_evidence": [], "contextual_analysis": "", "sources": []}`,
	}.generator()
	s := NewSynthesizer(gen, SynthesizerOptions{})

	answer, err := s.Refine(context.Background(), "Float grew.")
	require.NoError(t, err)
	assert.Equal(t, "Float grew", answer.DirectAnswer)
	assert.Len(t, gen.Requests(), 2)
}

func TestRefineRejectsEmptyDirectAnswer(t *testing.T) {
	gen := scripted{
		refine: `{"direct_answer": ""}`,
		repair: `{"direct_answer": "  "}`,
	}.generator()
	s := NewSynthesizer(gen, SynthesizerOptions{})

	_, err := s.Refine(context.Background(), "Float grew.")
	var parseErr *types.RefinementParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, `{"direct_answer": "  "}`, parseErr.Raw)
}

func TestAskPropagatesCancellation(t *testing.T) {
	emb := &modeltest.HashEmbedder{Dim: 32}
	idx := newIndex(t, emb, chunk("1992.pdf", 0, types.IntPtr(1992), "Insurance float grew."))
	a := newAgent(emb, idx, scripted{}.generator())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Ask(ctx, "float?", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRerankBlendsScores(t *testing.T) {
	gen := scripted{judge: func(passage string) string {
		switch passage {
		case "first":
			return "no idea"
		case "second":
			return `{"score": 0.2}`
		default:
			return "```json\n{\"score\": 1.0}\n```"
		}
	}}.generator()
	r := NewRetriever(&modeltest.HashEmbedder{}, nil, gen, RetrieverOptions{TopN: 2})

	candidates := []types.RetrievalResult{
		{ID: "a", Score: 0.9, Meta: types.ChunkMeta{Content: "first"}},
		{ID: "b", Score: 0.8, Meta: types.ChunkMeta{Content: "second"}},
		{ID: "c", Score: 0.7, Meta: types.ChunkMeta{Content: "third"}},
	}
	out, err := r.Rerank(context.Background(), "q", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.InDelta(t, 0.5+0.21+0.2/3, *out[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.1+0.24+0.4/3, *out[1].RerankScore, 1e-9)

	judged := 0
	for _, req := range gen.Requests() {
		if isJudge(req) {
			judged++
			assert.True(t, req.JSON)
		}
	}
	assert.Equal(t, 3, judged)
}

func TestParseJudgement(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: `{"score": 0.7}`, want: 0.7},
		{in: `Sure! {"score": 3}`, want: 1},
		{in: `{"score": -1}`, want: 0},
		{in: `{"relevance": 0.4}`, wantErr: true},
		{in: `0.4`, wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseJudgement(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestResolveCitation(t *testing.T) {
	r := NewCitationResolver("/letters")

	for _, tc := range []struct {
		name     string
		meta     types.ChunkMeta
		question string
		wantLink string
		wantYear *int
	}{
		{
			name:     "stored year wins",
			meta:     types.ChunkMeta{Source: "letter.pdf", Year: types.IntPtr(1992), Content: "in 1977 we"},
			question: "what about 2001?",
			wantLink: "/letters/1992.pdf",
			wantYear: types.IntPtr(1992),
		},
		{
			name:     "file name",
			meta:     types.ChunkMeta{Source: "1992 Annual Letter.pdf", Content: "in 1977 we"},
			wantLink: "/letters/1992.pdf",
			wantYear: types.IntPtr(1992),
		},
		{
			name:     "content",
			meta:     types.ChunkMeta{Source: "letter.pdf", Content: "during 1985 the company"},
			question: "what about 2001?",
			wantLink: "/letters/1985.pdf",
			wantYear: types.IntPtr(1985),
		},
		{
			name:     "question",
			meta:     types.ChunkMeta{Source: "letter.pdf", Content: "no dates here"},
			question: "what happened in 2001?",
			wantLink: "/letters/2001.pdf",
			wantYear: types.IntPtr(2001),
		},
		{
			name:     "nothing found",
			meta:     types.ChunkMeta{Source: "letter.pdf", Content: "12345 units"},
			question: "what happened?",
			wantLink: "/letters/",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ref := r.ResolveCitation(tc.meta, tc.question)
			assert.Equal(t, tc.wantLink, ref.Link)
			assert.Equal(t, tc.wantYear, ref.Year)
			assert.Equal(t, tc.wantYear != nil, ref.Pinpointed)
			if tc.wantYear == nil {
				assert.Equal(t, unpinpointedNote, ref.Note)
				assert.Equal(t, "letter", ref.Title)
			}
		})
	}

	ref := r.ResolveCitation(types.ChunkMeta{Source: "annual_letter-final.pdf", Content: "no dates"}, "")
	assert.Equal(t, "annual letter final", ref.Title)
	assert.Equal(t, "/letters/", ref.Link)
}

func TestCitationsDeduplicate(t *testing.T) {
	r := NewCitationResolver("/letters/")
	results := []types.RetrievalResult{
		{Meta: types.ChunkMeta{Source: "1992.pdf", ChunkIndex: 3}},
		{Meta: types.ChunkMeta{Source: "1992.pdf", ChunkIndex: 3}},
		{Meta: types.ChunkMeta{Source: "1992.pdf", ChunkIndex: 4}},
	}
	refs := r.Citations(results, "")
	require.Len(t, refs, 2)
	assert.Equal(t, 3, *refs[0].ChunkIndex)
	assert.Equal(t, 4, *refs[1].ChunkIndex)

	refs = r.withModelSources(refs, []string{"1992 letter", "The 1994 letter", "no year"})
	require.Len(t, refs, 3)
	assert.Equal(t, "The 1994 letter", refs[2].Title)
	assert.Nil(t, refs[2].ChunkIndex)
}

func TestMemoryTranscript(t *testing.T) {
	var memory []types.Message
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "agent"
		}
		memory = append(memory, types.Message{Role: role, Text: strings.Repeat("x", i+1)})
	}

	transcript := memoryTranscript(memory, 6)
	lines := strings.Split(transcript, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "User: xxxxx", lines[0])
	assert.Equal(t, "Assistant: xxxxxxxxxx", lines[5])

	assert.Empty(t, memoryTranscript(memory, 0))
	assert.Empty(t, memoryTranscript(nil, 6))
}

func TestFitBudget(t *testing.T) {
	parts := []string{"one two three", "four five", "six seven eight nine"}
	assert.Equal(t, parts[:2], fitBudget(WordCounter{}, parts, 5))
	assert.Equal(t, parts[:1], fitBudget(WordCounter{}, parts, 1))
	assert.Equal(t, parts, fitBudget(WordCounter{}, parts, 0))
	assert.Equal(t, parts, fitBudget(WordCounter{}, parts, 100))
}

func TestComposeAndTrim(t *testing.T) {
	text := composeAnswer(&types.RagAnswer{DirectAnswer: "Yes."})
	assert.Equal(t, "Direct Answer: Yes.\n\nSupporting Evidence: (none)\n\nContextual Analysis:\n(none)", text)

	assert.Equal(t, "plain prose", trimRepeatedAnswer("  plain prose "))
	assert.Equal(t, "Direct Answer: a", trimRepeatedAnswer("intro Direct Answer: a Direct Answer: b"))
}

func TestCheckAnswer(t *testing.T) {
	checks := CheckAnswer("What happened in 1992?", "In 1992 float grew.")
	require.Len(t, checks, 2)
	assert.Equal(t, 1.0, checks[0].Score)
	assert.Equal(t, 1.0, checks[1].Score)

	checks = CheckAnswer("What happened in 1992?", "Float grew.")
	assert.Equal(t, 0.3, checks[0].Score)
	assert.Equal(t, 0.0, checks[1].Score)
}
