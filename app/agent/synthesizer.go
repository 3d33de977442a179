package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/model"
	"ragchat/types"

	"github.com/rs/zerolog/log"
)

const excerptSeparator = "\n---\n"

const DefaultInstructions = `You are an assistant that answers questions about Berkshire Hathaway using only the
shareholder letter excerpts you are given. Ground every claim in the excerpts and mention the
year of the letter a fact comes from. If the excerpts do not contain the answer, say so plainly
instead of guessing. Do not add introductions like "Of course!" or "Here's the answer:".`

const refineSystemPrompt = `Return ONLY valid JSON with this schema:

{
  "direct_answer": string,
  "supporting_evidence": string[],
  "contextual_analysis": string,
  "sources": string[]
}

Rewrite the text below into that object. Keep its facts and citations, do not add new ones.
Text:
%s`

type SynthesizerOptions struct {
	Model        string
	Instructions string
	// ContextTokens caps the excerpts placed in the prompt.
	ContextTokens int
	MemoryWindow  int
	Counter       TokenCounter
}

// Synthesizer writes an answer from retrieved excerpts in two passes: freeform prose,
// then a structured rewrite of that prose.
type Synthesizer struct {
	gen  model.Generator
	opts SynthesizerOptions
}

func NewSynthesizer(gen model.Generator, opts SynthesizerOptions) *Synthesizer {
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	if opts.Counter == nil {
		opts.Counter = WordCounter{}
	}
	return &Synthesizer{gen: gen, opts: opts}
}

// Draft is the output of both passes. Structured is nil when refinement failed and the
// raw prose is the answer.
type Draft struct {
	Raw        string
	Structured *types.RagAnswer
}

// Text renders the draft as one block of prose. It is never empty.
func (d Draft) Text() string {
	if d.Structured != nil {
		return composeAnswer(d.Structured)
	}
	if text := trimRepeatedAnswer(d.Raw); text != "" {
		return text
	}
	return NoAnswerGenerated
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, memory []types.Message, results []types.RetrievalResult) (Draft, error) {
	raw, err := s.Freeform(ctx, question, memory, results)
	if err != nil {
		return Draft{}, err
	}

	structured, err := s.Refine(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return Draft{}, ctx.Err()
		}
		log.Ctx(ctx).Warn().Err(err).Msg("refinement degraded to raw answer")
		return Draft{Raw: raw}, nil
	}
	return Draft{Raw: raw, Structured: structured}, nil
}

// Freeform asks for a grounded prose answer.
func (s *Synthesizer) Freeform(ctx context.Context, question string, memory []types.Message, results []types.RetrievalResult) (string, error) {
	start := time.Now()
	prompt := s.userPrompt(ctx, question, memory, results)

	raw, err := s.gen.Generate(ctx, model.Request{
		Model: s.opts.Model,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: s.opts.Instructions},
			{Role: model.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("freeform synthesis: %w", err)
	}
	log.Ctx(ctx).Debug().
		Int("prompt_tokens", s.opts.Counter.Count(prompt)).
		Dur("elapsed", time.Since(start)).
		Msg("freeform synthesis")
	return strings.TrimSpace(raw), nil
}

func (s *Synthesizer) userPrompt(ctx context.Context, question string, memory []types.Message, results []types.RetrievalResult) string {
	excerpts := make([]string, 0, len(results))
	for _, r := range results {
		excerpts = append(excerpts, r.Meta.Content)
	}
	kept := fitBudget(s.opts.Counter, excerpts, s.opts.ContextTokens)
	if len(kept) < len(excerpts) {
		log.Ctx(ctx).Debug().Int("dropped", len(excerpts)-len(kept)).Int("budget", s.opts.ContextTokens).Msg("excerpts trimmed to context budget")
	}

	var sb strings.Builder
	sb.WriteString("Given the following shareholder letter excerpts, answer clearly and concisely:\n\n")
	sb.WriteString(strings.Join(kept, excerptSeparator))
	sb.WriteString("\n\n")

	if transcript := memoryTranscript(memory, s.opts.MemoryWindow); transcript != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(transcript)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String()
}

// memoryTranscript renders the last window turns, oldest first.
func memoryTranscript(memory []types.Message, window int) string {
	if window <= 0 || len(memory) == 0 {
		return ""
	}
	if len(memory) > window {
		memory = memory[len(memory)-window:]
	}
	var sb strings.Builder
	for _, m := range memory {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := "User"
		if m.Role != "user" {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, text)
	}
	return strings.TrimSpace(sb.String())
}

// Refine rewrites raw into a RagAnswer. Output that is still not a valid answer after one
// repair attempt is a *types.RefinementParseError.
func (s *Synthesizer) Refine(ctx context.Context, raw string) (*types.RagAnswer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &types.RefinementParseError{Err: errors.New("empty freeform answer")}
	}

	out, err := s.gen.Generate(ctx, model.Request{
		Model: s.opts.Model,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: fmt.Sprintf(refineSystemPrompt, raw)},
			{Role: model.RoleUser, Content: raw},
		},
		JSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("refinement: %w", err)
	}

	answer, perr := parseAnswer(out)
	if perr == nil {
		return answer, nil
	}
	log.Ctx(ctx).Debug().Err(perr).Msg("refinement output invalid, asking for a repair")

	fixed, err := s.gen.Generate(ctx, model.Request{
		Model:    s.opts.Model,
		Messages: []model.Message{{Role: model.RoleUser, Content: model.RepairPrompt(out)}},
		JSON:     true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.RefinementParseError{Raw: out, Err: perr}
	}
	answer, err = parseAnswer(fixed)
	if err != nil {
		return nil, &types.RefinementParseError{Raw: fixed, Err: err}
	}
	return answer, nil
}

func parseAnswer(out string) (*types.RagAnswer, error) {
	obj, err := model.ExtractJSON(model.StripFences(out))
	if err != nil {
		return nil, err
	}
	var answer types.RagAnswer
	if err := json.Unmarshal([]byte(obj), &answer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer.DirectAnswer) == "" {
		return nil, errors.New("direct_answer is empty")
	}
	return &answer, nil
}

func composeAnswer(a *types.RagAnswer) string {
	parts := []string{"Direct Answer: " + a.DirectAnswer}
	if len(a.SupportingEvidence) > 0 {
		parts = append(parts, "\nSupporting Evidence:\n- "+strings.Join(a.SupportingEvidence, "\n- "))
	} else {
		parts = append(parts, "\nSupporting Evidence: (none)")
	}
	analysis := a.ContextualAnalysis
	if analysis == "" {
		analysis = "(none)"
	}
	parts = append(parts, "\nContextual Analysis:\n"+analysis)
	if len(a.Sources) > 0 {
		parts = append(parts, "\nSource Documentation:\n- "+strings.Join(a.Sources, "\n- "))
	}
	return strings.Join(parts, "\n")
}

// trimRepeatedAnswer cuts prose that restarts with a second "Direct Answer:" heading.
func trimRepeatedAnswer(text string) string {
	const heading = "Direct Answer:"
	start := strings.Index(text, heading)
	if start == -1 {
		return strings.TrimSpace(text)
	}
	next := strings.Index(text[start+len(heading):], heading)
	if next == -1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[start : start+len(heading)+next])
}
