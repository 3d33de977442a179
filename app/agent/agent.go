package agent

import (
	"context"
	"errors"
	"time"

	"ragchat/types"

	"github.com/rs/zerolog/log"
)

// NoContentAnswer is returned when the index has nothing near the question.
const NoContentAnswer = "No relevant content found."

// NoAnswerGenerated stands in when the model returned nothing usable.
const NoAnswerGenerated = "No answer could be generated."

type Answer struct {
	Structured *types.RagAnswer
	Text       string
	Citations  []types.CitationRef
	// Empty marks the canned answer given when retrieval found nothing.
	Empty bool
}

type Agent struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	citations   CitationResolver
}

func New(retriever *Retriever, synthesizer *Synthesizer, citations CitationResolver) *Agent {
	return &Agent{
		retriever:   retriever,
		synthesizer: synthesizer,
		citations:   citations,
	}
}

// Ask retrieves, reranks and synthesizes an answer to question. Empty retrieval short
// circuits to NoContentAnswer without calling the generation service.
func (a *Agent) Ask(ctx context.Context, question string, memory []types.Message) (*Answer, error) {
	start := time.Now()
	defer func() {
		log.Ctx(ctx).Info().Dur("elapsed", time.Since(start)).Msg("answer pipeline finished")
	}()

	results, err := a.retriever.Retrieve(ctx, question)
	if errors.Is(err, types.ErrRetrievalEmpty) {
		log.Ctx(ctx).Info().Msg("no relevant content in index")
		return &Answer{Text: NoContentAnswer, Empty: true}, nil
	}
	if err != nil {
		return nil, err
	}

	draft, err := a.synthesizer.Synthesize(ctx, question, memory, results)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Structured: draft.Structured,
		Text:       draft.Text(),
		Citations:  a.citations.Citations(results, question),
	}
	if draft.Structured != nil {
		answer.Citations = a.citations.withModelSources(answer.Citations, draft.Structured.Sources)
	}

	for _, c := range CheckAnswer(question, answer.Text) {
		log.Ctx(ctx).Debug().Str("check", c.Name).Float64("score", c.Score).Msg(c.Message)
	}
	return answer, nil
}
