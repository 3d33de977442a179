package api

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"time"

	"ragchat/app/agent"
	"ragchat/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

var errSuperseded = errors.New("superseded by a newer request in the same conversation")

// Asker answers one question; *agent.Agent is the production implementation.
type Asker interface {
	Ask(ctx context.Context, question string, memory []types.Message) (*agent.Answer, error)
}

type AskHandler struct {
	agent     Asker
	inflight  *conversations
	keepAlive time.Duration
}

// DefaultKeepAlive is how often an idle stream gets a keepalive comment. A failed one is how a
// client disconnect is noticed while the answer is still being produced.
const DefaultKeepAlive = 3 * time.Second

func NewAskHandler(a Asker, keepAlive time.Duration) *AskHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &AskHandler{
		agent:     a,
		inflight:  newConversations(),
		keepAlive: keepAlive,
	}
}

// HandleAsk validates the question and streams the answer as server-sent events. Once
// the stream has started every outcome ends with exactly one [DONE].
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Logger()
	ctx, cancel := context.WithCancelCause(logger.WithContext(context.Background()))
	release := h.inflight.start(params.ConversationID, cancel)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Set("X-Request-Id", requestID)

	logger.Info().Int("memory", len(params.Memory)).Str("conversation_id", params.ConversationID).Msg("question received")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer release()
		defer cancel(nil)
		h.stream(ctx, cancel, w, params)
	}))
	return nil
}

func (h *AskHandler) stream(ctx context.Context, cancel context.CancelCauseFunc, w *bufio.Writer, params types.QueryParams) {
	logger := zerolog.Ctx(ctx)

	type result struct {
		answer *agent.Answer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := h.agent.Ask(ctx, params.Prompt, params.Memory)
		done <- result{answer, err}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	var res result
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-ticker.C:
			if err := writeKeepAlive(w); err != nil {
				logger.Info().Err(err).Msg("client disconnected, cancelling answer")
				cancel(err)
				<-done
				return
			}
		}
	}

	var events []Event
	if res.err != nil {
		logger.Error().Err(res.err).Msg("answer failed")
		events = []Event{{Error: userMessage(ctx, res.err)}}
	} else {
		events = EventsFor(res.answer)
	}

	for _, e := range events {
		if err := writeEvent(w, e); err != nil {
			logger.Info().Err(err).Msg("client disconnected")
			return
		}
	}
	if err := writeDone(w); err != nil {
		logger.Info().Err(err).Msg("client disconnected")
		return
	}
	logger.Info().Int("events", len(events)).Msg("answer streamed")
}

// userMessage is the text shown in place of an answer when the pipeline failed.
func userMessage(ctx context.Context, err error) string {
	if errors.Is(context.Cause(ctx), errSuperseded) {
		return errSuperseded.Error()
	}
	var embErr *types.EmbeddingServiceError
	if errors.As(err, &embErr) {
		return "The search service is unavailable right now. Please try again."
	}
	var cfgErr *types.IndexConfigError
	if errors.As(err, &cfgErr) {
		return "The letter index is misconfigured."
	}
	return "Sorry, an answer could not be generated: " + err.Error()
}

// conversations tracks the in-flight answer of each conversation so a new question
// cancels the previous one.
type conversations struct {
	mu     sync.Mutex
	seq    uint64
	active map[string]inflight
}

type inflight struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

func newConversations() *conversations {
	return &conversations{active: make(map[string]inflight)}
}

func (c *conversations) start(id string, cancel context.CancelCauseFunc) (release func()) {
	if id == "" {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.active[id]; ok {
		prev.cancel(errSuperseded)
	}
	c.seq++
	seq := c.seq
	c.active[id] = inflight{seq: seq, cancel: cancel}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.active[id]; ok && cur.seq == seq {
			delete(c.active, id)
		}
	}
}

func (c *conversations) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
