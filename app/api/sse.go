package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"ragchat/app/agent"
	"ragchat/types"
)

const doneSentinel = "[DONE]"

var ErrUnterminatedStream = errors.New("event stream ended without [DONE]")

// Event is one `data:` payload of the answer stream. Every field is optional.
type Event struct {
	Delta               string              `json:"delta,omitempty"`
	DirectAnswer        string              `json:"directAnswer,omitempty"`
	SupportingEvidence  []string            `json:"supportingEvidence,omitempty"`
	ContextualAnalysis  string              `json:"contextualAnalysis,omitempty"`
	SourceDocumentation []types.CitationRef `json:"sourceDocumentation,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// EventsFor splits an answer into stream events: one per structured field, or a single
// delta for degraded and canned answers.
func EventsFor(a *agent.Answer) []Event {
	var events []Event
	if s := a.Structured; s != nil {
		events = append(events, Event{DirectAnswer: s.DirectAnswer})
		if len(s.SupportingEvidence) > 0 {
			events = append(events, Event{SupportingEvidence: s.SupportingEvidence})
		}
		if s.ContextualAnalysis != "" {
			events = append(events, Event{ContextualAnalysis: s.ContextualAnalysis})
		}
	} else {
		events = append(events, Event{Delta: a.Text})
	}
	if len(a.Citations) > 0 {
		events = append(events, Event{SourceDocumentation: a.Citations})
	}
	return events
}

type ChatMessage struct {
	Text               string
	DirectAnswer       string
	SupportingEvidence []string
	ContextualAnalysis string
	Sources            []types.CitationRef
	Error              string
}

// Apply merges one event into m. Text fields append, list fields extend.
func Apply(m ChatMessage, e Event) ChatMessage {
	m.Text += e.Delta
	m.DirectAnswer += e.DirectAnswer
	m.ContextualAnalysis += e.ContextualAnalysis
	if len(e.SupportingEvidence) > 0 {
		m.SupportingEvidence = append(append([]string(nil), m.SupportingEvidence...), e.SupportingEvidence...)
	}
	if len(e.SourceDocumentation) > 0 {
		m.Sources = append(append([]types.CitationRef(nil), m.Sources...), e.SourceDocumentation...)
	}
	if e.Error != "" {
		m.Error = e.Error
	}
	return m
}

func Reduce[S any](events []Event, apply func(S, Event) S, initial S) S {
	state := initial
	for _, e := range events {
		state = apply(state, e)
	}
	return state
}

func writeEvent(w *bufio.Writer, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return writeData(w, string(payload))
}

func writeDone(w *bufio.Writer) error {
	return writeData(w, doneSentinel)
}

func writeData(w *bufio.Writer, data string) error {
	if _, err := w.WriteString("data: " + data + "\n\n"); err != nil {
		return &types.StreamTransportError{Err: err}
	}
	if err := w.Flush(); err != nil {
		return &types.StreamTransportError{Err: err}
	}
	return nil
}

// writeKeepAlive sends an SSE comment, which clients ignore. A failed flush means the
// client is gone.
func writeKeepAlive(w *bufio.Writer) error {
	if _, err := w.WriteString(": keepalive\n\n"); err != nil {
		return &types.StreamTransportError{Err: err}
	}
	if err := w.Flush(); err != nil {
		return &types.StreamTransportError{Err: err}
	}
	return nil
}

// ReadEvents parses an answer stream, calling fn for every event until [DONE].
// Payloads that are not JSON are delivered as deltas.
func ReadEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			return nil
		}
		var e Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			e = Event{Delta: data}
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ErrUnterminatedStream
}
