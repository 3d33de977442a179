package agent

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenCounter measures prompt text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter approximates tokens by whitespace-separated words.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// NewTokenCounter loads the cl100k_base encoding and falls back to counting words when
// the encoding cannot be loaded.
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken encoding unavailable, counting words instead")
		return WordCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// fitBudget keeps the leading parts whose combined size stays within budget tokens.
// The first part is always kept so a single oversized excerpt still grounds the answer.
func fitBudget(counter TokenCounter, parts []string, budget int) []string {
	if budget <= 0 || len(parts) == 0 {
		return parts
	}
	used := 0
	for i, p := range parts {
		used += counter.Count(p)
		if used > budget && i > 0 {
			return parts[:i]
		}
	}
	return parts
}
