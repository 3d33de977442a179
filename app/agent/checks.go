package agent

import (
	"regexp"
	"strings"
)

// Check is a cheap heuristic score of a finished answer, logged next to each response.
type Check struct {
	Name    string
	Score   float64
	Message string
}

var yearToken = regexp.MustCompile(`\b(?:19|20)[0-9]{2}\b`)

// CheckAnswer scores whether the answer mentions the years asked about and whether it
// cites anything at all.
func CheckAnswer(question, answer string) []Check {
	return []Check{temporalRelevance(question, answer), citationPresence(answer)}
}

func temporalRelevance(question, answer string) Check {
	asked := yearToken.FindAllString(question, -1)
	if len(asked) == 0 {
		return Check{Name: "temporal_relevance", Score: 1, Message: "question names no year"}
	}
	answered := make(map[string]struct{})
	for _, y := range yearToken.FindAllString(answer, -1) {
		answered[y] = struct{}{}
	}
	for _, y := range asked {
		if _, ok := answered[y]; ok {
			return Check{Name: "temporal_relevance", Score: 1, Message: "answer includes the requested years"}
		}
	}
	return Check{Name: "temporal_relevance", Score: 0.3, Message: "answer does not reference years from the question"}
}

func citationPresence(answer string) Check {
	if yearToken.MatchString(answer) || strings.Contains(answer, "Source") {
		return Check{Name: "citation_presence", Score: 1, Message: "citations found in the answer"}
	}
	return Check{Name: "citation_presence", Score: 0, Message: "no citations detected"}
}
