package internal

import (
	"strings"
	"unicode"

	"ragchat/types"
)

// LineClassifier reports whether a line belongs to a table.
type LineClassifier func(line string) bool

// IsTableLine is the default classifier. A line is tabular when it
// has a run of two or more whitespace characters and a digit, when it is a
// separator rule, or when it carries the token "Total".
func IsTableLine(line string) bool {
	if hasWideGap(line) && strings.IndexFunc(line, unicode.IsDigit) >= 0 {
		return true
	}
	if isRule(line) {
		return true
	}
	return strings.Contains(line, "Total")
}

func hasWideGap(line string) bool {
	run := 0
	for _, r := range line {
		if unicode.IsSpace(r) {
			run++
			if run >= 2 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// "-----", "=== ==="
func isRule(line string) bool {
	seps := 0
	for _, r := range line {
		switch {
		case r == '-' || r == '=' || r == '_' || r == '*':
			seps++
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	return seps >= 3
}

// Segment splits text into ordered runs of same-kind lines. Joining the
// contents with "\n" reproduces the input exactly.
func Segment(text string, isTable LineClassifier) []types.Segment {
	if isTable == nil {
		isTable = IsTableLine
	}

	var (
		segments []types.Segment
		buf      []string
		mode     = types.ChunkText
	)

	flush := func() {
		if len(buf) > 0 {
			segments = append(segments, types.Segment{
				Kind:    mode,
				Content: strings.Join(buf, "\n"),
			})
			buf = buf[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		kind := types.ChunkText
		if isTable(line) {
			kind = types.ChunkTable
		}
		if kind != mode {
			flush()
			mode = kind
		}
		buf = append(buf, line)
	}

	flush()
	return segments
}
