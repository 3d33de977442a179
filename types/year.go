package types

import (
	"regexp"
	"strconv"
)

var yearRe = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)[0-9]{2})(?:[^0-9]|$)`)

// ExtractYear returns the first standalone 19xx/20xx token in s, or nil.
func ExtractYear(s string) *int {
	m := yearRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &y
}
