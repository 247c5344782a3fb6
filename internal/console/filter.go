package console

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Filter kinds accepted by NewOutputFilter
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

// ErrUnknownFilter is returned for a filter kind that is not supported
var ErrUnknownFilter = errors.New("unknown console filter")

// problemKeywords mark lines worth surfacing from FXServer output
var problemKeywords = []string{
	"script error",
	"error",
	"exception",
	"fatal",
	"warning",
	"warn",
	"failed",
	"couldn't",
	"stack traceback",
}

// OutputFilter selects console lines
type OutputFilter struct {
	Kind          string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// Match is the outcome of filtering one line. Highlight holds the start and
// end offsets of the first match when there is one.
type Match struct {
	Include   bool
	Highlight []int
}

// NewOutputFilter creates a filter. An empty kind means FilterNone.
func NewOutputFilter(kind, pattern string, caseSensitive bool) (*OutputFilter, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = FilterNone
	}

	filter := &OutputFilter{
		Kind:          kind,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch kind {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern == "" {
			break
		}
		flags := ""
		if !caseSensitive {
			flags = "(?i)"
		}
		compiled, err := regexp.Compile(flags + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid console pattern: %w", err)
		}
		filter.regex = compiled
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, kind)
	}

	return filter, nil
}

// Filter applies the filter to a single line
func (f *OutputFilter) Filter(line string) Match {
	switch f.Kind {
	case FilterErrors:
		if span := problemSpan(line); span != nil {
			return Match{Include: true, Highlight: span}
		}
		return Match{}

	case FilterSearch:
		if f.Pattern == "" {
			return Match{Include: true}
		}
		haystack, needle := line, f.Pattern
		if !f.CaseSensitive {
			haystack, needle = strings.ToLower(line), strings.ToLower(f.Pattern)
		}
		if idx := strings.Index(haystack, needle); idx >= 0 {
			return Match{Include: true, Highlight: []int{idx, idx + len(needle)}}
		}
		return Match{}

	case FilterRegex:
		if f.regex == nil {
			return Match{Include: true}
		}
		if span := f.regex.FindStringIndex(line); span != nil {
			return Match{Include: true, Highlight: span}
		}
		return Match{}
	}

	return Match{Include: true}
}

// Apply returns the lines the filter includes, keeping their order
func (f *OutputFilter) Apply(lines []string) []string {
	if f == nil || f.Kind == FilterNone {
		return lines
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Filter(line).Include {
			kept = append(kept, line)
		}
	}
	return kept
}

func problemSpan(line string) []int {
	lower := strings.ToLower(line)
	for _, keyword := range problemKeywords {
		if idx := strings.Index(lower, keyword); idx >= 0 {
			return []int{idx, idx + len(keyword)}
		}
	}
	return nil
}
