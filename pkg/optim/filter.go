package optim

import "regexp"

// Filter selects parameters by name for one optimizer group.
type Filter interface {
	Match(name string) bool
}

type matchAll struct{}

func (matchAll) Match(string) bool { return true }

// MatchAll returns a filter accepting every parameter. Used as the final
// catch-all group.
func MatchAll() Filter { return matchAll{} }

// RegexFilter matches parameter names against a compiled expression.
type RegexFilter struct {
	re *regexp.Regexp
}

// NewRegexFilter compiles a pattern into a filter.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{re: re}, nil
}

// Match reports whether the parameter name matches the pattern.
func (f *RegexFilter) Match(name string) bool {
	return f.re.MatchString(name)
}
