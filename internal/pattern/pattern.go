// Package pattern selects entities by id for pool-level verbs.
package pattern

import (
	"fmt"
	"regexp"
)

// Matcher decides whether an entity id is selected by a pattern string.
type Matcher interface {
	// IsPattern reports whether the string is a valid pattern at all.
	IsPattern(pattern string) bool
	// Match reports whether id is selected by pattern.
	Match(pattern, id string) (bool, error)
}

// Exact matches ids literally.
type Exact struct{}

func (Exact) IsPattern(string) bool { return true }

func (Exact) Match(pattern, id string) (bool, error) {
	return pattern == id, nil
}

// Regexp matches ids against an anchored regular expression, so "a|b"
// selects exactly the ids "a" and "b", not every id containing them.
type Regexp struct{}

func (Regexp) IsPattern(pattern string) bool {
	_, err := regexp.Compile(pattern)
	return err == nil
}

func (Regexp) Match(pattern, id string) (bool, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return re.MatchString(id), nil
}
