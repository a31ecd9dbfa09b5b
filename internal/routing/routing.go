// Package routing implements topic-exchange key matching.
//
// Keys and patterns are dot-delimited. A pattern segment is either a literal,
// matched case-sensitively, or "*", which matches exactly one segment. The
// pattern "#" on its own matches every key. Apart from the catch-all, a
// pattern only matches keys with the same number of segments.
package routing

import (
	"strings"

	apperrors "logistics/pkg/errors"
)

const (
	Separator = "."
	Wildcard  = "*"
	CatchAll  = "#"
)

// ValidateKey rejects empty keys and keys with empty segments.
func ValidateKey(key string) error {
	if key == "" {
		return apperrors.ErrMalformedKey.WithMessage("routing key is empty")
	}
	for _, seg := range strings.Split(key, Separator) {
		if seg == "" {
			return apperrors.ErrMalformedKey.WithMessage("routing key %q has an empty segment", key)
		}
	}
	return nil
}

// ValidatePattern accepts the catch-all or a dotted pattern of literals and
// wildcards. "#" inside a longer pattern is rejected because only the whole
// pattern catch-all is supported.
func ValidatePattern(pattern string) error {
	if pattern == CatchAll {
		return nil
	}
	if pattern == "" {
		return apperrors.ErrMalformedKey.WithMessage("binding pattern is empty")
	}
	for _, seg := range strings.Split(pattern, Separator) {
		switch {
		case seg == "":
			return apperrors.ErrMalformedKey.WithMessage("pattern %q has an empty segment", pattern)
		case seg == CatchAll:
			return apperrors.ErrMalformedKey.WithMessage("pattern %q: %q is only valid as the whole pattern", pattern, CatchAll)
		}
	}
	return nil
}

// Matches reports whether key is routed to a binding with pattern.
func Matches(key, pattern string) bool {
	if pattern == CatchAll {
		return true
	}

	keySegs := strings.Split(key, Separator)
	patSegs := strings.Split(pattern, Separator)
	if len(keySegs) != len(patSegs) {
		return false
	}

	for i, p := range patSegs {
		if p == Wildcard {
			continue
		}
		if p != keySegs[i] {
			return false
		}
	}
	return true
}

// Specificity ranks patterns for dispatch: the number of literal segments.
// The catch-all ranks below every other pattern.
func Specificity(pattern string) int {
	if pattern == CatchAll {
		return -1
	}
	n := 0
	for _, seg := range strings.Split(pattern, Separator) {
		if seg != Wildcard {
			n++
		}
	}
	return n
}

// Overlap reports whether some key matches both patterns.
func Overlap(a, b string) bool {
	if a == CatchAll || b == CatchAll {
		return true
	}
	as := strings.Split(a, Separator)
	bs := strings.Split(b, Separator)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != Wildcard && bs[i] != Wildcard && as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Ambiguous reports whether a key exists for which neither pattern is more
// specific than the other.
func Ambiguous(a, b string) bool {
	return a != b && Specificity(a) == Specificity(b) && Overlap(a, b)
}
