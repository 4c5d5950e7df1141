// Package textnorm holds the string normalization shared by the patient search
// and record reconciliation engines. Both engines compare values that were
// normalized independently, so every helper here is pure and deterministic.
package textnorm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility characters (NFKC), trims, collapses internal
// whitespace runs to a single space and lower-cases the result.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, " "))
}

// Key returns the equality key used when two records are compared field by
// field: trimmed and lower-cased. Inner spacing is kept, so "Professional  Fees"
// and "Professional Fees" are different keys.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Equal reports whether a and b normalize to the same key.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// Tokens splits the normalized form of s into its non-empty words.
func Tokens(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Split(n, " ")
}

// Digits returns only the decimal digits of s, in order.
func Digits(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// JoinName normalizes each part and joins the non-empty ones with one space.
func JoinName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := Normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, " ")
}

// Unique trims values and drops those whose key was already seen, keeping the
// first spelling. Blank values are dropped.
func Unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	res := make([]string, 0, len(values))
	for _, v := range values {
		k := Key(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		res = append(res, strings.TrimSpace(v))
	}
	return res
}
