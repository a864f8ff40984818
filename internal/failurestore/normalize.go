// Package failurestore implements FailureStore (spec.md §4.3): it counts
// and characterizes failures so the Orchestrator/Planner can warn before
// re-attempting a likely-to-fail call.
package failurestore

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	absPathRe  = regexp.MustCompile(`(?:/[^\s:]+)+`)
	winPathRe  = regexp.MustCompile(`[A-Za-z]:\\(?:[^\s:]+\\?)+`)
	lineRe     = regexp.MustCompile(`line\s+\d+`)
	portRe     = regexp.MustCompile(`port\s+\d+`)
	longIntRe  = regexp.MustCompile(`\b\d{3,}\b`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes an error message per spec.md §4.3's exact
// seven-step rule list, in order:
//  1. Lowercase.
//  2. Replace every absolute filesystem path with the literal <PATH>.
//  3. Replace every substring matching line\s+\d+ with "line <N>".
//  4. Replace every substring matching port\s+\d+ with "port <NUM>".
//  5. Replace every decimal integer of length >= 3 with <NUM>.
//  6. Collapse runs of whitespace.
func Normalize(msg string) string {
	s := strings.ToLower(msg)
	s = winPathRe.ReplaceAllString(s, "<PATH>")
	s = absPathRe.ReplaceAllString(s, "<PATH>")
	s = lineRe.ReplaceAllString(s, "line <N>")
	s = portRe.ReplaceAllString(s, "port <NUM>")
	s = longIntRe.ReplaceAllString(s, "<NUM>")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SignatureHash hashes the canonical (normalized) form of msg (spec.md
// §4.3 step 7: "Hash the resulting canonical string").
func SignatureHash(msg string) string {
	norm := Normalize(msg)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// InputDigest hashes a normalized (tool, user_input) pair so FailureStore
// queries can be keyed on "this exact command" independent of the literal
// error text a given attempt produced (spec.md §4.7's pre-flight check:
// "query FailureStore by tool and normalized input").
func InputDigest(tool, userInput string) string {
	norm := strings.ToLower(strings.TrimSpace(userInput))
	norm = whitespace.ReplaceAllString(norm, " ")
	sum := sha256.Sum256([]byte(tool + "\x00" + norm))
	return hex.EncodeToString(sum[:])
}
