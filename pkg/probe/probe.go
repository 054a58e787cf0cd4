// Package probe holds the textual convention shared by the instrumenter,
// which emits probe calls into C source, and the localization decorator,
// which recognises them again after the instrumented file is re-parsed.
// Both sides must agree on these bytes exactly.
package probe

import "strings"

// Macro is the name of the C macro that records a location hit.
const Macro = "CANARY_TWEET_LOCATION"

// Prefix starts every probe call.
const Prefix = Macro + "("

// Call returns the probe call expression for id.
func Call(id string) string {
	return Prefix + id + ")"
}

// Statement returns the probe as a standalone C statement.
func Statement(id string) string {
	return Call(id) + ";"
}

// ConditionPrefix returns the text inserted at the start of a condition so
// the probe runs each time the condition is evaluated, as the left operand of
// a comma expression.
func ConditionPrefix(id string) string {
	return Call(id) + ", "
}

// Parse reports whether text starts with a probe call and returns its id.
// Leading whitespace and opening parentheses are skipped so probed
// conditions such as "(CANARY_TWEET_LOCATION(3), x > 1)" are recognised.
func Parse(text string) (string, bool) {
	text = strings.TrimLeft(text, " \t\r\n(")
	if !strings.HasPrefix(text, Prefix) {
		return "", false
	}

	rest := text[len(Prefix):]
	end := strings.IndexByte(rest, ')')
	if end <= 0 {
		return "", false
	}

	id := strings.TrimSpace(rest[:end])
	if id == "" || strings.ContainsAny(id, " \t\r\n(,") {
		return "", false
	}
	return id, true
}
