package store

import "strings"

// Placeholders returns "(?,?,...)" with n parameters. n must be positive.
func Placeholders(n int) string {
	if n < 1 {
		panic("store: Placeholders called with no parameters")
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

// Tuples returns rows comma-separated tuples of cols parameters each,
// for multi-row VALUES clauses.
func Tuples(rows, cols int) string {
	if cols < 1 {
		cols = 1
	}
	tuple := Placeholders(cols)
	return strings.TrimSuffix(strings.Repeat(tuple+",", rows), ",")
}
