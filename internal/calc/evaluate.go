// Package calc evaluates the amount expressions typed on the keypad.
//
// Expressions are a left-to-right chain of decimal numbers joined by '+'
// and '-'. There is no precedence, no multiplication and no grouping:
//
//	93+46-   → 139 (trailing operators are dropped)
//	-5+2     → -3  (a leading sign applies to the first number)
//	10.5-0.25 → 10.25
//
// Arithmetic is exact (shopspring/decimal via core.Money).
package calc

import (
	"errors"
	"regexp"
	"strings"

	"registro/internal/core"
)

var (
	// ErrIncomplete is returned while the user is still typing, e.g. "5.".
	ErrIncomplete = errors.New("incomplete expression")
	// ErrMalformed is returned for input that can never become valid.
	ErrMalformed = errors.New("malformed expression")
)

var tokenPattern = regexp.MustCompile(`\d*\.?\d+|[+\-]`)

func isOperator(b byte) bool { return b == '+' || b == '-' }

func normalize(expr string) string {
	expr = strings.Join(strings.Fields(expr), "")
	for expr != "" && isOperator(expr[len(expr)-1]) {
		expr = expr[:len(expr)-1]
	}
	return expr
}

// Evaluate folds expr left to right. An empty expression (after dropping
// trailing operators) evaluates to zero. Evaluate never panics.
func Evaluate(expr string) (core.Money, error) {
	expr = normalize(expr)
	if expr == "" {
		return core.Zero, nil
	}

	locs := tokenPattern.FindAllStringIndex(expr, -1)
	pos := 0
	for _, loc := range locs {
		if loc[0] != pos {
			return core.Zero, ErrMalformed
		}
		pos = loc[1]
	}
	if pos != len(expr) {
		if expr[pos:] == "." {
			return core.Zero, ErrIncomplete
		}
		return core.Zero, ErrMalformed
	}

	result := core.Zero
	op := byte('+')
	expectNumber := true
	for i, loc := range locs {
		tok := expr[loc[0]:loc[1]]
		if len(tok) == 1 && isOperator(tok[0]) {
			// A leading sign is allowed; consecutive operators are not.
			if expectNumber && i != 0 {
				return core.Zero, ErrMalformed
			}
			op = tok[0]
			expectNumber = true
			continue
		}
		if !expectNumber {
			return core.Zero, ErrMalformed
		}
		n, ok := core.TryParseMoney(tok)
		if !ok {
			return core.Zero, ErrMalformed
		}
		if op == '+' {
			result = result.Add(n)
		} else {
			result = result.Sub(n)
		}
		expectNumber = false
	}
	return result, nil
}

// Preview evaluates expr for live display, falling back to last when expr
// does not evaluate.
func Preview(expr string, last core.Money) core.Money {
	v, err := Evaluate(expr)
	if err != nil {
		return last
	}
	return v
}
