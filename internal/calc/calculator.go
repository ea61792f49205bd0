package calc

import (
	"errors"
	"fmt"
	"strings"

	"registro/internal/core"
)

var ErrUnknownKey = errors.New("unknown key")

// boundary is the magnitude a keypress may never push the preview to.
var boundary = core.NewMoney(1_000_000_000)

const maxFractionDigits = 2

// Control keys accepted by PressAll alongside the ones Press takes.
const (
	KeyBackspace = '<'
	KeyClear     = 'C'
)

// Suggestion is the outcome of finishing an expression. A negative result
// is reported as its absolute value with SwitchKind set, so the caller can
// offer to record it under the opposite kind.
type Suggestion struct {
	Amount     core.Money `json:"amount"`
	SwitchKind bool       `json:"switch_kind"`
}

// Calculator is the keypad state behind the amount field. It is not safe
// for concurrent use.
type Calculator struct {
	expr string
	last core.Money
}

// NewCalculator starts from an existing expression, e.g. the plain form of
// an amount being edited.
func NewCalculator(expr string) *Calculator {
	c := &Calculator{expr: normalizeSpaces(expr)}
	c.refresh()
	return c
}

func normalizeSpaces(s string) string { return strings.Join(strings.Fields(s), "") }

func (c *Calculator) Expression() string { return c.expr }

// Value is the last successfully evaluated preview.
func (c *Calculator) Value() core.Money { return c.last }

// Display is the preview formatted for the amount field.
func (c *Calculator) Display() string { return c.last.Format() }

func (c *Calculator) UnitHint() string { return c.last.UnitHint() }

// currentNumber is the part of the expression after the last operator.
func (c *Calculator) currentNumber() string {
	if i := strings.LastIndexAny(c.expr, "+-"); i >= 0 {
		return c.expr[i+1:]
	}
	return c.expr
}

func (c *Calculator) endsWithOperator() bool {
	return c.expr != "" && isOperator(c.expr[len(c.expr)-1])
}

// Press applies one key. It reports whether the key changed the
// expression; rejected keys leave the state untouched.
func (c *Calculator) Press(key rune) (bool, error) {
	isDigit := key >= '0' && key <= '9'
	if !isDigit && key != '.' && key != '+' && key != '-' {
		return false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if isDigit || key == '.' {
		if v, err := Evaluate(c.expr + string(key)); err == nil && v.Abs().Cmp(boundary) >= 0 {
			return false, nil
		}
	}

	current := c.currentNumber()
	switch {
	case key == '.':
		if strings.Contains(current, ".") {
			return false, nil
		}
		if c.expr == "" || c.endsWithOperator() {
			c.expr += "0."
			c.refresh()
			return true, nil
		}
	case isDigit:
		if _, frac, ok := strings.Cut(current, "."); ok && len(frac) >= maxFractionDigits {
			return false, nil
		}
	default:
		if c.expr == "" {
			return false, nil
		}
		if c.endsWithOperator() {
			c.expr = c.expr[:len(c.expr)-1] + string(key)
			return true, nil
		}
	}

	c.expr += string(key)
	c.refresh()
	return true, nil
}

// PressAll applies keys in order and reports how many were rejected.
// Spaces are skipped. It stops at the first unknown key.
func (c *Calculator) PressAll(keys string) (rejected int, err error) {
	for _, k := range keys {
		switch k {
		case ' ':
		case KeyBackspace:
			c.Backspace()
		case KeyClear:
			c.Clear()
		default:
			ok, err := c.Press(k)
			if err != nil {
				return rejected, err
			}
			if !ok {
				rejected++
			}
		}
	}
	return rejected, nil
}

// Backspace removes the last character.
func (c *Calculator) Backspace() {
	if c.expr == "" {
		return
	}
	c.expr = c.expr[:len(c.expr)-1]
	c.refresh()
}

func (c *Calculator) Clear() {
	c.expr = ""
	c.last = core.Zero
}

func (c *Calculator) refresh() {
	if c.expr == "" {
		c.last = core.Zero
		return
	}
	c.last = Preview(c.expr, c.last)
}

// Done evaluates the expression for saving. A non-negative result is
// clamped and the expression is rewritten to its plain form so editing can
// continue from it. A negative result leaves the expression as typed.
func (c *Calculator) Done() (Suggestion, error) {
	if c.expr == "" {
		return Suggestion{Amount: core.Zero}, nil
	}
	v, err := Evaluate(c.expr)
	if err != nil {
		c.last = core.Zero
		return Suggestion{}, err
	}
	if v.Sign() < 0 {
		return Suggestion{Amount: v.Abs().Clamp(), SwitchKind: true}, nil
	}
	final := v.Clamp()
	c.expr = final.Plain()
	c.last = final
	return Suggestion{Amount: final}, nil
}
