package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registro/internal/core"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "0"},
		{"93+46-", "139"},
		{"93+46", "139"},
		{"10+", "10"},
		{"10+-", "10"},
		{"1.5+2.5", "4"},
		{"100.00-25.50", "74.5"},
		{"-5+2", "-3"},
		{"0.1+0.2", "0.3"},
		{" 1 + 2 ", "3"},
		{"-", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Evaluate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestEvaluateTrailingOperatorsMatch(t *testing.T) {
	a, err := Evaluate("93+46-")
	require.NoError(t, err)
	b, err := Evaluate("93+46")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.True(t, a.Equal(core.NewMoney(139)))
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		input string
		err   error
	}{
		{"5.", ErrIncomplete},
		{"5+.", ErrIncomplete},
		{"abc", ErrMalformed},
		{"1.2.3", ErrMalformed},
		{"5+-3", ErrMalformed},
		{"5*3", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := Evaluate(tt.input)
				assert.ErrorIs(t, err, tt.err)
			})
		})
	}
}

func TestPreviewKeepsLastValue(t *testing.T) {
	last := core.NewMoney(42)
	assert.True(t, Preview("5.", last).Equal(last))
	assert.True(t, Preview("5+5", last).Equal(core.NewMoney(10)))
}
