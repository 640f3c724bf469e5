package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		expression string
		want       float64
	}{
		{"2 + 2 * 3", 8},
		{"(3 + 4) * 2", 14},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"--3", 3},
		{"2**3", 8},
		{"-2**2", -4},
		{"2**3**2", 512},
		{"1.5 * 2", 3},
		{".5 + 1.", 1.5},
		{"100 - 10 - 1", 89},
		{"100 / 10 / 2", 5},
		{"结果= 12*3", 36},
		{"abc 1+1", 2},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			res := Calculate(tt.expression)
			require.True(t, res.Success, res.Error)
			require.NotNil(t, res.Result)
			assert.InDelta(t, tt.want, *res.Result, 1e-9)
			assert.Equal(t, tt.expression, res.Expression)
		})
	}
}

func TestCalculate_Failures(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"import('fs')",
		"process.exit(1)",
		"2 +",
		"(1 + 2",
		"1 + 2)",
		"1.2.3",
		"1 / 0",
		"0 / 0",
		"2 3",
		"* 2",
	}

	for _, expression := range tests {
		t.Run(expression, func(t *testing.T) {
			res := Calculate(expression)
			assert.False(t, res.Success)
			assert.Nil(t, res.Result)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestSanitizeExpression(t *testing.T) {
	assert.Equal(t, "()", sanitizeExpression("import('fs')"))
	assert.Equal(t, "1 + 2", sanitizeExpression("1 + 2"))
	assert.Equal(t, "12", sanitizeExpression("1a2;"))
	assert.Equal(t, "", sanitizeExpression("require"))
}
