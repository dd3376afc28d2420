package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromDecimal(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"whole", "1234", 123400},
		{"two decimals", "45.30", 4530},
		{"rounds half up", "0.005", 1},
		{"negative", "-45.30", -4530},
		{"negative rounds away from zero", "-0.005", -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tc.input)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, FromDecimal(d))
		})
	}
}

func TestToDecimal_RoundTrips(t *testing.T) {
	for _, minor := range []int64{0, 1, -1, 4530, -123456} {
		assert.Equal(t, minor, FromDecimal(ToDecimal(minor)))
	}
}

func TestAbs(t *testing.T) {
	assert.Equal(t, int64(4530), Abs(-4530))
	assert.Equal(t, int64(4530), Abs(4530))
	assert.Equal(t, int64(0), Abs(0))
}
