package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAsset(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		amount    int64
		precision uint8
		code      string
		wantErr   bool
	}{
		{name: "canonical native", input: "500.0000 REM", amount: 5000000, precision: 4, code: "REM"},
		{name: "one unit", input: "1.0000 REM", amount: 10000, precision: 4, code: "REM"},
		{name: "fractional only", input: "0.0311 REM", amount: 311, precision: 4, code: "REM"},
		{name: "zero precision", input: "42 AUTH", amount: 42, precision: 0, code: "AUTH"},
		{name: "negative", input: "-1.0000 REM", amount: -10000, precision: 4, code: "REM"},
		{name: "missing symbol", input: "500.0000", wantErr: true},
		{name: "lowercase symbol", input: "1.0000 rem", wantErr: true},
		{name: "not a number", input: "abc REM", wantErr: true},
		{name: "trailing dot", input: "1. REM", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAsset(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, got.Amount)
			assert.Equal(t, tt.code, got.Symbol.Code)
			assert.Equal(t, tt.precision, got.Symbol.Precision)
		})
	}
}

func TestAssetString(t *testing.T) {
	rem := Symbol{Code: "REM", Precision: 4}

	assert.Equal(t, "500.0000 REM", Asset{Amount: 5000000, Symbol: rem}.String())
	assert.Equal(t, "0.0311 REM", Asset{Amount: 311, Symbol: rem}.String())
	assert.Equal(t, "-1.0000 REM", Asset{Amount: -10000, Symbol: rem}.String())
	assert.Equal(t, "7 AUTH", Asset{Amount: 7, Symbol: Symbol{Code: "AUTH"}}.String())
}

func TestAssetStringRoundTrip(t *testing.T) {
	orig := Asset{Amount: 1234567, Symbol: Symbol{Code: "REM", Precision: 4}}
	parsed, err := ParseAsset(orig.String())
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestAssetMulByFloat(t *testing.T) {
	rem := Symbol{Code: "REM", Precision: 4}

	// Discounts truncate toward zero, never round up.
	assert.Equal(t, int64(5000), Asset{Amount: 10000, Symbol: rem}.MulByFloat(0.5).Amount)
	assert.Equal(t, int64(8699), Asset{Amount: 10000, Symbol: rem}.MulByFloat(0.87).Amount)
	assert.Equal(t, int64(0), Asset{Amount: 10000, Symbol: rem}.MulByFloat(0).Amount)
	assert.Equal(t, int64(10000), Asset{Amount: 10000, Symbol: rem}.MulByFloat(1).Amount)
}
