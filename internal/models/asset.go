package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apierrors "github.com/authrelay/authrelay/internal/pkg/errors"
)

// Symbol identifies a token: a short uppercase code plus a fixed number of
// decimal places.
type Symbol struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

func (s Symbol) String() string {
	return fmt.Sprintf("%d,%s", s.Precision, s.Code)
}

// Asset is a fixed-point token quantity. Amount holds the value in minimal
// units, so 500.0000 REM at precision 4 is Amount=5000000.
type Asset struct {
	Amount int64  `json:"amount"`
	Symbol Symbol `json:"symbol"`
}

// NewAsset builds an asset from an amount in minimal units.
func NewAsset(amount int64, symbol Symbol) Asset {
	return Asset{Amount: amount, Symbol: symbol}
}

// ParseAsset parses the canonical text form, e.g. "500.0000 REM". The number
// of fractional digits fixes the precision; an integer part alone means
// precision zero.
func ParseAsset(s string) (Asset, error) {
	parts := strings.Split(strings.TrimSpace(s), " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Asset{}, apierrors.ErrInvalidAsset.WithMessage(fmt.Sprintf("malformed asset %q", s))
	}

	code := parts[1]
	if code != strings.ToUpper(code) {
		return Asset{}, apierrors.ErrInvalidAsset.WithMessage(fmt.Sprintf("symbol code must be uppercase in %q", s))
	}

	num := parts[0]
	negative := strings.HasPrefix(num, "-")
	num = strings.TrimPrefix(num, "-")

	var intPart, fracPart string
	if dot := strings.Index(num, "."); dot >= 0 {
		intPart, fracPart = num[:dot], num[dot+1:]
	} else {
		intPart = num
	}
	if intPart == "" || (fracPart == "" && strings.Contains(num, ".")) {
		return Asset{}, apierrors.ErrInvalidAsset.WithMessage(fmt.Sprintf("malformed amount in %q", s))
	}

	digits := intPart + fracPart
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Asset{}, apierrors.ErrInvalidAsset.WithMessage(fmt.Sprintf("malformed amount in %q", s))
	}
	if negative {
		amount = -amount
	}

	return Asset{
		Amount: amount,
		Symbol: Symbol{Code: code, Precision: uint8(len(fracPart))},
	}, nil
}

// String renders the canonical text form, e.g. "500.0000 REM". This is the
// form used when an asset participates in a signing digest.
func (a Asset) String() string {
	pow := int64(1)
	for i := uint8(0); i < a.Symbol.Precision; i++ {
		pow *= 10
	}

	amount := a.Amount
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	if a.Symbol.Precision == 0 {
		return fmt.Sprintf("%s%d %s", sign, amount, a.Symbol.Code)
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, amount/pow, int(a.Symbol.Precision), amount%pow, a.Symbol.Code)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Asset) IsPositive() bool {
	return a.Amount > 0
}

// MulByFloat scales the amount by f, truncating toward zero.
func (a Asset) MulByFloat(f float64) Asset {
	scaled := math.Trunc(float64(a.Amount) * f)
	return Asset{Amount: int64(scaled), Symbol: a.Symbol}
}

// Sub returns a - b. The symbols must match.
func (a Asset) Sub(b Asset) Asset {
	return Asset{Amount: a.Amount - b.Amount, Symbol: a.Symbol}
}
