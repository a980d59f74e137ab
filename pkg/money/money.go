package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrSubCentPrecision = errors.New("金额最多保留两位小数")

var hundred = decimal.NewFromInt(100)

// ToCents 把展示用的十进制金额（如 50.00）转换为分
func ToCents(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, ErrSubCentPrecision
	}
	return cents.IntPart(), nil
}

// FromCents 分 -> 十进制金额
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format 以两位小数展示，例如 4700 -> "47.00"
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

func FormatPtr(cents *int64) *string {
	if cents == nil {
		return nil
	}
	s := Format(*cents)
	return &s
}
