package fee

import (
	"errors"
	"fmt"

	"paysettle/internal/model"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 本地结算费率
// ============================================================================
//
//   DEBIT              1.5%
//   CREDIT_SPOT        3.0%
//   CREDIT_INSTALLMENT 4.0% + 1.0% × 分期数（12 期 = 16%）
//   CREDIT             1 期按 CREDIT_SPOT，多期按 CREDIT_INSTALLMENT
//   PIX                无本地费率，只能走网关
//
// 金额以分为单位，手续费四舍五入（half-up）到分
// ============================================================================

const (
	MinInstallments = 1
	MaxInstallments = 24
)

var (
	ErrInvalidAmount           = errors.New("金额必须大于0")
	ErrInvalidInstallmentCount = errors.New("分期数不合法")
	ErrUnsupportedPaymentType  = errors.New("该支付类型没有本地费率")
)

var (
	rateDebit           = decimal.RequireFromString("0.015")
	rateCreditSpot      = decimal.RequireFromString("0.03")
	rateInstallmentBase = decimal.RequireFromString("0.04")
	ratePerInstallment  = decimal.RequireFromString("0.01")
)

// Quote 一次费用计算的完整结果
type Quote struct {
	Amount    int64
	Rate      decimal.Decimal
	Fee       int64
	NetAmount int64
}

// Calculator 无状态，可并发调用
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func ValidateInstallments(installments int) error {
	if installments < MinInstallments || installments > MaxInstallments {
		return fmt.Errorf("%w: %d（允许范围 %d-%d）", ErrInvalidInstallmentCount, installments, MinInstallments, MaxInstallments)
	}
	return nil
}

// Rate 返回费率（小数形式，0.015 表示 1.5%）
func (c *Calculator) Rate(paymentType string, installments int) (decimal.Decimal, error) {
	if err := ValidateInstallments(installments); err != nil {
		return decimal.Zero, err
	}

	switch paymentType {
	case model.PaymentTypeDebit:
		return rateDebit, nil
	case model.PaymentTypeCreditSpot:
		return rateCreditSpot, nil
	case model.PaymentTypeCreditInstallment:
		return installmentRate(installments), nil
	case model.PaymentTypeCredit:
		if installments == 1 {
			return rateCreditSpot, nil
		}
		return installmentRate(installments), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedPaymentType, paymentType)
}

func installmentRate(installments int) decimal.Decimal {
	return rateInstallmentBase.Add(ratePerInstallment.Mul(decimal.NewFromInt(int64(installments))))
}

func (c *Calculator) Quote(amount int64, paymentType string, installments int) (Quote, error) {
	if amount <= 0 {
		return Quote{}, ErrInvalidAmount
	}

	rate, err := c.Rate(paymentType, installments)
	if err != nil {
		return Quote{}, err
	}

	// amount 为正数，Round 的 half-away-from-zero 等价于 half-up
	fee := decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()

	return Quote{
		Amount:    amount,
		Rate:      rate,
		Fee:       fee,
		NetAmount: amount - fee,
	}, nil
}

func (c *Calculator) CalculateFee(amount int64, paymentType string, installments int) (int64, error) {
	q, err := c.Quote(amount, paymentType, installments)
	if err != nil {
		return 0, err
	}
	return q.Fee, nil
}

func (c *Calculator) CalculateNetAmount(amount int64, paymentType string, installments int) (int64, error) {
	q, err := c.Quote(amount, paymentType, installments)
	if err != nil {
		return 0, err
	}
	return q.NetAmount, nil
}
