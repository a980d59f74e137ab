package fee

import (
	"sync"
	"testing"

	"paysettle/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateFee_Examples(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		name         string
		amount       int64
		paymentType  string
		installments int
		wantFee      int64
		wantNet      int64
	}{
		{name: "debit 100.00", amount: 10000, paymentType: model.PaymentTypeDebit, installments: 1, wantFee: 150, wantNet: 9850},
		{name: "credit spot 100.00", amount: 10000, paymentType: model.PaymentTypeCreditSpot, installments: 1, wantFee: 300, wantNet: 9700},
		{name: "installment 12x 100.00", amount: 10000, paymentType: model.PaymentTypeCreditInstallment, installments: 12, wantFee: 1600, wantNet: 8400},
		{name: "installment 3x 50.00", amount: 5000, paymentType: model.PaymentTypeCreditInstallment, installments: 3, wantFee: 350, wantNet: 4650},
		{name: "credit single installment is spot", amount: 10000, paymentType: model.PaymentTypeCredit, installments: 1, wantFee: 300, wantNet: 9700},
		{name: "credit many installments", amount: 10000, paymentType: model.PaymentTypeCredit, installments: 6, wantFee: 1000, wantNet: 9000},
		{name: "half up rounding", amount: 100, paymentType: model.PaymentTypeDebit, installments: 1, wantFee: 2, wantNet: 98},
		{name: "rounds down below half", amount: 33, paymentType: model.PaymentTypeDebit, installments: 1, wantFee: 0, wantNet: 33},
		{name: "max installments", amount: 10000, paymentType: model.PaymentTypeCreditInstallment, installments: 24, wantFee: 2800, wantNet: 7200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := c.CalculateFee(tt.amount, tt.paymentType, tt.installments)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, fee)

			net, err := c.CalculateNetAmount(tt.amount, tt.paymentType, tt.installments)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNet, net)
		})
	}
}

// 对任意金额 A：fee == round(A × rate, 2)，以元为单位验证
func TestCalculateFee_MatchesDecimalRounding(t *testing.T) {
	c := NewCalculator()
	rates := map[string]string{
		model.PaymentTypeDebit:      "0.015",
		model.PaymentTypeCreditSpot: "0.03",
	}

	for paymentType, rate := range rates {
		for _, cents := range []int64{1, 7, 33, 100, 999, 1234, 10000, 123457, 99999999} {
			fee, err := c.CalculateFee(cents, paymentType, 1)
			require.NoError(t, err)

			units := decimal.New(cents, -2)
			want := units.Mul(decimal.RequireFromString(rate)).Round(2)
			assert.Truef(t, want.Equal(decimal.New(fee, -2)), "%s %d: want %s got %d", paymentType, cents, want, fee)
		}
	}
}

func TestCalculateFee_NeverNegativeNet(t *testing.T) {
	c := NewCalculator()
	for n := MinInstallments; n <= MaxInstallments; n++ {
		net, err := c.CalculateNetAmount(1, model.PaymentTypeCreditInstallment, n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, net, int64(0))
	}
}

func TestCalculateFee_Errors(t *testing.T) {
	c := NewCalculator()

	_, err := c.CalculateFee(0, model.PaymentTypeDebit, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.CalculateFee(-100, model.PaymentTypeDebit, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	for _, n := range []int{0, -1, 25} {
		_, err = c.CalculateFee(10000, model.PaymentTypeCreditInstallment, n)
		assert.ErrorIs(t, err, ErrInvalidInstallmentCount, "installments=%d", n)
	}

	_, err = c.CalculateFee(10000, model.PaymentTypePix, 1)
	assert.ErrorIs(t, err, ErrUnsupportedPaymentType)
}

func TestCalculateFee_Concurrent(t *testing.T) {
	c := NewCalculator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fee, err := c.CalculateFee(10000, model.PaymentTypeCreditInstallment, 12)
			assert.NoError(t, err)
			assert.Equal(t, int64(1600), fee)
		}()
	}
	wg.Wait()
}
