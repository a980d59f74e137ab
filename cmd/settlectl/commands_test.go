package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysettle/internal/fee"
)

func TestFeeCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"fee", "100.00", "credit_installment", "-n", "12"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "rate:         16%")
	assert.Contains(t, out.String(), "fee:          16.00")
	assert.Contains(t, out.String(), "net amount:   84.00")
}

func TestRunFee_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runFee(&out, "abc", "DEBIT", 1))
	assert.Error(t, runFee(&out, "1.001", "DEBIT", 1))
	assert.Error(t, runFee(&out, "10.00", "BOLETO", 1))
	assert.ErrorIs(t, runFee(&out, "10.00", "PIX", 1), fee.ErrUnsupportedPaymentType)
	assert.ErrorIs(t, runFee(&out, "10.00", "CREDIT_INSTALLMENT", 30), fee.ErrInvalidInstallmentCount)
}

type stubReconciler map[string]error

func (s stubReconciler) Reconcile(ctx context.Context, ref string) (bool, error) {
	err, ok := s[ref]
	return ok && err == nil, err
}

func TestRunReconcile(t *testing.T) {
	var out bytes.Buffer
	r := stubReconciler{"ORD-a": nil, "ORD-b": errors.New("boom")}

	err := runReconcile(context.Background(), &out, r, []string{"ORD-a", "ORD-b", "ORD-c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORD-b")
	assert.Contains(t, out.String(), "ORD-a\tsettled")
	assert.Contains(t, out.String(), "ORD-c\tnot settled")
}

func TestReconcileCommand_RequiresTarget(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"reconcile"})
	assert.Error(t, cmd.Execute())
}
