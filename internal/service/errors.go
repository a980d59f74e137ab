package service

import (
	"errors"

	"paysettle/internal/fee"
	"paysettle/internal/gateway"
	"paysettle/internal/repository"
)

var (
	ErrInvalidAmount           = fee.ErrInvalidAmount
	ErrInvalidInstallmentCount = fee.ErrInvalidInstallmentCount
	ErrUnsupportedPaymentType  = fee.ErrUnsupportedPaymentType
	ErrInvalidTransition       = repository.ErrInvalidTransition
	ErrGateway                 = gateway.ErrGateway

	ErrInvalidPaymentType = errors.New("未知的支付类型")
	ErrMalformedPayload   = errors.New("回调报文不合法")
	ErrReconcile          = errors.New("对账处理失败")
	ErrNotFound           = errors.New("交易不存在")
)
