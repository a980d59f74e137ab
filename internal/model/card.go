package model

import (
	"strings"
	"time"
	"unicode"
)

// Card 支付卡信息，只归属于创建它的那笔交易
// 原始卡号不落库，只保存脱敏卡号和后四位
type Card struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionID int64     `gorm:"uniqueIndex;not null" json:"-"`
	MaskedPAN     string    `gorm:"type:varchar(32);not null" json:"masked_pan"`
	LastFour      string    `gorm:"type:varchar(4);not null" json:"last_four"`
	HolderName    string    `gorm:"type:varchar(128);not null" json:"holder_name"`
	ExpiryDate    string    `gorm:"type:varchar(7);not null" json:"expiry_date"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"-"`
}

func (Card) TableName() string {
	return "settlement_card"
}

func NewCard(pan, holderName, expiryDate string) *Card {
	digits := onlyDigits(pan)
	lastFour := digits
	if len(digits) > 4 {
		lastFour = digits[len(digits)-4:]
	}
	return &Card{
		MaskedPAN:  MaskPAN(digits),
		LastFour:   lastFour,
		HolderName: strings.TrimSpace(holderName),
		ExpiryDate: strings.TrimSpace(expiryDate),
	}
}

// MaskPAN 保留 BIN（前6位）和后四位，其余用 * 替换；短卡号只保留后四位
func MaskPAN(pan string) string {
	digits := onlyDigits(pan)
	n := len(digits)
	if n <= 4 {
		return digits
	}

	keepHead := 6
	if n < 13 {
		keepHead = 0
	}
	return digits[:keepHead] + strings.Repeat("*", n-keepHead-4) + digits[n-4:]
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
