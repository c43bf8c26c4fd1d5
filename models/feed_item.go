package models

import "github.com/shopspring/decimal"

// FeedItem is one normalized entry of a partner feed page, independent of the
// partner's own field names.
type FeedItem struct {
	UserID      string
	DisplayName *string
	XP          float64
	ReferredAt  *int64

	WagerAmount      decimal.Decimal
	DepositAmount    decimal.Decimal
	CommissionAmount decimal.Decimal

	// Malformed is set when the partner element could not be decoded.
	Malformed string
}
