package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot balances of one account for one asset.
// A snapshot always replaces the previous one as a whole.
type AccountSnapshot struct {
	Ref     ChainAssetRef
	Account string
	// Spendable amount that can be transferred right now.
	Spendable decimal.Decimal
	// Total free plus reserved/locked balance.
	Total decimal.Decimal
	// StakingAvailable amount that can still be bonded.
	StakingAvailable decimal.Decimal
	// Aggregated account-wide balance of equilibrium-style chains, zero elsewhere.
	Aggregated decimal.Decimal
	UpdatedAt  time.Time
}

// PriceSnapshot price of one asset in a display currency.
type PriceSnapshot struct {
	Ref      ChainAssetRef
	Currency string
	// Price is invalid when the source has no price for the asset.
	Price     decimal.NullDecimal
	UpdatedAt time.Time
}

// Fiat converts amount into the display currency, returns false when the price is absent.
func (p PriceSnapshot) Fiat(amount decimal.Decimal) (decimal.Decimal, bool) {
	if !p.Price.Valid {
		return decimal.Zero, false
	}

	return amount.Mul(p.Price.Decimal), true
}
