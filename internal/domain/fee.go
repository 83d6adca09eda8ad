package domain

import "github.com/shopspring/decimal"

// FeeQuote network fee computed by a dry run.
// A quote is valid only for the inputs it was computed from, identified by ReuseKey and Epoch.
type FeeQuote struct {
	Amount   decimal.Decimal
	ReuseKey string
	Epoch    uint64
}

// ValidFor reports whether the quote was computed for the given inputs.
func (q *FeeQuote) ValidFor(reuseKey string, epoch uint64) bool {
	if q == nil {
		return false
	}

	return q.ReuseKey == reuseKey && q.Epoch == epoch
}
