package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmationRequest immutable snapshot of user input taken at confirm time.
type ConfirmationRequest struct {
	ID           string
	Flow         FlowKind
	Account      string
	Asset        Asset
	UtilityAsset Asset
	Amount       decimal.Decimal
	Target       string
	Tip          decimal.Decimal
	Fee          FeeQuote
	Builder      CallBuilder
	CreatedAt    time.Time
}

// String returns a human-readable string representation.
func (r *ConfirmationRequest) String() string {
	return fmt.Sprintf("%s %s %s to %s (fee %s)", r.Flow.String(), r.Amount.String(), r.Asset.Symbol, r.Target, r.Fee.Amount.String())
}

// Extrinsic builds the unsigned transaction of the request.
func (r *ConfirmationRequest) Extrinsic() (Extrinsic, error) {
	return BuildExtrinsic(r.Asset.Ref.ChainID, r.Account, r.Tip, r.Builder)
}

// SubmissionResult outcome of one submission, either TxHash or Err is set.
type SubmissionResult struct {
	RequestID string
	TxHash    string
	Err       error
}

// Succeeded reports whether the transaction was broadcast.
func (r SubmissionResult) Succeeded() bool {
	return r.Err == nil && r.TxHash != ""
}
