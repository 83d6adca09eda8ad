package orchestrator

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Phase of a confirmation screen.
type Phase int

const (
	PhaseConfiguring Phase = iota
	PhaseEstimating
	PhaseReady
	PhaseConfirming
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseConfiguring:
		return "configuring"
	case PhaseEstimating:
		return "estimating"
	case PhaseReady:
		return "ready"
	case PhaseConfirming:
		return "confirming"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the phase by name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// ViewState observable state of a confirmation screen.
type ViewState struct {
	Phase   Phase  `json:"phase"`
	Flow    string `json:"flow"`
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Utility string `json:"utility_asset"`

	Amount     decimal.Decimal     `json:"amount"`
	AmountFiat decimal.NullDecimal `json:"amount_fiat"`
	Percent    decimal.NullDecimal `json:"percent"`
	Target     string              `json:"target"`
	Tip        decimal.Decimal     `json:"tip"`

	Fee      decimal.NullDecimal `json:"fee"`
	FeeFiat  decimal.NullDecimal `json:"fee_fiat"`
	FeeError string              `json:"fee_error,omitempty"`

	Balance            decimal.NullDecimal `json:"balance"`
	UtilityBalance     decimal.NullDecimal `json:"utility_balance"`
	BalanceError       string              `json:"balance_error,omitempty"`
	PriceError         string              `json:"price_error,omitempty"`
	ExistentialDeposit decimal.NullDecimal `json:"existential_deposit"`
	Currency           string              `json:"currency"`

	ValidationError string `json:"validation_error,omitempty"`
	SubmissionError string `json:"submission_error,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`

	Epoch uint64 `json:"epoch"`
}
