package orchestrator

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

// publish snapshots the loop state and offers it to Updates, replacing an unread state.
func (o *Orchestrator) publish() {
	v := o.snapshot()
	o.view.Store(&v)

	select {
	case <-o.updates:
	default:
	}
	select {
	case o.updates <- v:
	default:
	}
}

func (o *Orchestrator) snapshot() ViewState {
	v := ViewState{
		Phase:              o.phase,
		Flow:               o.flow.Kind().String(),
		Account:            o.cfg.Account,
		Asset:              o.cfg.Asset.Symbol,
		Utility:            o.cfg.UtilityAsset.Symbol,
		Amount:             o.amount,
		Percent:            o.percent,
		Target:             o.target,
		Tip:                o.tip,
		Balance:            o.available(),
		ExistentialDeposit: o.ed,
		Currency:           o.cfg.Currency,
		TxHash:             o.txHash,
		Epoch:              o.epoch,
	}

	if o.utilityBalance != nil {
		v.UtilityBalance = decimal.NewNullDecimal(o.utilityBalance.Spendable)
	}
	if o.price != nil {
		if fiat, ok := o.price.Fiat(o.amount); ok {
			v.AmountFiat = decimal.NewNullDecimal(fiat)
		}
	}
	if o.quote != nil {
		v.Fee = decimal.NewNullDecimal(o.quote.Amount)
		if o.utilityPrice != nil {
			if fiat, ok := o.utilityPrice.Fiat(o.quote.Amount); ok {
				v.FeeFiat = decimal.NewNullDecimal(fiat)
			}
		}
	}

	v.FeeError = errorText(o.feeErr)
	v.BalanceError = errorText(o.balanceErr)
	v.PriceError = errorText(o.priceErr)
	v.ValidationError = errorText(o.validationErr)
	v.SubmissionError = errorText(o.submissionErr)

	return v
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	var signErr *domain.SigningError
	if errors.As(err, &signErr) && signErr.Cancelled() {
		return "signing cancelled"
	}
	return err.Error()
}
