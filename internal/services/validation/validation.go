// Package validation gates submission behind an ordered list of checks.
package validation

import (
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

// Input state the validators are evaluated against. It is a snapshot taken at confirm time.
type Input struct {
	Account      string
	Target       string
	Asset        domain.Asset
	UtilityAsset domain.Asset
	Amount       decimal.Decimal
	Tip          decimal.Decimal

	// ReuseKey and Epoch describe the current inputs, a fee quote is usable only if it matches them.
	ReuseKey string
	Epoch    uint64
	Fee      *domain.FeeQuote

	Balance        *domain.AccountSnapshot
	UtilityBalance *domain.AccountSnapshot
	// Staking spends the staking-available balance instead of the spendable one.
	Staking bool

	ExistentialDeposit        decimal.NullDecimal
	UtilityExistentialDeposit decimal.NullDecimal

	// Reestimate and RefetchConstants are attached to failures as recovery actions.
	Reestimate       func()
	RefetchConstants func()
}

// PaysFeeInSpentAsset reports whether the fee is charged from the spent asset's balance.
func (in Input) PaysFeeInSpentAsset() bool {
	return in.Asset.IsUtility() || in.Asset.Ref == in.UtilityAsset.Ref
}

func (in Input) fee() decimal.Decimal {
	if in.Fee == nil {
		return decimal.Zero
	}
	return in.Fee.Amount
}

func (in Input) available(snapshot *domain.AccountSnapshot) decimal.Decimal {
	if in.Staking {
		return snapshot.StakingAvailable
	}
	return snapshot.Spendable
}

// Validator single check. A failed check returns *domain.ValidationFailure.
type Validator interface {
	Name() string
	Validate(in Input) error
}

type validatorFunc struct {
	name string
	fn   func(Input) error
}

func (v validatorFunc) Name() string { return v.name }

func (v validatorFunc) Validate(in Input) error { return v.fn(in) }

// New wraps fn as a named validator.
func New(name string, fn func(Input) error) Validator {
	return validatorFunc{name: name, fn: fn}
}

// Run evaluates validators in order and stops at the first failure.
// onAllPass is called only when every validator passed.
func Run(in Input, validators []Validator, onAllPass func()) error {
	for _, v := range validators {
		if err := v.Validate(in); err != nil {
			return err
		}
	}

	if onAllPass != nil {
		onAllPass()
	}

	return nil
}

// Canonical returns the checks every flow starts with.
func Canonical() []Validator {
	return []Validator{
		HasFee(),
		CanAffordFeeAndAmount(),
		ExistentialDepositPreserved(),
	}
}

func fail(validator, reason string, recovery func()) error {
	return &domain.ValidationFailure{Validator: validator, Reason: reason, Recovery: recovery}
}

func amountOf(amount decimal.Decimal, asset domain.Asset) string {
	return amount.String() + " " + asset.Symbol
}
