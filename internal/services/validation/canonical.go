package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

const (
	NameHasFee                      = "has_fee"
	NameCanAffordFeeAndAmount       = "can_afford_fee_and_amount"
	NameExistentialDepositPreserved = "existential_deposit_preserved"
)

// HasFee fails unless a fee quote computed for the current inputs is present.
func HasFee() Validator {
	return New(NameHasFee, func(in Input) error {
		if !in.Fee.ValidFor(in.ReuseKey, in.Epoch) {
			return fail(NameHasFee, "network fee is not available yet", in.Reestimate)
		}
		return nil
	})
}

// CanAffordFeeAndAmount fails if the balance does not cover amount, fee and tip.
// When the fee is paid in the utility asset both balances are checked separately.
func CanAffordFeeAndAmount() Validator {
	return New(NameCanAffordFeeAndAmount, func(in Input) error {
		if in.Balance == nil {
			return fail(NameCanAffordFeeAndAmount, "balance is not loaded yet", nil)
		}

		available := in.available(in.Balance)
		if in.PaysFeeInSpentAsset() {
			need := in.Amount.Add(in.fee()).Add(in.Tip)
			if available.LessThan(need) {
				return fail(NameCanAffordFeeAndAmount, fmt.Sprintf("insufficient balance: need %s, available %s",
					amountOf(need, in.Asset), amountOf(available, in.Asset)), nil)
			}
			return nil
		}

		if available.LessThan(in.Amount) {
			return fail(NameCanAffordFeeAndAmount, fmt.Sprintf("insufficient balance: need %s, available %s",
				amountOf(in.Amount, in.Asset), amountOf(available, in.Asset)), nil)
		}

		if in.UtilityBalance == nil {
			return fail(NameCanAffordFeeAndAmount, fmt.Sprintf("%s balance is not loaded yet", in.UtilityAsset.Symbol), nil)
		}
		feeNeed := in.fee().Add(in.Tip)
		if in.UtilityBalance.Spendable.LessThan(feeNeed) {
			return fail(NameCanAffordFeeAndAmount, fmt.Sprintf("insufficient %s to pay network fee: need %s, available %s",
				in.UtilityAsset.Symbol, amountOf(feeNeed, in.UtilityAsset), amountOf(in.UtilityBalance.Spendable, in.UtilityAsset)), nil)
		}

		return nil
	})
}

// ExistentialDepositPreserved fails if the spend would leave an account below its existential deposit.
func ExistentialDepositPreserved() Validator {
	return New(NameExistentialDepositPreserved, func(in Input) error {
		switch in.Asset.Kind {
		case domain.AssetKindOrml:
			return ormlDeposit(in)
		case domain.AssetKindEquilibrium:
			return equilibriumDeposit(in)
		default:
			return nativeDeposit(in)
		}
	})
}

// nativeDeposit amount, fee and tip all leave the utility account.
func nativeDeposit(in Input) error {
	if !in.ExistentialDeposit.Valid {
		return fail(NameExistentialDepositPreserved, "existential deposit is not loaded yet", in.RefetchConstants)
	}
	if in.Balance == nil {
		return fail(NameExistentialDepositPreserved, "balance is not loaded yet", nil)
	}

	remaining := in.Balance.Total.Sub(in.Amount).Sub(in.fee()).Sub(in.Tip)

	return checkRemaining(remaining, in.ExistentialDeposit.Decimal, in.Asset)
}

// ormlDeposit token and utility accounts are reaped independently.
func ormlDeposit(in Input) error {
	if !in.ExistentialDeposit.Valid || !in.UtilityExistentialDeposit.Valid {
		return fail(NameExistentialDepositPreserved, "existential deposit is not loaded yet", in.RefetchConstants)
	}
	if in.Balance == nil || in.UtilityBalance == nil {
		return fail(NameExistentialDepositPreserved, "balance is not loaded yet", nil)
	}

	remaining := in.Balance.Total.Sub(in.Amount)
	if !remaining.IsZero() {
		if err := checkRemaining(remaining, in.ExistentialDeposit.Decimal, in.Asset); err != nil {
			return err
		}
	}

	utilityRemaining := in.UtilityBalance.Total.Sub(in.fee()).Sub(in.Tip)

	return checkRemaining(utilityRemaining, in.UtilityExistentialDeposit.Decimal, in.UtilityAsset)
}

// equilibriumDeposit all assets of the account share one aggregated balance.
func equilibriumDeposit(in Input) error {
	if !in.ExistentialDeposit.Valid {
		return fail(NameExistentialDepositPreserved, "existential deposit is not loaded yet", in.RefetchConstants)
	}
	if in.Balance == nil {
		return fail(NameExistentialDepositPreserved, "balance is not loaded yet", nil)
	}

	remaining := in.Balance.Aggregated.Sub(in.Amount).Sub(in.fee()).Sub(in.Tip)

	return checkRemaining(remaining, in.ExistentialDeposit.Decimal, in.Asset)
}

func checkRemaining(remaining, deposit decimal.Decimal, asset domain.Asset) error {
	if remaining.LessThan(deposit) {
		return fail(NameExistentialDepositPreserved, fmt.Sprintf("remaining balance %s would drop below existential deposit %s",
			amountOf(decimal.Max(remaining, decimal.Zero), asset), amountOf(deposit, asset)), nil)
	}
	return nil
}
