package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	NameMinimumBond        = "minimum_bond"
	NamePoolNameNotEmpty   = "pool_name_not_empty"
	NameDestinationNotSelf = "destination_not_self"
	NameNominationsChosen  = "nominations_chosen"
	NameSwapMinReceived    = "swap_min_received"
	NameSignerIsStash      = "signer_is_stash"
)

// MinimumBond fails if the amount is below the minimum bond of the network.
func MinimumBond(min decimal.Decimal) Validator {
	return New(NameMinimumBond, func(in Input) error {
		if in.Amount.LessThan(min) {
			return fail(NameMinimumBond, fmt.Sprintf("amount is less than minimum bond %s", amountOf(min, in.Asset)), nil)
		}
		return nil
	})
}

// PoolNameNotEmpty fails on a blank pool name.
func PoolNameNotEmpty(name string) Validator {
	return New(NamePoolNameNotEmpty, func(Input) error {
		if strings.TrimSpace(name) == "" {
			return fail(NamePoolNameNotEmpty, "pool name must not be empty", nil)
		}
		return nil
	})
}

// DestinationNotSelf fails if the destination is missing or equals the sender.
func DestinationNotSelf() Validator {
	return New(NameDestinationNotSelf, func(in Input) error {
		if strings.TrimSpace(in.Target) == "" {
			return fail(NameDestinationNotSelf, "destination address is required", nil)
		}
		if strings.EqualFold(in.Target, in.Account) {
			return fail(NameDestinationNotSelf, "destination must differ from the sender", nil)
		}
		return nil
	})
}

// NominationsChosen fails when no validator was selected for nomination.
func NominationsChosen(targets []string) Validator {
	return New(NameNominationsChosen, func(Input) error {
		if len(targets) == 0 {
			return fail(NameNominationsChosen, "select at least one validator to nominate", nil)
		}
		return nil
	})
}

// SwapMinReceived fails when the quoted output is below the accepted minimum.
func SwapMinReceived(expected, minReceived decimal.Decimal, symbol string) Validator {
	return New(NameSwapMinReceived, func(Input) error {
		if expected.LessThan(minReceived) {
			return fail(NameSwapMinReceived, fmt.Sprintf("expected output %s %s is below minimum %s %s",
				expected.String(), symbol, minReceived.String(), symbol), nil)
		}
		return nil
	})
}

// SignerIsStash fails when the bonded ledger belongs to another stash account.
func SignerIsStash(stash string) Validator {
	return New(NameSignerIsStash, func(in Input) error {
		if stash != "" && stash != in.Account {
			return fail(NameSignerIsStash, "additional bond must be signed by the stash account", nil)
		}
		return nil
	})
}
