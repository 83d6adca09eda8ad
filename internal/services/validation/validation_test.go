package validation

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

var (
	dot = domain.Asset{
		Ref:       domain.ChainAssetRef{ChainID: "polkadot", AssetID: 0},
		Symbol:    "DOT",
		Precision: 10,
		Kind:      domain.AssetKindNative,
	}
	ausd = domain.Asset{
		Ref:       domain.ChainAssetRef{ChainID: "acala", AssetID: 2},
		Symbol:    "aUSD",
		Precision: 12,
		Kind:      domain.AssetKindOrml,
	}
	aca = domain.Asset{
		Ref:       domain.ChainAssetRef{ChainID: "acala", AssetID: 0},
		Symbol:    "ACA",
		Precision: 12,
		Kind:      domain.AssetKindNative,
	}
	eqd = domain.Asset{
		Ref:       domain.ChainAssetRef{ChainID: "equilibrium", AssetID: 7},
		Symbol:    "EQD",
		Precision: 9,
		Kind:      domain.AssetKindEquilibrium,
	}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshot(ref domain.ChainAssetRef, balance string) *domain.AccountSnapshot {
	return &domain.AccountSnapshot{
		Ref:              ref,
		Account:          "alice",
		Spendable:        d(balance),
		Total:            d(balance),
		StakingAvailable: d(balance),
		Aggregated:       d(balance),
	}
}

// nativeInput builds a native transfer input with a valid fee quote.
func nativeInput(balance, fee, amount, ed string) Input {
	return Input{
		Account:            "alice",
		Target:             "bob",
		Asset:              dot,
		UtilityAsset:       dot,
		Amount:             d(amount),
		ReuseKey:           "key",
		Epoch:              3,
		Fee:                &domain.FeeQuote{Amount: d(fee), ReuseKey: "key", Epoch: 3},
		Balance:            snapshot(dot.Ref, balance),
		ExistentialDeposit: decimal.NewNullDecimal(d(ed)),
	}
}

func failureOf(t *testing.T, err error) *domain.ValidationFailure {
	t.Helper()
	var failure *domain.ValidationFailure
	require.ErrorAs(t, err, &failure)
	return failure
}

type countingValidator struct {
	name  string
	err   error
	calls int
}

func (v *countingValidator) Name() string { return v.name }

func (v *countingValidator) Validate(Input) error {
	v.calls++
	return v.err
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	validators := []*countingValidator{
		{name: "first"},
		{name: "second", err: &domain.ValidationFailure{Validator: "second", Reason: "nope"}},
		{name: "third"},
		{name: "fourth"},
	}
	chain := make([]Validator, 0, len(validators))
	for _, v := range validators {
		chain = append(chain, v)
	}

	passed := false
	err := Run(Input{}, chain, func() { passed = true })

	failure := failureOf(t, err)
	assert.Equal(t, "second", failure.Validator)
	assert.False(t, passed)
	assert.Equal(t, 1, validators[0].calls)
	assert.Equal(t, 1, validators[1].calls)
	assert.Zero(t, validators[2].calls)
	assert.Zero(t, validators[3].calls)
}

func TestRun_CallsOnAllPass(t *testing.T) {
	passed := 0
	err := Run(nativeInput("10", "0.01", "1", "0.1"), Canonical(), func() { passed++ })

	require.NoError(t, err)
	assert.Equal(t, 1, passed)
}

func TestHasFee(t *testing.T) {
	reestimated := false
	in := nativeInput("10", "0.01", "1", "0.1")
	in.Reestimate = func() { reestimated = true }

	t.Run("valid quote", func(t *testing.T) {
		assert.NoError(t, HasFee().Validate(in))
	})

	t.Run("missing quote", func(t *testing.T) {
		missing := in
		missing.Fee = nil
		failure := failureOf(t, HasFee().Validate(missing))
		assert.Equal(t, NameHasFee, failure.Validator)
		require.NotNil(t, failure.Recovery)
		failure.Recovery()
		assert.True(t, reestimated)
	})

	t.Run("quote of previous epoch", func(t *testing.T) {
		stale := in
		stale.Epoch = 4
		failureOf(t, HasFee().Validate(stale))
	})

	t.Run("quote of other inputs", func(t *testing.T) {
		other := in
		other.ReuseKey = "other"
		failureOf(t, HasFee().Validate(other))
	})
}

func TestCanAffordFeeAndAmount(t *testing.T) {
	t.Run("same asset", func(t *testing.T) {
		assert.NoError(t, CanAffordFeeAndAmount().Validate(nativeInput("10", "0.01", "9.99", "0")))

		failure := failureOf(t, CanAffordFeeAndAmount().Validate(nativeInput("10", "0.01", "9.999", "0")))
		assert.Contains(t, failure.Reason, "insufficient balance")
	})

	t.Run("tip is included", func(t *testing.T) {
		in := nativeInput("10", "0.01", "9.98", "0")
		in.Tip = d("0.02")
		failureOf(t, CanAffordFeeAndAmount().Validate(in))
	})

	t.Run("staking uses staking available balance", func(t *testing.T) {
		in := nativeInput("10", "0.01", "5", "0")
		in.Staking = true
		in.Balance.StakingAvailable = d("4")
		failureOf(t, CanAffordFeeAndAmount().Validate(in))
	})

	t.Run("fee in utility asset", func(t *testing.T) {
		in := Input{
			Account:        "alice",
			Asset:          ausd,
			UtilityAsset:   aca,
			Amount:         d("100"),
			Fee:            &domain.FeeQuote{Amount: d("0.5")},
			Balance:        snapshot(ausd.Ref, "100"),
			UtilityBalance: snapshot(aca.Ref, "1"),
		}
		assert.NoError(t, CanAffordFeeAndAmount().Validate(in))

		in.UtilityBalance = snapshot(aca.Ref, "0.4")
		failure := failureOf(t, CanAffordFeeAndAmount().Validate(in))
		assert.Contains(t, failure.Reason, "ACA")

		in.UtilityBalance = snapshot(aca.Ref, "1")
		in.Balance = snapshot(ausd.Ref, "99")
		failure = failureOf(t, CanAffordFeeAndAmount().Validate(in))
		assert.Contains(t, failure.Reason, "aUSD")
	})

	t.Run("balance not loaded", func(t *testing.T) {
		in := nativeInput("10", "0.01", "1", "0")
		in.Balance = nil
		failureOf(t, CanAffordFeeAndAmount().Validate(in))
	})
}

func TestExistentialDepositPreserved_Native(t *testing.T) {
	assert.NoError(t, ExistentialDepositPreserved().Validate(nativeInput("10", "0.01", "9.89", "0.1")))

	failure := failureOf(t, ExistentialDepositPreserved().Validate(nativeInput("10", "0.01", "9.9", "0.1")))
	assert.Equal(t, NameExistentialDepositPreserved, failure.Validator)
	assert.Contains(t, failure.Reason, "existential deposit")
}

func TestExistentialDepositPreserved_NotLoaded(t *testing.T) {
	refetched := false
	in := nativeInput("10", "0.01", "1", "0.1")
	in.ExistentialDeposit = decimal.NullDecimal{}
	in.RefetchConstants = func() { refetched = true }

	failure := failureOf(t, ExistentialDepositPreserved().Validate(in))
	require.NotNil(t, failure.Recovery)
	failure.Recovery()
	assert.True(t, refetched)
}

func TestExistentialDepositPreserved_Orml(t *testing.T) {
	in := Input{
		Asset:                     ausd,
		UtilityAsset:              aca,
		Amount:                    d("50"),
		Fee:                       &domain.FeeQuote{Amount: d("0.5")},
		Balance:                   snapshot(ausd.Ref, "100"),
		UtilityBalance:            snapshot(aca.Ref, "1"),
		ExistentialDeposit:        decimal.NewNullDecimal(d("0.1")),
		UtilityExistentialDeposit: decimal.NewNullDecimal(d("0.1")),
	}
	assert.NoError(t, ExistentialDepositPreserved().Validate(in))

	t.Run("whole token balance may leave", func(t *testing.T) {
		all := in
		all.Amount = d("100")
		assert.NoError(t, ExistentialDepositPreserved().Validate(all))
	})

	t.Run("token dust below deposit", func(t *testing.T) {
		dust := in
		dust.Amount = d("99.95")
		failure := failureOf(t, ExistentialDepositPreserved().Validate(dust))
		assert.Contains(t, failure.Reason, "aUSD")
	})

	t.Run("utility account reaped by fee", func(t *testing.T) {
		reaped := in
		reaped.UtilityBalance = snapshot(aca.Ref, "0.55")
		failure := failureOf(t, ExistentialDepositPreserved().Validate(reaped))
		assert.Contains(t, failure.Reason, "ACA")
	})
}

func TestExistentialDepositPreserved_Equilibrium(t *testing.T) {
	in := Input{
		Asset:              eqd,
		UtilityAsset:       eqd,
		Amount:             d("5"),
		Fee:                &domain.FeeQuote{Amount: d("0.1")},
		Balance:            snapshot(eqd.Ref, "5"),
		ExistentialDeposit: decimal.NewNullDecimal(d("1")),
	}
	in.Balance.Aggregated = d("10")
	assert.NoError(t, ExistentialDepositPreserved().Validate(in))

	in.Balance.Aggregated = d("6")
	failureOf(t, ExistentialDepositPreserved().Validate(in))
}

func TestExistentialDepositPreserved_NativeProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		balance := decimal.NewFromInt(rnd.Int63n(1_000_000)).Shift(-4)
		fee := decimal.NewFromInt(rnd.Int63n(1_000)).Shift(-4)
		amount := decimal.NewFromInt(rnd.Int63n(1_000_000)).Shift(-4)
		ed := decimal.NewFromInt(rnd.Int63n(10_000)).Shift(-4)

		in := nativeInput(balance.String(), fee.String(), amount.String(), ed.String())
		err := ExistentialDepositPreserved().Validate(in)

		if balance.Sub(fee).Sub(amount).LessThan(ed) {
			require.Error(t, err, "balance=%s fee=%s amount=%s ed=%s", balance, fee, amount, ed)
		} else {
			require.NoError(t, err, "balance=%s fee=%s amount=%s ed=%s", balance, fee, amount, ed)
		}
	}
}

func TestCanonical_SpendAllBlockedByAffordability(t *testing.T) {
	in := nativeInput("10.0", "0.01", "9.999", "0.1")

	failureOf(t, ExistentialDepositPreserved().Validate(in))

	submitted := false
	err := Run(in, Canonical(), func() { submitted = true })
	failure := failureOf(t, err)
	assert.Equal(t, NameCanAffordFeeAndAmount, failure.Validator)
	assert.False(t, submitted)
}

func TestCanonical_RegularTransferPasses(t *testing.T) {
	in := nativeInput("10.0", "0.01", "1.0", "0.1")
	chain := append(Canonical(), DestinationNotSelf())

	submitted := 0
	require.NoError(t, Run(in, chain, func() { submitted++ }))
	assert.Equal(t, 1, submitted)
}

func TestFlowValidators(t *testing.T) {
	in := nativeInput("10", "0.01", "1", "0.1")

	assert.NoError(t, MinimumBond(d("1")).Validate(in))
	failureOf(t, MinimumBond(d("1.5")).Validate(in))

	assert.NoError(t, PoolNameNotEmpty("whales").Validate(in))
	failureOf(t, PoolNameNotEmpty("   ").Validate(in))

	assert.NoError(t, NominationsChosen([]string{"v1"}).Validate(in))
	failureOf(t, NominationsChosen(nil).Validate(in))

	self := in
	self.Target = "alice"
	failureOf(t, DestinationNotSelf().Validate(self))
	empty := in
	empty.Target = ""
	failureOf(t, DestinationNotSelf().Validate(empty))

	assert.NoError(t, SwapMinReceived(d("10"), d("9.5"), "USDT").Validate(in))
	failureOf(t, SwapMinReceived(d("9"), d("9.5"), "USDT").Validate(in))
}

func TestSignerIsStash(t *testing.T) {
	in := nativeInput("10", "0.01", "1", "0.1")

	assert.NoError(t, SignerIsStash("alice").Validate(in))
	failure := failureOf(t, SignerIsStash("charlie").Validate(in))
	assert.Equal(t, NameSignerIsStash, failure.Validator)
}
