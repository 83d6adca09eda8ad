// Package flow defines the confirmation flows: the calls each flow composes and the checks it adds.
package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/validation"
)

// Inputs user input shared by every flow.
type Inputs struct {
	Account string
	Asset   domain.Asset
	Amount  decimal.Decimal
	Target  string
	Tip     decimal.Decimal
}

// Flow closed set of confirmation variants.
type Flow interface {
	Kind() domain.FlowKind
	// Builder returns a call builder capturing the current inputs and flow parameters.
	Builder(in Inputs) domain.CallBuilder
	// ReuseKey identifies the transaction Builder would compose.
	ReuseKey(in Inputs) string
	// Validators flow-specific checks that run after the canonical ones.
	Validators() []validation.Validator
	// Staking reports whether the flow spends the staking-available balance.
	Staking() bool

	isFlow()
}

func reuseKey(kind domain.FlowKind, in Inputs, params ...string) string {
	parts := []string{
		kind.String(),
		in.Account,
		in.Asset.Ref.String(),
		in.Asset.ToPlanks(in.Amount).String(),
		in.Target,
		in.Tip.String(),
	}
	parts = append(parts, params...)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))

	return hex.EncodeToString(sum[:])
}

func planks(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}

// Transfer sends an asset to the target account.
type Transfer struct{}

func (Transfer) isFlow() {}

func (Transfer) Kind() domain.FlowKind { return domain.FlowTransfer }

func (Transfer) Staking() bool { return false }

func (Transfer) ReuseKey(in Inputs) string {
	return reuseKey(domain.FlowTransfer, in)
}

func (Transfer) Validators() []validation.Validator {
	return []validation.Validator{validation.DestinationNotSelf()}
}

func (Transfer) Builder(in Inputs) domain.CallBuilder {
	asset := in.Asset
	dest := in.Target
	value := asset.ToPlanks(in.Amount)

	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		switch {
		case asset.ContractAddress != "":
			return b.AddCall(domain.Call{
				Module:   domain.ModuleAssets,
				Function: domain.FunctionTransfer,
				Args: map[string]any{
					domain.ArgContract: asset.ContractAddress,
					domain.ArgDest:     dest,
					domain.ArgValue:    planks(value),
				},
			}), nil
		case asset.Kind == domain.AssetKindOrml:
			return b.AddCall(domain.Call{
				Module:   domain.ModuleTokens,
				Function: domain.FunctionTransfer,
				Args: map[string]any{
					domain.ArgDest:       dest,
					domain.ArgCurrencyID: asset.Ref.AssetID,
					domain.ArgValue:      planks(value),
				},
			}), nil
		case asset.Kind == domain.AssetKindEquilibrium:
			return b.AddCall(domain.Call{
				Module:   domain.ModuleEqBalances,
				Function: domain.FunctionTransfer,
				Args: map[string]any{
					domain.ArgAsset: asset.Ref.AssetID,
					domain.ArgDest:  dest,
					domain.ArgValue: planks(value),
				},
			}), nil
		default:
			return b.AddCall(domain.Call{
				Module:   domain.ModuleBalances,
				Function: domain.FunctionTransferKeepAlive,
				Args: map[string]any{
					domain.ArgDest:  dest,
					domain.ArgValue: planks(value),
				},
			}), nil
		}
	}
}

// BondInitiate bonds funds for the first time and nominates validators.
type BondInitiate struct {
	Payee   string
	Targets []string
	MinBond decimal.Decimal
}

func (BondInitiate) isFlow() {}

func (BondInitiate) Kind() domain.FlowKind { return domain.FlowBondInitiate }

func (BondInitiate) Staking() bool { return true }

func (f BondInitiate) ReuseKey(in Inputs) string {
	return reuseKey(domain.FlowBondInitiate, in, f.Payee, strings.Join(f.Targets, ","))
}

func (f BondInitiate) Validators() []validation.Validator {
	return []validation.Validator{
		validation.MinimumBond(f.MinBond),
		validation.NominationsChosen(f.Targets),
	}
}

func (f BondInitiate) Builder(in Inputs) domain.CallBuilder {
	value := in.Asset.ToPlanks(in.Amount)
	payee := f.Payee
	targets := append([]string(nil), f.Targets...)

	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		b = b.AddCall(domain.Call{
			Module:   domain.ModuleStaking,
			Function: domain.FunctionBond,
			Args: map[string]any{
				domain.ArgValue: planks(value),
				domain.ArgPayee: payee,
			},
		})

		return b.AddCall(domain.Call{
			Module:   domain.ModuleStaking,
			Function: domain.FunctionNominate,
			Args: map[string]any{
				domain.ArgTargets: append([]string(nil), targets...),
			},
		}), nil
	}
}

// BondExisting adds funds to an existing staking ledger.
type BondExisting struct {
	// Stash resolved stash of the account's ledger, empty until the ledger is read.
	Stash string
}

func (BondExisting) isFlow() {}

func (BondExisting) Kind() domain.FlowKind { return domain.FlowBondExisting }

func (BondExisting) Staking() bool { return true }

func (f BondExisting) ReuseKey(in Inputs) string {
	return reuseKey(domain.FlowBondExisting, in, f.Stash)
}

func (f BondExisting) Validators() []validation.Validator {
	return []validation.Validator{validation.SignerIsStash(f.Stash)}
}

func (f BondExisting) Builder(in Inputs) domain.CallBuilder {
	value := in.Asset.ToPlanks(in.Amount)
	stash := f.Stash

	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		if stash == "" {
			return b, domain.ErrDependencyNotReady
		}

		return b.AddCall(domain.Call{
			Module:   domain.ModuleStaking,
			Function: domain.FunctionBondExtra,
			Args: map[string]any{
				domain.ArgValue: planks(value),
			},
		}), nil
	}
}

// PoolCreate creates a nomination pool and names it.
type PoolCreate struct {
	Name      string
	Root      string
	Nominator string
	Bouncer   string
	// NextPoolID id the new pool will get, nil until read from the chain.
	NextPoolID    *uint32
	MinCreateBond decimal.Decimal
}

func (PoolCreate) isFlow() {}

func (PoolCreate) Kind() domain.FlowKind { return domain.FlowPoolCreate }

func (PoolCreate) Staking() bool { return false }

func (f PoolCreate) ReuseKey(in Inputs) string {
	poolID := ""
	if f.NextPoolID != nil {
		poolID = fmt.Sprint(*f.NextPoolID)
	}
	return reuseKey(domain.FlowPoolCreate, in, f.Name, f.Root, f.Nominator, f.Bouncer, poolID)
}

func (f PoolCreate) Validators() []validation.Validator {
	return []validation.Validator{
		validation.PoolNameNotEmpty(f.Name),
		validation.MinimumBond(f.MinCreateBond),
	}
}

func (f PoolCreate) Builder(in Inputs) domain.CallBuilder {
	value := in.Asset.ToPlanks(in.Amount)
	name := f.Name
	root, nominator, bouncer := f.Root, f.Nominator, f.Bouncer
	if root == "" {
		root = in.Account
	}
	if nominator == "" {
		nominator = root
	}
	if bouncer == "" {
		bouncer = root
	}
	var poolID *uint32
	if f.NextPoolID != nil {
		id := *f.NextPoolID
		poolID = &id
	}

	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		if poolID == nil {
			return b, domain.ErrDependencyNotReady
		}

		b = b.AddCall(domain.Call{
			Module:   domain.ModuleNominationPools,
			Function: domain.FunctionCreatePool,
			Args: map[string]any{
				domain.ArgValue:     planks(value),
				domain.ArgRoot:      root,
				domain.ArgNominator: nominator,
				domain.ArgBouncer:   bouncer,
			},
		})

		return b.AddCall(domain.Call{
			Module:   domain.ModuleNominationPools,
			Function: domain.FunctionSetMetadata,
			Args: map[string]any{
				domain.ArgPoolID:   *poolID,
				domain.ArgMetadata: []byte(name),
			},
		}), nil
	}
}

// Route resolved swap path.
type Route struct {
	Path        []domain.ChainAssetRef
	Out         domain.Asset
	ExpectedOut decimal.Decimal
	MinReceived decimal.Decimal
	// DestinationChain chain receiving the output, empty for same-chain swaps.
	DestinationChain string
}

func (r *Route) crossChain(from domain.Asset) bool {
	return r.DestinationChain != "" && r.DestinationChain != from.Ref.ChainID
}

// Swap exchanges the asset along a resolved route, optionally delivering the output to another chain.
type Swap struct {
	// Route nil until quoted.
	Route *Route
}

func (Swap) isFlow() {}

func (Swap) Kind() domain.FlowKind { return domain.FlowSwap }

func (Swap) Staking() bool { return false }

func (f Swap) ReuseKey(in Inputs) string {
	if f.Route == nil {
		return reuseKey(domain.FlowSwap, in)
	}

	path := make([]string, 0, len(f.Route.Path))
	for _, ref := range f.Route.Path {
		path = append(path, ref.String())
	}
	return reuseKey(domain.FlowSwap, in, strings.Join(path, ","), f.Route.MinReceived.String(), f.Route.DestinationChain)
}

func (f Swap) Validators() []validation.Validator {
	if f.Route == nil {
		return nil
	}
	return []validation.Validator{
		validation.SwapMinReceived(f.Route.ExpectedOut, f.Route.MinReceived, f.Route.Out.Symbol),
	}
}

func (f Swap) Builder(in Inputs) domain.CallBuilder {
	if f.Route == nil {
		return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
			return b, domain.ErrDependencyNotReady
		}
	}

	route := *f.Route
	route.Path = append([]domain.ChainAssetRef(nil), f.Route.Path...)
	amountIn := in.Asset.ToPlanks(in.Amount)
	minOut := route.Out.ToPlanks(route.MinReceived)
	beneficiary := in.Target
	if beneficiary == "" {
		beneficiary = in.Account
	}
	crossChain := route.crossChain(in.Asset)

	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		sendTo := beneficiary
		if crossChain {
			sendTo = in.Account
		}

		b = b.AddCall(domain.Call{
			Module:   domain.ModuleAssetConversion,
			Function: domain.FunctionSwapExactIn,
			Args: map[string]any{
				domain.ArgPath:      append([]domain.ChainAssetRef(nil), route.Path...),
				domain.ArgValue:     planks(amountIn),
				domain.ArgAmountOut: planks(minOut),
				domain.ArgDest:      sendTo,
				domain.ArgKeepAlive: true,
			},
		})
		if !crossChain {
			return b, nil
		}

		return b.AddCall(domain.Call{
			Module:   domain.ModuleXcm,
			Function: domain.FunctionReserveTransfer,
			Args: map[string]any{
				domain.ArgDestChain:   route.DestinationChain,
				domain.ArgBeneficiary: beneficiary,
				domain.ArgAsset:       route.Out.Ref,
				domain.ArgValue:       planks(minOut),
			},
		}), nil
	}
}
