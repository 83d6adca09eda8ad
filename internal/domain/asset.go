// Package domain defines core data structures shared by the confirmation pipeline.
package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ChainAssetRef identifies an asset on a network.
type ChainAssetRef struct {
	// ChainID network identifier (genesis hash or EVM chain id).
	ChainID string
	// AssetID asset index inside the network, 0 is the utility asset.
	AssetID uint32
}

// String returns the string representation.
func (r ChainAssetRef) String() string {
	return fmt.Sprintf("%s:%d", r.ChainID, r.AssetID)
}

// IsZero reports whether the ref is unset.
func (r ChainAssetRef) IsZero() bool {
	return r.ChainID == "" && r.AssetID == 0
}

// ParseChainAssetRef parses the "chain:asset" form produced by String.
func ParseChainAssetRef(s string) (ChainAssetRef, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return ChainAssetRef{}, fmt.Errorf("invalid chain asset ref %q", s)
	}
	assetID, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return ChainAssetRef{}, fmt.Errorf("invalid asset id in %q: %w", s, err)
	}

	return ChainAssetRef{ChainID: s[:idx], AssetID: uint32(assetID)}, nil
}

// AssetKind selects how balances and the existential deposit are accounted for an asset.
type AssetKind string

const (
	// AssetKindNative chain utility asset, pays fees.
	AssetKindNative AssetKind = "native"
	// AssetKindOrml secondary token kept by an orml-tokens style pallet, fees are paid in the utility asset.
	AssetKindOrml AssetKind = "orml"
	// AssetKindEquilibrium asset of an equilibrium-style chain where all assets share one aggregated account balance.
	AssetKindEquilibrium AssetKind = "equilibrium"
)

// String returns the string representation.
func (k AssetKind) String() string {
	return string(k)
}

// IsValid checks if the AssetKind value is valid.
func (k AssetKind) IsValid() bool {
	return k == AssetKindNative || k == AssetKindOrml || k == AssetKindEquilibrium
}

// Asset describes a chain asset.
type Asset struct {
	Ref       ChainAssetRef
	Symbol    string
	Precision int32
	Kind      AssetKind
	// ContractAddress token contract for EVM tokens, empty for native assets.
	ContractAddress string
	// PriceID identifier used by the price source, empty if the asset has no price.
	PriceID string
}

// IsUtility reports whether fees are paid in this asset.
func (a Asset) IsUtility() bool {
	return a.Kind == AssetKindNative
}

// ToPlanks converts a decimal amount into the smallest indivisible units.
func (a Asset) ToPlanks(amount decimal.Decimal) *big.Int {
	return amount.Shift(a.Precision).Truncate(0).BigInt()
}

// FromPlanks converts smallest units into a decimal amount.
func (a Asset) FromPlanks(planks *big.Int) decimal.Decimal {
	if planks == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(planks, -a.Precision)
}
