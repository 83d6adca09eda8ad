package domain

// Runtime modules and functions composed by confirmation flows.
const (
	ModuleBalances        = "Balances"
	ModuleAssets          = "Assets"
	ModuleTokens          = "Tokens"
	ModuleEqBalances      = "EqBalances"
	ModuleStaking         = "Staking"
	ModuleNominationPools = "NominationPools"
	ModuleAssetConversion = "AssetConversion"
	ModuleXcm             = "XcmPallet"

	FunctionTransferKeepAlive = "transfer_keep_alive"
	FunctionTransfer          = "transfer"
	FunctionBond              = "bond"
	FunctionBondExtra         = "bond_extra"
	FunctionNominate          = "nominate"
	FunctionCreatePool        = "create"
	FunctionSetMetadata       = "set_metadata"
	FunctionSwapExactIn       = "swap_exact_tokens_for_tokens"
	FunctionReserveTransfer   = "limited_reserve_transfer_assets"
)

// Call argument names.
const (
	ArgDest        = "dest"
	ArgValue       = "value"
	ArgContract    = "contract"
	ArgCurrencyID  = "currency_id"
	ArgPayee       = "payee"
	ArgTargets     = "targets"
	ArgRoot        = "root"
	ArgNominator   = "nominator"
	ArgBouncer     = "bouncer"
	ArgPoolID      = "pool_id"
	ArgMetadata    = "metadata"
	ArgPath        = "path"
	ArgAmountOut   = "amount_out_min"
	ArgKeepAlive   = "keep_alive"
	ArgDestChain   = "dest_chain"
	ArgBeneficiary = "beneficiary"
	ArgAsset       = "asset"
)
