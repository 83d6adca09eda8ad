package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const simulatePayloadTTL = 10 * time.Minute

// ErrInsufficientBalance the simulated account cannot pay for the transaction.
var ErrInsufficientBalance = errors.New("insufficient balance")

type walletKey struct {
	account string
	ref     domain.ChainAssetRef
}

type simulatePayload struct {
	Nonce   uint64        `json:"nonce"`
	Chain   string        `json:"chain"`
	Account string        `json:"account"`
	Calls   []domain.Call `json:"calls"`
	Tip     string        `json:"tip"`
}

type simulateSigned struct {
	Payload   []byte `json:"payload"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// SimulateChain in-memory chain with deterministic fees.
// It encodes, dry-runs and applies transactions against a local wallet.
type SimulateChain struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	assets   map[domain.ChainAssetRef]domain.Asset
	utility  map[string]domain.Asset
	deposits map[domain.ChainAssetRef]decimal.Decimal
	wallet   map[walletKey]decimal.Decimal
	bonded   map[walletKey]decimal.Decimal
	// payloads encoded but not yet broadcast, keyed by digest.
	payloads *cache.Cache
	nonce    uint64
	baseFee  decimal.Decimal
	callFee  decimal.Decimal
	latency  time.Duration
}

// SimulateOption configures the simulated chain.
type SimulateOption func(*SimulateChain)

// WithSimulateFees sets the flat fee and the fee per call, both in the utility asset.
func WithSimulateFees(base, perCall decimal.Decimal) SimulateOption {
	return func(c *SimulateChain) {
		c.baseFee = base
		c.callFee = perCall
	}
}

// WithSimulateLatency delays every dry run and broadcast.
func WithSimulateLatency(d time.Duration) SimulateOption {
	return func(c *SimulateChain) {
		c.latency = d
	}
}

// NewSimulateChain creates a simulated chain holding the given assets.
// Every chain must have exactly one native asset, it pays the fees.
func NewSimulateChain(logger *zap.Logger, assets []domain.Asset, deposits map[domain.ChainAssetRef]decimal.Decimal, opts ...SimulateOption) (*SimulateChain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &SimulateChain{
		logger:   logger.With(zap.String("component", "simulate_chain")),
		assets:   make(map[domain.ChainAssetRef]domain.Asset, len(assets)),
		utility:  make(map[string]domain.Asset),
		deposits: make(map[domain.ChainAssetRef]decimal.Decimal, len(deposits)),
		wallet:   make(map[walletKey]decimal.Decimal),
		bonded:   make(map[walletKey]decimal.Decimal),
		payloads: cache.New(simulatePayloadTTL, 2*simulatePayloadTTL),
		baseFee:  decimal.RequireFromString("0.01"),
		callFee:  decimal.RequireFromString("0.002"),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, a := range assets {
		c.assets[a.Ref] = a
		if a.IsUtility() {
			if prev, ok := c.utility[a.Ref.ChainID]; ok {
				return nil, fmt.Errorf("chain %s has two native assets: %s and %s", a.Ref.ChainID, prev.Symbol, a.Symbol)
			}
			c.utility[a.Ref.ChainID] = a
		}
	}
	for _, a := range assets {
		if _, ok := c.utility[a.Ref.ChainID]; !ok {
			return nil, fmt.Errorf("chain %s has no native asset", a.Ref.ChainID)
		}
	}
	for ref, d := range deposits {
		c.deposits[ref] = d
	}

	return c, nil
}

// Fund credits the account, used to seed the simulation.
func (c *SimulateChain) Fund(account string, ref domain.ChainAssetRef, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := walletKey{account: account, ref: ref}
	c.wallet[k] = c.wallet[k].Add(amount)
	c.logger.Info("simulate fund",
		zap.String("account", account),
		zap.String("asset", ref.String()),
		zap.String("amount", amount.String()))
}

// Balance returns the account snapshot for the asset.
func (c *SimulateChain) Balance(ctx context.Context, ref domain.ChainAssetRef, account string) (domain.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccountSnapshot{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	asset, ok := c.assets[ref]
	if !ok {
		return domain.AccountSnapshot{}, fmt.Errorf("unknown asset %s", ref.String())
	}

	k := walletKey{account: account, ref: ref}
	free := c.wallet[k]
	total := free.Add(c.bonded[k])
	snapshot := domain.AccountSnapshot{
		Ref:       ref,
		Account:   account,
		Spendable: free,
		Total:     total,
		UpdatedAt: time.Now(),
	}
	if asset.IsUtility() {
		snapshot.StakingAvailable = free
	}
	if asset.Kind == domain.AssetKindEquilibrium {
		snapshot.Aggregated = total
	}

	return snapshot, nil
}

// ExistentialDeposit returns the configured deposit, zero when not configured.
func (c *SimulateChain) ExistentialDeposit(ctx context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.assets[ref]; !ok {
		return decimal.Zero, fmt.Errorf("unknown asset %s", ref.String())
	}

	return c.deposits[ref], nil
}

// Encode serializes the extrinsic and remembers it until broadcast.
func (c *SimulateChain) Encode(ctx context.Context, ext domain.Extrinsic) ([]byte, error) {
	c.mu.Lock()
	c.nonce++
	nonce := c.nonce
	_, known := c.utility[ext.Chain]
	c.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("unknown chain %s", ext.Chain)
	}

	payload, err := json.Marshal(simulatePayload{
		Nonce:   nonce,
		Chain:   ext.Chain,
		Account: ext.Account,
		Calls:   ext.Calls,
		Tip:     ext.Tip.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode extrinsic")
	}

	c.payloads.Set(digest(payload), ext, cache.DefaultExpiration)

	return payload, nil
}

// DryRunFee returns the fee the simulated chain charges for the payload.
func (c *SimulateChain) DryRunFee(ctx context.Context, payload []byte) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	ext, err := c.lookup(payload)
	if err != nil {
		return decimal.Zero, err
	}

	return c.fee(ext), nil
}

// Broadcast verifies the signature and applies the transaction to the wallet.
func (c *SimulateChain) Broadcast(ctx context.Context, signed []byte) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var env simulateSigned
	if err := json.Unmarshal(signed, &env); err != nil {
		return "", errors.Wrap(err, "decode signed transaction")
	}
	if env.Signature != signature(env.Signer, env.Payload) {
		return "", errors.New("bad signature")
	}

	ext, err := c.lookup(env.Payload)
	if err != nil {
		return "", err
	}
	if ext.Account != env.Signer {
		return "", fmt.Errorf("transaction of %s signed by %s", ext.Account, env.Signer)
	}

	if err := c.apply(ext); err != nil {
		return "", err
	}
	c.payloads.Delete(digest(env.Payload))

	hash := "0x" + digest(signed)
	c.logger.Info("simulate broadcast",
		zap.String("hash", hash),
		zap.String("account", ext.Account),
		zap.Int("calls", len(ext.Calls)),
		zap.String("fee", c.fee(ext).String()))

	return hash, nil
}

func (c *SimulateChain) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *SimulateChain) lookup(payload []byte) (domain.Extrinsic, error) {
	v, ok := c.payloads.Get(digest(payload))
	if !ok {
		return domain.Extrinsic{}, errors.New("unknown or expired payload")
	}

	return v.(domain.Extrinsic), nil
}

func (c *SimulateChain) fee(ext domain.Extrinsic) decimal.Decimal {
	return c.baseFee.Add(c.callFee.Mul(decimal.NewFromInt(int64(len(ext.Calls)))))
}

// apply debits and credits every call atomically: either all calls succeed or the wallet is untouched.
func (c *SimulateChain) apply(ext domain.Extrinsic) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	utility := c.utility[ext.Chain]
	wallet := make(map[walletKey]decimal.Decimal, len(c.wallet))
	for k, v := range c.wallet {
		wallet[k] = v
	}
	bonded := make(map[walletKey]decimal.Decimal, len(c.bonded))
	for k, v := range c.bonded {
		bonded[k] = v
	}

	debit := func(account string, ref domain.ChainAssetRef, amount decimal.Decimal) error {
		k := walletKey{account: account, ref: ref}
		if wallet[k].LessThan(amount) {
			return errors.Wrapf(ErrInsufficientBalance, "%s on %s", account, ref.String())
		}
		wallet[k] = wallet[k].Sub(amount)
		return nil
	}
	credit := func(account string, ref domain.ChainAssetRef, amount decimal.Decimal) {
		k := walletKey{account: account, ref: ref}
		wallet[k] = wallet[k].Add(amount)
	}

	if err := debit(ext.Account, utility.Ref, c.fee(ext).Add(ext.Tip)); err != nil {
		return errors.Wrap(err, "pay fee")
	}

	for _, call := range ext.Calls {
		if err := c.applyCall(ext, utility, call, debit, credit, bonded); err != nil {
			return errors.Wrapf(err, "%s.%s", call.Module, call.Function)
		}
	}

	c.wallet = wallet
	c.bonded = bonded

	return nil
}

func (c *SimulateChain) applyCall(
	ext domain.Extrinsic,
	utility domain.Asset,
	call domain.Call,
	debit func(string, domain.ChainAssetRef, decimal.Decimal) error,
	credit func(string, domain.ChainAssetRef, decimal.Decimal),
	bonded map[walletKey]decimal.Decimal,
) error {
	switch call.Module {
	case domain.ModuleBalances, domain.ModuleTokens, domain.ModuleEqBalances, domain.ModuleAssets:
		asset, err := c.callAsset(ext.Chain, utility, call)
		if err != nil {
			return err
		}
		dest, _ := call.Args[domain.ArgDest].(string)
		if dest == "" {
			return errors.New("missing destination")
		}
		value, err := argPlanks(call, domain.ArgValue)
		if err != nil {
			return err
		}
		amount := asset.FromPlanks(value)
		if err := debit(ext.Account, asset.Ref, amount); err != nil {
			return err
		}
		credit(dest, asset.Ref, amount)

	case domain.ModuleStaking:
		if call.Function == domain.FunctionNominate {
			return nil
		}
		value, err := argPlanks(call, domain.ArgValue)
		if err != nil {
			return err
		}
		amount := utility.FromPlanks(value)
		if err := debit(ext.Account, utility.Ref, amount); err != nil {
			return err
		}
		k := walletKey{account: ext.Account, ref: utility.Ref}
		bonded[k] = bonded[k].Add(amount)

	case domain.ModuleNominationPools:
		if call.Function == domain.FunctionSetMetadata {
			return nil
		}
		value, err := argPlanks(call, domain.ArgValue)
		if err != nil {
			return err
		}
		return debit(ext.Account, utility.Ref, utility.FromPlanks(value))

	case domain.ModuleAssetConversion:
		path, ok := call.Args[domain.ArgPath].([]domain.ChainAssetRef)
		if !ok || len(path) < 2 {
			return errors.New("invalid swap path")
		}
		in, ok := c.assets[path[0]]
		if !ok {
			return fmt.Errorf("unknown asset %s", path[0].String())
		}
		out, ok := c.assets[path[len(path)-1]]
		if !ok {
			return fmt.Errorf("unknown asset %s", path[len(path)-1].String())
		}
		amountIn, err := argPlanks(call, domain.ArgValue)
		if err != nil {
			return err
		}
		minOut, err := argPlanks(call, domain.ArgAmountOut)
		if err != nil {
			return err
		}
		if err := debit(ext.Account, in.Ref, in.FromPlanks(amountIn)); err != nil {
			return err
		}
		dest, _ := call.Args[domain.ArgDest].(string)
		if dest == "" {
			dest = ext.Account
		}
		credit(dest, out.Ref, out.FromPlanks(minOut))

	case domain.ModuleXcm:
		ref, ok := call.Args[domain.ArgAsset].(domain.ChainAssetRef)
		if !ok {
			return errors.New("missing asset")
		}
		asset, ok := c.assets[ref]
		if !ok {
			return fmt.Errorf("unknown asset %s", ref.String())
		}
		value, err := argPlanks(call, domain.ArgValue)
		if err != nil {
			return err
		}
		// the destination chain is outside the simulation, the funds just leave the account
		return debit(ext.Account, asset.Ref, asset.FromPlanks(value))

	default:
		return errors.New("unsupported call")
	}

	return nil
}

func (c *SimulateChain) callAsset(chain string, utility domain.Asset, call domain.Call) (domain.Asset, error) {
	switch call.Module {
	case domain.ModuleBalances:
		return utility, nil
	case domain.ModuleAssets:
		contract, _ := call.Args[domain.ArgContract].(string)
		for _, a := range c.assets {
			if a.Ref.ChainID == chain && a.ContractAddress != "" && a.ContractAddress == contract {
				return a, nil
			}
		}
		return domain.Asset{}, fmt.Errorf("unknown contract %q", contract)
	}

	key := domain.ArgCurrencyID
	if call.Module == domain.ModuleEqBalances {
		key = domain.ArgAsset
	}
	id, ok := call.Args[key].(uint32)
	if !ok {
		return domain.Asset{}, fmt.Errorf("missing %s", key)
	}
	a, ok := c.assets[domain.ChainAssetRef{ChainID: chain, AssetID: id}]
	if !ok {
		return domain.Asset{}, fmt.Errorf("unknown asset %s:%d", chain, id)
	}

	return a, nil
}

func argPlanks(call domain.Call, key string) (*big.Int, error) {
	v, ok := call.Args[key].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("missing %s", key)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative %s", key)
	}

	return v, nil
}

// SimulateSigner signs simulated payloads on behalf of one account.
type SimulateSigner struct {
	account string
	// Approve asks the user to sign, nil approves everything.
	Approve func(ctx context.Context, payload []byte) error
}

// NewSimulateSigner creates a signer for the account.
func NewSimulateSigner(account string) *SimulateSigner {
	return &SimulateSigner{account: account}
}

// Address returns the signing account.
func (s *SimulateSigner) Address() string {
	return s.account
}

// Sign wraps the payload with the account signature.
func (s *SimulateSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if s.Approve != nil {
		if err := s.Approve(ctx, payload); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return json.Marshal(simulateSigned{
		Payload:   payload,
		Signer:    s.account,
		Signature: signature(s.account, payload),
	})
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func signature(account string, payload []byte) string {
	return digest(append([]byte(account+"|"), payload...))
}
