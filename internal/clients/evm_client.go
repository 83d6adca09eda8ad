package clients

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

// ERC20 ABI subset used for transfers and balances.
const erc20ABI = `[
{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}
]`

var (
	parsedERC20ABI  abi.ABI
	parsedERC20Err  error
	parsedERC20Once sync.Once
)

func erc20() (abi.ABI, error) {
	parsedERC20Once.Do(func() {
		parsedERC20ABI, parsedERC20Err = abi.JSON(strings.NewReader(erc20ABI))
	})
	return parsedERC20ABI, parsedERC20Err
}

// EVMBackend subset of the node API used by the client, implemented by *ethclient.Client.
type EVMBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMConfig network served by an EVMClient.
type EVMConfig struct {
	RPCURL string
	// Utility native coin of the network, pays gas.
	Utility domain.Asset
	// Tokens ERC-20 tokens, each with ContractAddress set.
	Tokens []domain.Asset
	// RateLimit RPC calls per second, zero disables limiting.
	RateLimit  float64
	BurstLimit int
	// CallTimeout bounds every RPC call.
	CallTimeout time.Duration
}

// EVMClient encodes, dry-runs and broadcasts transactions on an EVM network and reads balances.
// Each transaction carries exactly one call; tips are not supported.
type EVMClient struct {
	backend EVMBackend
	logger  *zap.Logger
	limiter *rate.Limiter
	utility domain.Asset
	tokens  map[domain.ChainAssetRef]domain.Asset
	timeout time.Duration
}

// DialEVM connects to the node and creates a client.
func DialEVM(ctx context.Context, l *zap.Logger, cfg EVMConfig) (*EVMClient, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.RPCURL)
	}

	return NewEVMClient(l, backend, cfg)
}

// NewEVMClient creates a client over an existing backend.
func NewEVMClient(l *zap.Logger, backend EVMBackend, cfg EVMConfig) (*EVMClient, error) {
	if _, err := erc20(); err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}
	if !cfg.Utility.IsUtility() {
		return nil, fmt.Errorf("utility asset %s must be native", cfg.Utility.Symbol)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tokens := make(map[domain.ChainAssetRef]domain.Asset, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t.ContractAddress) {
			return nil, fmt.Errorf("token %s has invalid contract address %q", t.Symbol, t.ContractAddress)
		}
		tokens[t.Ref] = t
	}

	return &EVMClient{
		backend: backend,
		logger:  l.With(zap.String("component", "evm_client"), zap.String("chain", cfg.Utility.Ref.ChainID)),
		limiter: rate.NewLimiter(limit, burst),
		utility: cfg.Utility,
		tokens:  tokens,
		timeout: timeout,
	}, nil
}

func (c *EVMClient) rpc(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "rate limit")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return callCtx, cancel, nil
}

// Encode builds the unsigned transaction: nonce, gas price and gas limit are read from the node.
func (c *EVMClient) Encode(ctx context.Context, ext domain.Extrinsic) ([]byte, error) {
	if ext.Chain != c.utility.Ref.ChainID {
		return nil, fmt.Errorf("extrinsic for chain %s sent to %s", ext.Chain, c.utility.Ref.ChainID)
	}
	if len(ext.Calls) != 1 {
		return nil, fmt.Errorf("evm transactions carry exactly one call, got %d", len(ext.Calls))
	}
	if !common.IsHexAddress(ext.Account) {
		return nil, fmt.Errorf("invalid account %q", ext.Account)
	}
	from := common.HexToAddress(ext.Account)

	to, value, data, err := c.callData(ext.Calls[0])
	if err != nil {
		return nil, err
	}

	nonce, err := c.pendingNonce(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gas, err := c.estimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "marshal transaction")
	}

	return payload, nil
}

func (c *EVMClient) callData(call domain.Call) (common.Address, *big.Int, []byte, error) {
	dest, _ := call.Args[domain.ArgDest].(string)
	if !common.IsHexAddress(dest) {
		return common.Address{}, nil, nil, fmt.Errorf("invalid destination %q", dest)
	}
	value, err := argPlanks(call, domain.ArgValue)
	if err != nil {
		return common.Address{}, nil, nil, err
	}

	switch {
	case call.Module == domain.ModuleBalances &&
		(call.Function == domain.FunctionTransferKeepAlive || call.Function == domain.FunctionTransfer):
		return common.HexToAddress(dest), new(big.Int).Set(value), nil, nil

	case call.Module == domain.ModuleAssets && call.Function == domain.FunctionTransfer:
		contract, _ := call.Args[domain.ArgContract].(string)
		if !common.IsHexAddress(contract) {
			return common.Address{}, nil, nil, fmt.Errorf("invalid contract %q", contract)
		}
		parsed, _ := erc20()
		data, err := parsed.Pack("transfer", common.HexToAddress(dest), value)
		if err != nil {
			return common.Address{}, nil, nil, errors.Wrap(err, "pack transfer")
		}
		return common.HexToAddress(contract), big.NewInt(0), data, nil
	}

	return common.Address{}, nil, nil, fmt.Errorf("call %s.%s is not supported on evm networks", call.Module, call.Function)
}

func (c *EVMClient) pendingNonce(ctx context.Context, from common.Address) (uint64, error) {
	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	return nonce, errors.Wrap(err, "pending nonce")
}

func (c *EVMClient) gasPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	price, err := c.backend.SuggestGasPrice(callCtx)
	return price, errors.Wrap(err, "suggest gas price")
}

func (c *EVMClient) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()

	gas, err := c.backend.EstimateGas(callCtx, msg)
	return gas, errors.Wrap(err, "estimate gas")
}

// DryRunFee returns gas limit times gas price of the encoded transaction in the utility asset.
func (c *EVMClient) DryRunFee(ctx context.Context, payload []byte) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode transaction")
	}

	wei := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())

	return c.utility.FromPlanks(wei), nil
}

// Broadcast sends the signed transaction and returns its hash.
func (c *EVMClient) Broadcast(ctx context.Context, signed []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return "", errors.Wrap(err, "decode signed transaction")
	}

	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := c.backend.SendTransaction(callCtx, tx); err != nil {
		return "", errors.Wrap(err, "send transaction")
	}

	hash := tx.Hash().Hex()
	c.logger.Info("transaction sent", zap.String("hash", hash), zap.Uint64("nonce", tx.Nonce()))

	return hash, nil
}

// Balance reads the native or ERC-20 balance of the account.
func (c *EVMClient) Balance(ctx context.Context, ref domain.ChainAssetRef, account string) (domain.AccountSnapshot, error) {
	if !common.IsHexAddress(account) {
		return domain.AccountSnapshot{}, fmt.Errorf("invalid account %q", account)
	}
	owner := common.HexToAddress(account)

	var (
		asset   domain.Asset
		balance *big.Int
		err     error
	)
	if ref == c.utility.Ref {
		asset = c.utility
		balance, err = c.nativeBalance(ctx, owner)
	} else {
		token, ok := c.tokens[ref]
		if !ok {
			return domain.AccountSnapshot{}, fmt.Errorf("unknown asset %s", ref.String())
		}
		asset = token
		balance, err = c.tokenBalance(ctx, token, owner)
	}
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	amount := asset.FromPlanks(balance)

	return domain.AccountSnapshot{
		Ref:       ref,
		Account:   account,
		Spendable: amount,
		Total:     amount,
		UpdatedAt: time.Now(),
	}, nil
}

func (c *EVMClient) nativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	balance, err := c.backend.BalanceAt(callCtx, owner, nil)
	return balance, errors.Wrap(err, "balance")
}

func (c *EVMClient) tokenBalance(ctx context.Context, token domain.Asset, owner common.Address) (*big.Int, error) {
	parsed, _ := erc20()
	data, err := parsed.Pack("balanceOf", owner)
	if err != nil {
		return nil, errors.Wrap(err, "pack balanceOf")
	}

	callCtx, cancel, err := c.rpc(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	contract := common.HexToAddress(token.ContractAddress)
	out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "balanceOf %s", token.Symbol)
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}

	unpacked, err := parsed.Unpack("balanceOf", out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack balanceOf %s", token.Symbol)
	}
	if len(unpacked) == 0 {
		return nil, fmt.Errorf("balanceOf %s returned no data", token.Symbol)
	}
	balance, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s returned %T", token.Symbol, unpacked[0])
	}

	return balance, nil
}

// ExistentialDeposit is zero, EVM accounts are never reaped.
func (c *EVMClient) ExistentialDeposit(ctx context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error) {
	if ref != c.utility.Ref {
		if _, ok := c.tokens[ref]; !ok {
			return decimal.Zero, fmt.Errorf("unknown asset %s", ref.String())
		}
	}
	return decimal.Zero, nil
}
