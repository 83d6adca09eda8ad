package internal

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/config"
	"github.com/vadiminshakov/txconfirm/internal/clients"
	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/constants"
	"github.com/vadiminshakov/txconfirm/internal/services/fee"
	"github.com/vadiminshakov/txconfirm/internal/services/feeds"
	"github.com/vadiminshakov/txconfirm/internal/services/submission"
)

// chainClient everything the pipeline needs from one network.
type chainClient interface {
	fee.Encoder
	fee.DryRunner
	submission.Broadcaster
	feeds.BalanceReader
	constants.Source
}

type signer interface {
	submission.Signer
	Address() string
}

// approveFunc asks the user to sign, nil approves everything.
type approveFunc func(ctx context.Context, payload []byte) error

// serviceProvider defines a factory interface for creating network-specific services.
type serviceProvider interface {
	Chain() chainClient
	Signer() signer
	Pricer() feeds.Pricer
}

// newServiceProvider creates a provider for the configured mode.
// This is the single point of truth for dispatching to network-specific implementations.
func newServiceProvider(ctx context.Context, l *zap.Logger, cfg config.Config, approve approveFunc) (serviceProvider, error) {
	pricer := newPricer(l, cfg)
	if cfg.Simulate {
		return newSimulateProvider(l, cfg, pricer, approve)
	}
	return newEVMProvider(ctx, l, cfg, pricer, approve)
}

func newPricer(l *zap.Logger, cfg config.Config) feeds.Pricer {
	if cfg.PriceSource == config.PriceSourceDEXScreener {
		return clients.NewDEXScreenerClient(l, cfg.PriceURL, cfg.PriceTimeout)
	}
	return feeds.StaticPricer{Prices: cfg.StaticPrices(), Unit: cfg.Currency}
}

type simulateProvider struct {
	chain  *clients.SimulateChain
	signer *clients.SimulateSigner
	pricer feeds.Pricer
}

func newSimulateProvider(l *zap.Logger, cfg config.Config, pricer feeds.Pricer, approve approveFunc) (*simulateProvider, error) {
	assets := make([]domain.Asset, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, a.Asset)
	}

	chain, err := clients.NewSimulateChain(l, assets, cfg.Deposits())
	if err != nil {
		return nil, err
	}
	for _, a := range cfg.Assets {
		if a.Fund.IsPositive() {
			chain.Fund(cfg.Account, a.Asset.Ref, a.Fund)
		}
	}

	s := clients.NewSimulateSigner(cfg.Account)
	s.Approve = approve

	return &simulateProvider{chain: chain, signer: s, pricer: pricer}, nil
}

func (p *simulateProvider) Chain() chainClient   { return p.chain }
func (p *simulateProvider) Signer() signer       { return p.signer }
func (p *simulateProvider) Pricer() feeds.Pricer { return p.pricer }

type evmProvider struct {
	client *clients.EVMClient
	signer *clients.KeySigner
	pricer feeds.Pricer
}

func newEVMProvider(ctx context.Context, l *zap.Logger, cfg config.Config, pricer feeds.Pricer, approve approveFunc) (*evmProvider, error) {
	chainID := cfg.Asset.ChainID
	network, ok := cfg.Network(chainID)
	if !ok {
		return nil, fmt.Errorf("no network configured for chain %s", chainID)
	}
	numericID, ok := new(big.Int).SetString(chainID, 10)
	if !ok {
		return nil, fmt.Errorf("evm chain id must be numeric, got %q", chainID)
	}
	utility, ok := cfg.Utility(chainID)
	if !ok {
		return nil, fmt.Errorf("no native asset configured for chain %s", chainID)
	}

	var tokens []domain.Asset
	for _, a := range cfg.ChainAssets(chainID) {
		if !a.IsUtility() {
			tokens = append(tokens, a)
		}
	}

	client, err := clients.DialEVM(ctx, l, clients.EVMConfig{
		RPCURL:      network.RPCURL,
		Utility:     utility,
		Tokens:      tokens,
		RateLimit:   network.RateLimit,
		BurstLimit:  network.BurstLimit,
		CallTimeout: network.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	s, err := clients.NewKeySigner(cfg.PrivateKey, numericID)
	if err != nil {
		return nil, err
	}
	if cfg.Account != "" && !strings.EqualFold(cfg.Account, s.Address()) {
		return nil, fmt.Errorf("configured account %s does not match the private key address %s", cfg.Account, s.Address())
	}
	s.Approve = approve

	return &evmProvider{client: client, signer: s, pricer: pricer}, nil
}

func (p *evmProvider) Chain() chainClient   { return p.client }
func (p *evmProvider) Signer() signer       { return p.signer }
func (p *evmProvider) Pricer() feeds.Pricer { return p.pricer }
