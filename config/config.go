package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

const (
	defaultDebounce        = 300 * time.Millisecond
	defaultEstimateTimeout = 15 * time.Second
	defaultPollInterval    = 6 * time.Second
	defaultConstantsTTL    = 10 * time.Minute
	defaultJournalDir      = "./wal/submissions"
	defaultListen          = ":8080"
	defaultCurrency        = "usd"
	defaultLogLevel        = "info"
	defaultPrivateKeyEnv   = "TXCONFIRM_PRIVATE_KEY"

	PriceSourceStatic      = "static"
	PriceSourceDEXScreener = "dexscreener"
)

// Network RPC endpoint of an EVM network. Simulated chains need no network entry.
type Network struct {
	ChainID     string
	RPCURL      string
	RateLimit   float64
	BurstLimit  int
	CallTimeout time.Duration
}

// AssetConfig asset with its chain constants and simulation seed values.
type AssetConfig struct {
	Asset              domain.Asset
	ExistentialDeposit decimal.Decimal
	// Price static price, used when the price source is static.
	Price decimal.NullDecimal
	// Fund initial balance of the account in simulation.
	Fund decimal.Decimal
}

// SwapRoute pre-resolved swap route.
type SwapRoute struct {
	Path             []domain.ChainAssetRef
	Out              domain.ChainAssetRef
	ExpectedOut      decimal.Decimal
	MinReceived      decimal.Decimal
	DestinationChain string
}

// FlowConfig parameters of the selected flow.
type FlowConfig struct {
	Kind          domain.FlowKind
	Payee         string
	Targets       []string
	MinBond       decimal.Decimal
	Stash         string
	PoolName      string
	NextPoolID    *uint32
	MinCreateBond decimal.Decimal
	Route         *SwapRoute
}

type Config struct {
	LogLevel   string
	Simulate   bool
	// Headless serves the web surface only, without the terminal screen.
	Headless   bool
	Account    string
	PrivateKey string
	Currency   string

	Networks []Network
	Assets   []AssetConfig

	// Asset spent by the confirmation screen.
	Asset domain.ChainAssetRef
	Flow  FlowConfig

	Debounce        time.Duration
	EstimateTimeout time.Duration
	PollInterval    time.Duration
	ConstantsTTL    time.Duration
	JournalDir      string

	PriceSource  string
	PriceURL     string
	PriceTimeout time.Duration

	Listen string
}

type NetworkTmp struct {
	ChainID     string        `yaml:"chain_id"`
	RPCURL      string        `yaml:"rpc_url"`
	RateLimit   float64       `yaml:"rate_limit,omitempty"`
	BurstLimit  int           `yaml:"burst_limit,omitempty"`
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
}

type AssetTmp struct {
	Ref                   string `yaml:"ref"`
	Symbol                string `yaml:"symbol"`
	Precision             int32  `yaml:"precision"`
	Kind                  string `yaml:"kind"`
	Contract              string `yaml:"contract,omitempty"`
	PriceID               string `yaml:"price_id,omitempty"`
	ExistentialDepositStr string `yaml:"existential_deposit,omitempty"`
	PriceStr              string `yaml:"price,omitempty"`
	FundStr               string `yaml:"fund,omitempty"`
}

type RouteTmp struct {
	Path             []string `yaml:"path"`
	ExpectedOutStr   string   `yaml:"expected_out"`
	MinReceivedStr   string   `yaml:"min_received"`
	DestinationChain string   `yaml:"destination_chain,omitempty"`
}

type FlowTmp struct {
	Kind             string    `yaml:"kind"`
	Payee            string    `yaml:"payee,omitempty"`
	Targets          []string  `yaml:"targets,omitempty"`
	MinBondStr       string    `yaml:"min_bond,omitempty"`
	Stash            string    `yaml:"stash,omitempty"`
	PoolName         string    `yaml:"pool_name,omitempty"`
	NextPoolIDStr    string    `yaml:"next_pool_id,omitempty"`
	MinCreateBondStr string    `yaml:"min_create_bond,omitempty"`
	Route            *RouteTmp `yaml:"route,omitempty"`
}

type ConfirmationTmp struct {
	Asset           string        `yaml:"asset"`
	Flow            FlowTmp       `yaml:"flow"`
	Debounce        time.Duration `yaml:"debounce,omitempty"`
	EstimateTimeout time.Duration `yaml:"estimate_timeout,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	ConstantsTTL    time.Duration `yaml:"constants_ttl,omitempty"`
	JournalDir      string        `yaml:"journal_dir,omitempty"`
}

type PricesTmp struct {
	Source  string        `yaml:"source,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type ConfigTmp struct {
	LogLevel      string          `yaml:"log_level,omitempty"`
	Simulate      bool            `yaml:"simulate"`
	Account       string          `yaml:"account"`
	PrivateKeyEnv string          `yaml:"private_key_env,omitempty"`
	Currency      string          `yaml:"currency,omitempty"`
	Networks      []NetworkTmp    `yaml:"networks,omitempty"`
	Assets        []AssetTmp      `yaml:"assets"`
	Confirmation  ConfirmationTmp `yaml:"confirmation"`
	Prices        PricesTmp       `yaml:"prices,omitempty"`
	Listen        string          `yaml:"listen,omitempty"`
}

// Get reads the config file named by the --config flag.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	simulate := flag.Bool("simulate", false, "run against an in-memory chain")
	headless := flag.Bool("headless", false, "serve the web surface only")
	flag.Parse()

	cfg, err := Load(*path)
	if err != nil {
		return Config{}, err
	}
	if *simulate {
		cfg.Simulate = true
	}
	cfg.Headless = *headless

	return cfg, cfg.Validate()
}

// Load reads and parses a yaml config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	return Parse(f)
}

// Parse parses yaml config contents and applies defaults.
func Parse(data []byte) (Config, error) {
	var c ConfigTmp
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel:        withDefault(c.LogLevel, defaultLogLevel),
		Simulate:        c.Simulate,
		Account:         c.Account,
		Currency:        withDefault(c.Currency, defaultCurrency),
		Debounce:        durationOr(c.Confirmation.Debounce, defaultDebounce),
		EstimateTimeout: durationOr(c.Confirmation.EstimateTimeout, defaultEstimateTimeout),
		PollInterval:    durationOr(c.Confirmation.PollInterval, defaultPollInterval),
		ConstantsTTL:    durationOr(c.Confirmation.ConstantsTTL, defaultConstantsTTL),
		JournalDir:      withDefault(c.Confirmation.JournalDir, defaultJournalDir),
		PriceSource:     withDefault(c.Prices.Source, PriceSourceStatic),
		PriceURL:        c.Prices.BaseURL,
		PriceTimeout:    c.Prices.Timeout,
		Listen:          withDefault(c.Listen, defaultListen),
	}
	cfg.PrivateKey = os.Getenv(withDefault(c.PrivateKeyEnv, defaultPrivateKeyEnv))

	for _, n := range c.Networks {
		cfg.Networks = append(cfg.Networks, Network{
			ChainID:     n.ChainID,
			RPCURL:      n.RPCURL,
			RateLimit:   n.RateLimit,
			BurstLimit:  n.BurstLimit,
			CallTimeout: n.CallTimeout,
		})
	}

	for _, a := range c.Assets {
		asset, err := parseAsset(a)
		if err != nil {
			return Config{}, err
		}
		cfg.Assets = append(cfg.Assets, asset)
	}

	ref, err := domain.ParseChainAssetRef(c.Confirmation.Asset)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'confirmation.asset' param in yaml config: %w", err)
	}
	cfg.Asset = ref

	flowCfg, err := parseFlow(c.Confirmation.Flow)
	if err != nil {
		return Config{}, err
	}
	cfg.Flow = flowCfg

	return cfg, nil
}

func parseAsset(a AssetTmp) (AssetConfig, error) {
	ref, err := domain.ParseChainAssetRef(a.Ref)
	if err != nil {
		return AssetConfig{}, fmt.Errorf("incorrect 'ref' param in yaml config: %w", err)
	}
	kind := domain.AssetKind(withDefault(a.Kind, string(domain.AssetKindNative)))
	if !kind.IsValid() {
		return AssetConfig{}, fmt.Errorf("incorrect 'kind' param for asset %s: %q", a.Symbol, a.Kind)
	}

	ed, err := decimalOr(a.ExistentialDepositStr, decimal.Zero, "existential_deposit")
	if err != nil {
		return AssetConfig{}, err
	}
	fund, err := decimalOr(a.FundStr, decimal.Zero, "fund")
	if err != nil {
		return AssetConfig{}, err
	}

	var price decimal.NullDecimal
	if a.PriceStr != "" {
		p, err := decimal.NewFromString(a.PriceStr)
		if err != nil {
			return AssetConfig{}, fmt.Errorf("incorrect 'price' param for asset %s (must be a decimal), error: %w", a.Symbol, err)
		}
		price = decimal.NewNullDecimal(p)
	}

	return AssetConfig{
		Asset: domain.Asset{
			Ref:             ref,
			Symbol:          a.Symbol,
			Precision:       a.Precision,
			Kind:            kind,
			ContractAddress: a.Contract,
			PriceID:         a.PriceID,
		},
		ExistentialDeposit: ed,
		Price:              price,
		Fund:               fund,
	}, nil
}

func parseFlow(f FlowTmp) (FlowConfig, error) {
	kind := domain.FlowTransfer
	if f.Kind != "" {
		k, ok := domain.ParseFlowKind(f.Kind)
		if !ok {
			return FlowConfig{}, fmt.Errorf("incorrect 'flow.kind' param in yaml config: %q", f.Kind)
		}
		kind = k
	}

	minBond, err := decimalOr(f.MinBondStr, decimal.Zero, "min_bond")
	if err != nil {
		return FlowConfig{}, err
	}
	minCreateBond, err := decimalOr(f.MinCreateBondStr, decimal.Zero, "min_create_bond")
	if err != nil {
		return FlowConfig{}, err
	}

	cfg := FlowConfig{
		Kind:          kind,
		Payee:         f.Payee,
		Targets:       f.Targets,
		MinBond:       minBond,
		Stash:         f.Stash,
		PoolName:      f.PoolName,
		MinCreateBond: minCreateBond,
	}

	if f.NextPoolIDStr != "" {
		id, err := strconv.ParseUint(f.NextPoolIDStr, 10, 32)
		if err != nil {
			return FlowConfig{}, fmt.Errorf("incorrect 'next_pool_id' param in yaml config (must be an unsigned integer), error: %w", err)
		}
		poolID := uint32(id)
		cfg.NextPoolID = &poolID
	}

	if f.Route != nil {
		route, err := parseRoute(*f.Route)
		if err != nil {
			return FlowConfig{}, err
		}
		cfg.Route = route
	}

	return cfg, nil
}

func parseRoute(r RouteTmp) (*SwapRoute, error) {
	if len(r.Path) < 2 {
		return nil, fmt.Errorf("incorrect 'route.path' param in yaml config: at least two assets required")
	}
	route := &SwapRoute{DestinationChain: r.DestinationChain}
	for _, s := range r.Path {
		ref, err := domain.ParseChainAssetRef(s)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'route.path' param in yaml config: %w", err)
		}
		route.Path = append(route.Path, ref)
	}
	route.Out = route.Path[len(route.Path)-1]

	var err error
	if route.ExpectedOut, err = decimalOr(r.ExpectedOutStr, decimal.Zero, "expected_out"); err != nil {
		return nil, err
	}
	if route.MinReceived, err = decimalOr(r.MinReceivedStr, decimal.Zero, "min_received"); err != nil {
		return nil, err
	}

	return route, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Account == "" && (c.Simulate || c.PrivateKey == "") {
		return fmt.Errorf("'account' param is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}

	native := make(map[string]int)
	seen := make(map[domain.ChainAssetRef]struct{})
	for _, a := range c.Assets {
		if _, dup := seen[a.Asset.Ref]; dup {
			return fmt.Errorf("asset %s configured twice", a.Asset.Ref.String())
		}
		seen[a.Asset.Ref] = struct{}{}
		if a.Asset.IsUtility() {
			native[a.Asset.Ref.ChainID]++
		}
	}
	for _, a := range c.Assets {
		if native[a.Asset.Ref.ChainID] != 1 {
			return fmt.Errorf("chain %s must have exactly one native asset", a.Asset.Ref.ChainID)
		}
	}
	if _, ok := c.AssetByRef(c.Asset); !ok {
		return fmt.Errorf("confirmation asset %s is not configured", c.Asset.String())
	}

	if !c.Simulate {
		if c.PrivateKey == "" {
			return fmt.Errorf("private key is required outside simulation")
		}
		if _, ok := c.Network(c.Asset.ChainID); !ok {
			return fmt.Errorf("no network configured for chain %s", c.Asset.ChainID)
		}
	}

	switch c.PriceSource {
	case PriceSourceStatic, PriceSourceDEXScreener:
	default:
		return fmt.Errorf("unknown price source %q", c.PriceSource)
	}

	return nil
}

// AssetByRef returns the configured asset.
func (c Config) AssetByRef(ref domain.ChainAssetRef) (domain.Asset, bool) {
	for _, a := range c.Assets {
		if a.Asset.Ref == ref {
			return a.Asset, true
		}
	}
	return domain.Asset{}, false
}

// Utility returns the native asset of the chain.
func (c Config) Utility(chainID string) (domain.Asset, bool) {
	for _, a := range c.Assets {
		if a.Asset.Ref.ChainID == chainID && a.Asset.IsUtility() {
			return a.Asset, true
		}
	}
	return domain.Asset{}, false
}

// Network returns the RPC settings of the chain.
func (c Config) Network(chainID string) (Network, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return Network{}, false
}

// ChainAssets returns the assets of one chain.
func (c Config) ChainAssets(chainID string) []domain.Asset {
	var assets []domain.Asset
	for _, a := range c.Assets {
		if a.Asset.Ref.ChainID == chainID {
			assets = append(assets, a.Asset)
		}
	}
	return assets
}

// Deposits returns existential deposits of every asset.
func (c Config) Deposits() map[domain.ChainAssetRef]decimal.Decimal {
	deposits := make(map[domain.ChainAssetRef]decimal.Decimal, len(c.Assets))
	for _, a := range c.Assets {
		deposits[a.Asset.Ref] = a.ExistentialDeposit
	}
	return deposits
}

// StaticPrices returns configured static prices.
func (c Config) StaticPrices() map[domain.ChainAssetRef]decimal.Decimal {
	prices := make(map[domain.ChainAssetRef]decimal.Decimal)
	for _, a := range c.Assets {
		if a.Price.Valid {
			prices[a.Asset.Ref] = a.Price.Decimal
		}
	}
	return prices
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func decimalOr(v string, def decimal.Decimal, name string) (decimal.Decimal, error) {
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", name, err)
	}
	return d, nil
}
