package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

// DefaultDEXScreenerURL public DEX Screener API.
const DefaultDEXScreenerURL = "https://api.dexscreener.com"

type dexToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type dexLiquidity struct {
	Usd float64 `json:"usd"`
}

type dexPair struct {
	ChainID   string        `json:"chainId"`
	BaseToken dexToken      `json:"baseToken"`
	PriceUsd  string        `json:"priceUsd"`
	Liquidity *dexLiquidity `json:"liquidity"`
}

type dexPairs struct {
	Pairs []dexPair `json:"pairs"`
}

// DEXScreenerClient USD prices of tokens from DEX Screener.
// Asset.PriceID has the form "<dexscreener chain>/<token address>".
type DEXScreenerClient struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewDEXScreenerClient creates a price client.
func NewDEXScreenerClient(l *zap.Logger, baseURL string, timeout time.Duration) *DEXScreenerClient {
	if baseURL == "" {
		baseURL = DefaultDEXScreenerURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DEXScreenerClient{
		client:  &fasthttp.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  l.With(zap.String("component", "dexscreener")),
	}
}

// Currency of returned prices.
func (c *DEXScreenerClient) Currency() string {
	return "usd"
}

// Price returns the price of the most liquid pair quoting the asset.
// Assets without a PriceID have no price.
func (c *DEXScreenerClient) Price(ctx context.Context, asset domain.Asset) (decimal.NullDecimal, error) {
	if asset.PriceID == "" {
		return decimal.NullDecimal{}, nil
	}
	chain, address, ok := strings.Cut(asset.PriceID, "/")
	if !ok || chain == "" || address == "" {
		return decimal.NullDecimal{}, fmt.Errorf("invalid price id %q", asset.PriceID)
	}

	pairs, err := c.pairs(ctx, chain, address)
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	var (
		best      *dexPair
		liquidity float64
	)
	for i := range pairs {
		p := &pairs[i]
		if !strings.EqualFold(p.BaseToken.Address, address) || p.PriceUsd == "" {
			continue
		}
		l := 0.0
		if p.Liquidity != nil {
			l = p.Liquidity.Usd
		}
		if best == nil || l > liquidity {
			best, liquidity = p, l
		}
	}
	if best == nil {
		c.logger.Warn("no pairs quote the asset", zap.String("asset", asset.Symbol), zap.String("price_id", asset.PriceID))
		return decimal.NullDecimal{}, nil
	}

	price, err := decimal.NewFromString(best.PriceUsd)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrapf(err, "parse price %q", best.PriceUsd)
	}

	return decimal.NewNullDecimal(price), nil
}

func (c *DEXScreenerClient) pairs(ctx context.Context, chain, address string) ([]dexPair, error) {
	requestURL := fmt.Sprintf("%s/tokens/v1/%s/%s", c.baseURL, chain, address)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetContentTypeBytes([]byte("application/json"))

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, errors.Wrapf(err, "request %s", requestURL)
		}
	} else if err := c.client.DoTimeout(req, resp, c.timeout); err != nil {
		return nil, errors.Wrapf(err, "request %s", requestURL)
	}

	body := resp.Body()
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("dexscreener request %s failed with status %d: %s", requestURL, resp.StatusCode(), string(body))
	}

	// the tokens endpoint returns a bare array, older endpoints wrap it
	var wrapped dexPairs
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Pairs != nil {
		return wrapped.Pairs, nil
	}

	var pairs []dexPair
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, errors.Wrap(err, "decode dexscreener response")
	}

	return pairs, nil
}
