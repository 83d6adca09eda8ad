// Package feeds turns pull-based balance and price sources into push feeds for the hub.
package feeds

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/hub"
)

const defaultInterval = 6 * time.Second

// BalanceReader reads the current balance of an account.
type BalanceReader interface {
	Balance(ctx context.Context, ref domain.ChainAssetRef, account string) (domain.AccountSnapshot, error)
}

// Pricer reads the current price of an asset. An invalid price means the asset has none.
type Pricer interface {
	Price(ctx context.Context, asset domain.Asset) (decimal.NullDecimal, error)
	Currency() string
}

// BalancePoller polls a reader and pushes a snapshot whenever the balance changes.
type BalancePoller struct {
	l        *zap.Logger
	reader   BalanceReader
	interval time.Duration
}

// NewBalancePoller creates a balance feed.
func NewBalancePoller(l *zap.Logger, reader BalanceReader, interval time.Duration) *BalancePoller {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &BalancePoller{
		l:        l.With(zap.String("component", "balance_poller")),
		reader:   reader,
		interval: interval,
	}
}

// WatchBalance implements hub.BalanceFeed.
func (p *BalancePoller) WatchBalance(ctx context.Context, ref domain.ChainAssetRef, account string) (<-chan hub.BalanceEvent, error) {
	out := make(chan hub.BalanceEvent, 1)

	go func() {
		defer close(out)
		poll(ctx, p.interval, out, func(ctx context.Context) hub.BalanceEvent {
			snapshot, err := p.reader.Balance(ctx, ref, account)
			if err != nil {
				p.l.Debug("balance read failed", zap.String("ref", ref.String()), zap.Error(err))
				return hub.BalanceEvent{Err: err}
			}
			return hub.BalanceEvent{Snapshot: snapshot}
		}, sameBalance)
	}()

	return out, nil
}

func sameBalance(prev, next hub.BalanceEvent) bool {
	if prev.Err != nil || next.Err != nil {
		return sameErr(prev.Err, next.Err)
	}

	a, b := prev.Snapshot, next.Snapshot

	return a.Spendable.Equal(b.Spendable) &&
		a.Total.Equal(b.Total) &&
		a.StakingAvailable.Equal(b.StakingAvailable) &&
		a.Aggregated.Equal(b.Aggregated)
}

// PricePoller polls a pricer and pushes a snapshot whenever the price changes.
type PricePoller struct {
	l        *zap.Logger
	pricer   Pricer
	assets   map[domain.ChainAssetRef]domain.Asset
	interval time.Duration
}

// NewPricePoller creates a price feed for the given assets.
func NewPricePoller(l *zap.Logger, pricer Pricer, assets []domain.Asset, interval time.Duration) *PricePoller {
	if interval <= 0 {
		interval = defaultInterval
	}
	byRef := make(map[domain.ChainAssetRef]domain.Asset, len(assets))
	for _, a := range assets {
		byRef[a.Ref] = a
	}

	return &PricePoller{
		l:        l.With(zap.String("component", "price_poller")),
		pricer:   pricer,
		assets:   byRef,
		interval: interval,
	}
}

// WatchPrice implements hub.PriceFeed.
func (p *PricePoller) WatchPrice(ctx context.Context, ref domain.ChainAssetRef) (<-chan hub.PriceEvent, error) {
	asset, ok := p.assets[ref]
	if !ok {
		return nil, errors.Wrapf(hub.ErrUnsupportedFeed, "unknown asset %s", ref.String())
	}
	out := make(chan hub.PriceEvent, 1)

	go func() {
		defer close(out)
		poll(ctx, p.interval, out, func(ctx context.Context) hub.PriceEvent {
			price, err := p.pricer.Price(ctx, asset)
			if err != nil {
				p.l.Debug("price read failed", zap.String("asset", asset.Symbol), zap.Error(err))
				return hub.PriceEvent{Err: err}
			}
			return hub.PriceEvent{Snapshot: domain.PriceSnapshot{
				Ref:       ref,
				Currency:  p.pricer.Currency(),
				Price:     price,
				UpdatedAt: time.Now(),
			}}
		}, samePrice)
	}()

	return out, nil
}

func samePrice(prev, next hub.PriceEvent) bool {
	if prev.Err != nil || next.Err != nil {
		return sameErr(prev.Err, next.Err)
	}

	a, b := prev.Snapshot.Price, next.Snapshot.Price
	if a.Valid != b.Valid {
		return false
	}

	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func sameErr(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Error() == b.Error()
}

// poll reads immediately and then on every tick, sending only values that differ from the last one sent.
func poll[T any](ctx context.Context, interval time.Duration, out chan<- T, read func(context.Context) T, same func(prev, next T) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last T
		sent bool
	)
	for {
		v := read(ctx)
		if ctx.Err() != nil {
			return
		}
		if !sent || !same(last, v) {
			select {
			case out <- v:
				last, sent = v, true
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StaticPricer fixed prices, used by the simulation.
type StaticPricer struct {
	Prices map[domain.ChainAssetRef]decimal.Decimal
	Unit   string
}

// Price returns the configured price, invalid when none is configured.
func (s StaticPricer) Price(_ context.Context, asset domain.Asset) (decimal.NullDecimal, error) {
	price, ok := s.Prices[asset.Ref]
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(price), nil
}

// Currency returns the configured display currency.
func (s StaticPricer) Currency() string {
	return s.Unit
}
