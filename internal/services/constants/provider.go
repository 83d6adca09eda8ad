// Package constants serves chain constants such as the existential deposit.
package constants

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

const cleanupInterval = 10 * time.Minute

// Source reads constants from the chain or configuration.
type Source interface {
	ExistentialDeposit(ctx context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error)
}

// Static constants known ahead of time, usually from configuration.
type Static map[domain.ChainAssetRef]decimal.Decimal

// ExistentialDeposit returns the configured deposit of ref.
func (s Static) ExistentialDeposit(_ context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error) {
	ed, ok := s[ref]
	if !ok {
		return decimal.Zero, errors.Errorf("no existential deposit known for %s", ref.String())
	}
	return ed, nil
}

// CachedProvider caches constants of a Source for a TTL.
type CachedProvider struct {
	l      *zap.Logger
	source Source
	cache  *cache.Cache
}

// NewCachedProvider creates a provider caching source values for ttl.
func NewCachedProvider(l *zap.Logger, source Source, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		l:      l.With(zap.String("component", "constants")),
		source: source,
		cache:  cache.New(ttl, cleanupInterval),
	}
}

// ExistentialDeposit returns the existential deposit of ref.
func (p *CachedProvider) ExistentialDeposit(ctx context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error) {
	key := ref.String()
	if cached, ok := p.cache.Get(key); ok {
		return cached.(decimal.Decimal), nil
	}

	ed, err := p.source.ExistentialDeposit(ctx, ref)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "existential deposit of %s", key)
	}
	p.cache.Set(key, ed, cache.DefaultExpiration)

	p.l.Debug("existential deposit loaded",
		zap.String("ref", key),
		zap.String("existential_deposit", ed.String()))

	return ed, nil
}

// Invalidate drops the cached constants of ref.
func (p *CachedProvider) Invalidate(ref domain.ChainAssetRef) {
	p.cache.Delete(ref.String())
}
