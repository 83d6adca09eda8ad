package feeds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/services/hub"
)

var dot = domain.Asset{Ref: domain.ChainAssetRef{ChainID: "polkadot"}, Symbol: "DOT", Precision: 10, Kind: domain.AssetKindNative}

type scriptedReader struct {
	mu     sync.Mutex
	values []decimal.Decimal
	errs   []error
	calls  int
}

func (r *scriptedReader) Balance(_ context.Context, ref domain.ChainAssetRef, account string) (domain.AccountSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.calls
	if i >= len(r.values) {
		i = len(r.values) - 1
	}
	r.calls++
	if r.errs[i] != nil {
		return domain.AccountSnapshot{}, r.errs[i]
	}
	return domain.AccountSnapshot{Ref: ref, Account: account, Spendable: r.values[i], Total: r.values[i]}, nil
}

func (r *scriptedReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func receiveBalance(t *testing.T, ch <-chan hub.BalanceEvent) hub.BalanceEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no balance event")
		return hub.BalanceEvent{}
	}
}

func TestBalancePoller_PushesOnlyChanges(t *testing.T) {
	boom := errors.New("rpc down")
	reader := &scriptedReader{
		values: []decimal.Decimal{decimal.NewFromInt(5), decimal.NewFromInt(5), decimal.Zero, decimal.NewFromInt(7), decimal.NewFromInt(7)},
		errs:   []error{nil, nil, boom, nil, nil},
	}
	p := NewBalancePoller(zap.NewNop(), reader, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := p.WatchBalance(ctx, dot.Ref, "alice")
	require.NoError(t, err)

	first := receiveBalance(t, ch)
	require.NoError(t, first.Err)
	assert.Equal(t, "5", first.Snapshot.Spendable.String())

	second := receiveBalance(t, ch)
	require.ErrorIs(t, second.Err, boom)
	assert.GreaterOrEqual(t, reader.callCount(), 3)

	third := receiveBalance(t, ch)
	require.NoError(t, third.Err)
	assert.Equal(t, "7", third.Snapshot.Spendable.String())

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBalancePoller_ClosesOnCancel(t *testing.T) {
	reader := &scriptedReader{values: []decimal.Decimal{decimal.NewFromInt(1)}, errs: []error{nil}}
	p := NewBalancePoller(zap.NewNop(), reader, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.WatchBalance(ctx, dot.Ref, "alice")
	require.NoError(t, err)
	receiveBalance(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestPricePoller(t *testing.T) {
	pricer := StaticPricer{Prices: map[domain.ChainAssetRef]decimal.Decimal{dot.Ref: decimal.RequireFromString("6.5")}, Unit: "usd"}
	unpriced := domain.Asset{Ref: domain.ChainAssetRef{ChainID: "polkadot", AssetID: 3}, Symbol: "NOP"}
	p := NewPricePoller(zap.NewNop(), pricer, []domain.Asset{dot, unpriced}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.WatchPrice(ctx, dot.Ref)
	require.NoError(t, err)
	ev := <-ch
	require.NoError(t, ev.Err)
	assert.Equal(t, "usd", ev.Snapshot.Currency)
	assert.Equal(t, "6.5", ev.Snapshot.Price.Decimal.String())

	ch, err = p.WatchPrice(ctx, unpriced.Ref)
	require.NoError(t, err)
	ev = <-ch
	require.NoError(t, ev.Err)
	assert.False(t, ev.Snapshot.Price.Valid)

	_, err = p.WatchPrice(ctx, domain.ChainAssetRef{ChainID: "kusama"})
	require.ErrorIs(t, err, hub.ErrUnsupportedFeed)
}

func TestPollersFeedTheHub(t *testing.T) {
	reader := &scriptedReader{values: []decimal.Decimal{decimal.NewFromInt(3)}, errs: []error{nil}}
	pricer := StaticPricer{Prices: map[domain.ChainAssetRef]decimal.Decimal{dot.Ref: decimal.NewFromInt(2)}, Unit: "usd"}

	h := hub.New(zap.NewNop(),
		NewBalancePoller(zap.NewNop(), reader, time.Hour),
		NewPricePoller(zap.NewNop(), pricer, []domain.Asset{dot}, time.Hour))
	defer h.Close()

	balances := h.SubscribeBalances([]domain.ChainAssetRef{dot.Ref}, "alice")
	defer balances.Unsubscribe()
	prices := h.SubscribePrices([]domain.ChainAssetRef{dot.Ref})
	defer prices.Unsubscribe()

	select {
	case u := <-balances.C():
		require.NotNil(t, u.Account)
		assert.Equal(t, "3", u.Account.Spendable.String())
	case <-time.After(time.Second):
		t.Fatal("no balance update")
	}
	select {
	case u := <-prices.C():
		require.NotNil(t, u.Price)
		assert.Equal(t, "2", u.Price.Price.Decimal.String())
	case <-time.After(time.Second):
		t.Fatal("no price update")
	}
}
