package hub

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
)

type fakeBalanceFeed struct {
	mu      sync.Mutex
	watches map[domain.ChainAssetRef]int
	chans   map[domain.ChainAssetRef]chan BalanceEvent
	ctxs    map[domain.ChainAssetRef]context.Context
	openErr map[domain.ChainAssetRef]error
}

func newFakeBalanceFeed() *fakeBalanceFeed {
	return &fakeBalanceFeed{
		watches: make(map[domain.ChainAssetRef]int),
		chans:   make(map[domain.ChainAssetRef]chan BalanceEvent),
		ctxs:    make(map[domain.ChainAssetRef]context.Context),
		openErr: make(map[domain.ChainAssetRef]error),
	}
}

func (f *fakeBalanceFeed) WatchBalance(ctx context.Context, ref domain.ChainAssetRef, _ string) (<-chan BalanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.watches[ref]++
	if err := f.openErr[ref]; err != nil {
		delete(f.openErr, ref)
		return nil, err
	}
	ch := make(chan BalanceEvent, 256)
	f.chans[ref] = ch
	f.ctxs[ref] = ctx

	return ch, nil
}

func (f *fakeBalanceFeed) watchCount(ref domain.ChainAssetRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[ref]
}

func (f *fakeBalanceFeed) channel(t *testing.T, ref domain.ChainAssetRef) chan BalanceEvent {
	t.Helper()
	var ch chan BalanceEvent
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch = f.chans[ref]
		return ch != nil
	}, time.Second, 5*time.Millisecond)
	return ch
}

func (f *fakeBalanceFeed) context(ref domain.ChainAssetRef) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[ref]
}

type fakePriceFeed struct {
	mu    sync.Mutex
	chans map[domain.ChainAssetRef]chan PriceEvent
}

func (f *fakePriceFeed) WatchPrice(_ context.Context, ref domain.ChainAssetRef) (<-chan PriceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chans == nil {
		f.chans = make(map[domain.ChainAssetRef]chan PriceEvent)
	}
	ch := make(chan PriceEvent, 16)
	f.chans[ref] = ch
	return ch, nil
}

var (
	dot  = domain.ChainAssetRef{ChainID: "polkadot", AssetID: 0}
	usdt = domain.ChainAssetRef{ChainID: "statemint", AssetID: 1984}
)

func balance(ref domain.ChainAssetRef, total int64) BalanceEvent {
	return BalanceEvent{Snapshot: domain.AccountSnapshot{
		Ref:       ref,
		Account:   "alice",
		Total:     decimal.NewFromInt(total),
		Spendable: decimal.NewFromInt(total),
	}}
}

func receive(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
	return Update{}
}

func newTestHub(balances BalanceFeed) *Hub {
	return New(zap.NewNop(), balances, &fakePriceFeed{}, WithRetryInterval(5*time.Millisecond, 20*time.Millisecond))
}

func TestHub_SharesUpstreamFeed(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	first := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	second := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")

	feed.channel(t, dot) <- balance(dot, 10)

	u1 := receive(t, first)
	u2 := receive(t, second)
	require.NotNil(t, u1.Account)
	require.NotNil(t, u2.Account)
	assert.Equal(t, "10", u1.Account.Total.String())
	assert.Equal(t, "10", u2.Account.Total.String())

	assert.Equal(t, 1, feed.watchCount(dot))
	assert.Equal(t, 1, h.ActiveFeeds())

	first.Unsubscribe()
	assert.Equal(t, 1, h.ActiveFeeds())
	assert.NoError(t, feed.context(dot).Err())

	second.Unsubscribe()
	assert.Equal(t, 0, h.ActiveFeeds())
	assert.Error(t, feed.context(dot).Err())
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot, usdt}, "alice")
	other := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 1, h.ActiveFeeds())

	_, ok := <-sub.C()
	assert.False(t, ok)

	other.Unsubscribe()
	assert.Equal(t, 0, h.ActiveFeeds())
}

func TestHub_OrderPerRef(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer sub.Unsubscribe()

	ch := feed.channel(t, dot)
	for i := int64(1); i <= 100; i++ {
		ch <- balance(dot, i)
	}

	last := int64(0)
	for last < 100 {
		u := receive(t, sub)
		require.NotNil(t, u.Account)
		total := u.Account.Total.IntPart()
		assert.Greater(t, total, last, "updates of one ref must not go back in time")
		last = total
	}
}

func TestHub_LateSubscriberGetsLatestValue(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	first := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer first.Unsubscribe()

	feed.channel(t, dot) <- balance(dot, 42)
	receive(t, first)

	late := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer late.Unsubscribe()

	u := receive(t, late)
	require.NotNil(t, u.Account)
	assert.Equal(t, "42", u.Account.Total.String())
}

func TestHub_ErrorIsScopedToRef(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot, usdt}, "alice")
	defer sub.Unsubscribe()

	feed.channel(t, dot) <- BalanceEvent{Err: errors.New("storage key not found")}
	feed.channel(t, usdt) <- balance(usdt, 7)

	seen := map[domain.ChainAssetRef]Update{}
	for len(seen) < 2 {
		u := receive(t, sub)
		seen[u.Ref] = u
	}

	var subErr *domain.SubscriptionError
	require.ErrorAs(t, seen[dot].Err, &subErr)
	assert.Equal(t, dot, subErr.Ref)

	assert.NoError(t, seen[usdt].Err)
	require.NotNil(t, seen[usdt].Account)
	assert.Equal(t, "7", seen[usdt].Account.Total.String())
}

func TestHub_ReopensFailedFeed(t *testing.T) {
	feed := newFakeBalanceFeed()
	feed.openErr[dot] = errors.New("connection refused")
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer sub.Unsubscribe()

	u := receive(t, sub)
	var subErr *domain.SubscriptionError
	require.ErrorAs(t, u.Err, &subErr)

	feed.channel(t, dot) <- balance(dot, 5)
	u = receive(t, sub)
	require.NotNil(t, u.Account)
	assert.Equal(t, "5", u.Account.Total.String())
	assert.Equal(t, 2, feed.watchCount(dot))
}

func TestHub_UnsupportedFeedIsNotReopened(t *testing.T) {
	feed := newFakeBalanceFeed()
	feed.openErr[dot] = errors.Wrap(ErrUnsupportedFeed, "unknown asset")
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer sub.Unsubscribe()

	u := receive(t, sub)
	require.ErrorIs(t, u.Err, ErrUnsupportedFeed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, feed.watchCount(dot))
	select {
	case u := <-sub.C():
		t.Fatalf("unexpected update %+v", u)
	default:
	}
}

func TestHub_MissingPriceFeedIsReported(t *testing.T) {
	h := New(zap.NewNop(), newFakeBalanceFeed(), nil, WithRetryInterval(5*time.Millisecond, 20*time.Millisecond))
	defer h.Close()

	sub := h.SubscribePrices([]domain.ChainAssetRef{dot})
	defer sub.Unsubscribe()

	u := receive(t, sub)
	assert.Equal(t, KindPrice, u.Kind)
	require.ErrorIs(t, u.Err, ErrUnsupportedFeed)
}

func TestHub_ReopensClosedFeed(t *testing.T) {
	feed := newFakeBalanceFeed()
	h := newTestHub(feed)
	defer h.Close()

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	defer sub.Unsubscribe()

	close(feed.channel(t, dot))

	u := receive(t, sub)
	require.Error(t, u.Err)

	require.Eventually(t, func() bool {
		return feed.watchCount(dot) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHub_PricesAreKeyedWithoutAccount(t *testing.T) {
	prices := &fakePriceFeed{}
	h := New(zap.NewNop(), newFakeBalanceFeed(), prices)
	defer h.Close()

	a := h.SubscribePrices([]domain.ChainAssetRef{dot})
	b := h.SubscribePrices([]domain.ChainAssetRef{dot, dot})
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	assert.Equal(t, 1, h.ActiveFeeds())

	var ch chan PriceEvent
	require.Eventually(t, func() bool {
		prices.mu.Lock()
		defer prices.mu.Unlock()
		ch = prices.chans[dot]
		return ch != nil
	}, time.Second, 5*time.Millisecond)

	ch <- PriceEvent{Snapshot: domain.PriceSnapshot{
		Ref:   dot,
		Price: decimal.NewNullDecimal(decimal.RequireFromString("6.5")),
	}}

	for _, sub := range []*Subscription{a, b} {
		u := receive(t, sub)
		require.NotNil(t, u.Price)
		assert.Equal(t, KindPrice, u.Kind)
		assert.Equal(t, "6.5", u.Price.Price.Decimal.String())
	}
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := newTestHub(newFakeBalanceFeed())

	sub := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	h.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Unsubscribe()

	after := h.SubscribeBalances([]domain.ChainAssetRef{dot}, "alice")
	_, ok = <-after.C()
	assert.False(t, ok)
}
