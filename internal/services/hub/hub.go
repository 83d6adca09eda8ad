// Package hub shares balance and price feeds between confirmation screens.
//
// Every (kind, asset, account) is backed by exactly one upstream feed, opened on the first
// subscription and closed when the last subscriber leaves. Updates for one ref are delivered
// in arrival order; a slow subscriber only sees the latest value per ref.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/metrics"
	"github.com/vadiminshakov/txconfirm/pkg/retrier"
)

const (
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

var (
	// ErrUnsupportedFeed permanent feed failure, the hub does not reopen such feeds.
	ErrUnsupportedFeed = errors.New("feed is not supported")

	// errFeedClosed upstream closed its channel while still subscribed.
	errFeedClosed = errors.New("feed closed by upstream")
)

// Kind of a feed.
type Kind string

const (
	KindBalance Kind = "balance"
	KindPrice   Kind = "price"
)

// BalanceEvent single upstream balance notification.
type BalanceEvent struct {
	Snapshot domain.AccountSnapshot
	Err      error
}

// PriceEvent single upstream price notification.
type PriceEvent struct {
	Snapshot domain.PriceSnapshot
	Err      error
}

// BalanceFeed push-based balance source. The channel is closed once ctx is done.
type BalanceFeed interface {
	WatchBalance(ctx context.Context, ref domain.ChainAssetRef, account string) (<-chan BalanceEvent, error)
}

// PriceFeed push-based price source. The channel is closed once ctx is done.
type PriceFeed interface {
	WatchPrice(ctx context.Context, ref domain.ChainAssetRef) (<-chan PriceEvent, error)
}

// Update delivered to subscribers. Exactly one of Account, Price or Err is set.
type Update struct {
	Kind    Kind
	Ref     domain.ChainAssetRef
	Account *domain.AccountSnapshot
	Price   *domain.PriceSnapshot
	Err     error
}

type feedKey struct {
	kind    Kind
	ref     domain.ChainAssetRef
	account string
}

type feed struct {
	key    feedKey
	refs   int
	cancel context.CancelFunc
	subs   map[*Subscription]struct{}
	last   *Update
}

// Hub reference-counted registry of upstream feeds.
type Hub struct {
	l        *zap.Logger
	balances BalanceFeed
	prices   PriceFeed
	metrics  *metrics.Metrics

	retryInitial time.Duration
	retryMax     time.Duration

	mu     sync.Mutex
	feeds  map[feedKey]*feed
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Hub.
type Option func(*Hub)

// WithRetryInterval sets the backoff used to re-open failed feeds.
func WithRetryInterval(initial, max time.Duration) Option {
	return func(h *Hub) {
		h.retryInitial = initial
		h.retryMax = max
	}
}

// WithMetrics enables feed gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New creates a hub over the given feeds.
func New(l *zap.Logger, balances BalanceFeed, prices PriceFeed, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		l:            l.With(zap.String("component", "hub")),
		balances:     balances,
		prices:       prices,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		feeds:        make(map[feedKey]*feed),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// SubscribeBalances subscribes to balances of account for every ref.
func (h *Hub) SubscribeBalances(refs []domain.ChainAssetRef, account string) *Subscription {
	keys := make([]feedKey, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, feedKey{kind: KindBalance, ref: ref, account: account})
	}

	return h.subscribe(keys)
}

// SubscribePrices subscribes to prices of every ref.
func (h *Hub) SubscribePrices(refs []domain.ChainAssetRef) *Subscription {
	keys := make([]feedKey, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, feedKey{kind: KindPrice, ref: ref})
	}

	return h.subscribe(keys)
}

func (h *Hub) subscribe(keys []feedKey) *Subscription {
	sub := newSubscription(h, dedupKeys(keys))

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.closeLocal()
		return sub
	}

	for _, key := range sub.keys {
		f, ok := h.feeds[key]
		if !ok {
			f = h.openFeed(key)
		}
		f.refs++
		f.subs[sub] = struct{}{}
		if f.last != nil {
			sub.push(key, *f.last)
		}
	}

	return sub
}

// openFeed registers a feed and starts its goroutine, h.mu must be held.
func (h *Hub) openFeed(key feedKey) *feed {
	ctx, cancel := context.WithCancel(h.ctx)
	f := &feed{
		key:    key,
		cancel: cancel,
		subs:   make(map[*Subscription]struct{}),
	}
	h.feeds[key] = f
	h.metrics.FeedOpened(string(key.kind))

	h.l.Debug("opening feed",
		zap.String("kind", string(key.kind)),
		zap.String("ref", key.ref.String()),
		zap.String("account", key.account))

	h.wg.Add(1)
	go h.run(ctx, f)

	return f
}

func (h *Hub) release(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, key := range sub.keys {
		f, ok := h.feeds[key]
		if !ok {
			continue
		}
		if _, attached := f.subs[sub]; !attached {
			continue
		}
		delete(f.subs, sub)
		f.refs--
		if f.refs > 0 {
			continue
		}
		delete(h.feeds, key)
		f.cancel()
		h.metrics.FeedClosed(string(key.kind))
		h.l.Debug("feed released",
			zap.String("kind", string(key.kind)),
			zap.String("ref", key.ref.String()))
	}
}

// ActiveFeeds returns the number of open upstream feeds.
func (h *Hub) ActiveFeeds() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.feeds)
}

// Close cancels every feed and waits for the feed goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make(map[*Subscription]struct{})
	for key, f := range h.feeds {
		delete(h.feeds, key)
		h.metrics.FeedClosed(string(key.kind))
		for sub := range f.subs {
			subs[sub] = struct{}{}
		}
	}
	h.mu.Unlock()

	for sub := range subs {
		sub.closeLocal()
	}

	h.cancel()
	h.wg.Wait()
}

// run keeps the upstream feed open until its context is cancelled.
func (h *Hub) run(ctx context.Context, f *feed) {
	defer h.wg.Done()

	r := retrier.New(
		retrier.WithMaxRetries(retrier.Unlimited),
		retrier.WithInitialInterval(h.retryInitial),
		retrier.WithMaxInterval(h.retryMax),
		retrier.WithRetryIf(func(err error) bool {
			return !errors.Is(err, ErrUnsupportedFeed)
		}),
		retrier.WithOnRetry(func(attempt int, err error) {
			h.l.Warn("feed failed, reopening",
				zap.String("kind", string(f.key.kind)),
				zap.String("ref", f.key.ref.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}),
	)

	err := r.Do(ctx, func(ctx context.Context) error {
		err := h.stream(ctx, f)
		if err != nil && ctx.Err() == nil {
			h.publish(f, Update{
				Kind: f.key.kind,
				Ref:  f.key.ref,
				Err:  &domain.SubscriptionError{Ref: f.key.ref, Err: err},
			})
		}
		return err
	})
	if errors.Is(err, ErrUnsupportedFeed) {
		h.l.Warn("feed is not supported, giving up",
			zap.String("kind", string(f.key.kind)),
			zap.String("ref", f.key.ref.String()),
			zap.Error(err))
	}
}

func (h *Hub) stream(ctx context.Context, f *feed) error {
	switch f.key.kind {
	case KindBalance:
		if h.balances == nil {
			return errors.Wrap(ErrUnsupportedFeed, "balance feed is not configured")
		}
		events, err := h.balances.WatchBalance(ctx, f.key.ref, f.key.account)
		if err != nil {
			return errors.Wrap(err, "watch balance")
		}
		return forward(ctx, events, func(ev BalanceEvent) {
			u := Update{Kind: KindBalance, Ref: f.key.ref}
			if ev.Err != nil {
				u.Err = &domain.SubscriptionError{Ref: f.key.ref, Err: ev.Err}
			} else {
				snapshot := ev.Snapshot
				u.Account = &snapshot
			}
			h.publish(f, u)
		})
	case KindPrice:
		if h.prices == nil {
			return errors.Wrap(ErrUnsupportedFeed, "price feed is not configured")
		}
		events, err := h.prices.WatchPrice(ctx, f.key.ref)
		if err != nil {
			return errors.Wrap(err, "watch price")
		}
		return forward(ctx, events, func(ev PriceEvent) {
			u := Update{Kind: KindPrice, Ref: f.key.ref}
			if ev.Err != nil {
				u.Err = &domain.SubscriptionError{Ref: f.key.ref, Err: ev.Err}
			} else {
				snapshot := ev.Snapshot
				u.Price = &snapshot
			}
			h.publish(f, u)
		})
	default:
		return errors.Wrapf(ErrUnsupportedFeed, "unknown feed kind %s", f.key.kind)
	}
}

func forward[T any](ctx context.Context, events <-chan T, deliver func(T)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errFeedClosed
			}
			deliver(ev)
		}
	}
}

// publish stores the update as the feed's latest value and hands it to every subscriber.
func (h *Hub) publish(f *feed, u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.feeds[f.key]; !ok || current != f {
		return
	}
	f.last = &u
	for sub := range f.subs {
		sub.push(f.key, u)
	}
}

func dedupKeys(keys []feedKey) []feedKey {
	seen := make(map[feedKey]struct{}, len(keys))
	out := make([]feedKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}

	return out
}
