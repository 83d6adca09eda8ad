// Package fee computes network fees of unsigned transactions by dry run.
package fee

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/metrics"
)

const defaultTimeout = 15 * time.Second

// ErrSuperseded a newer estimate was requested for the same slot.
var ErrSuperseded = errors.New("fee request superseded")

// Encoder produces the chain-specific payload of an unsigned transaction.
type Encoder interface {
	Encode(ctx context.Context, ext domain.Extrinsic) ([]byte, error)
}

// DryRunner returns the fee the chain would charge for the payload.
type DryRunner interface {
	DryRunFee(ctx context.Context, payload []byte) (decimal.Decimal, error)
}

// Request single fee estimate.
type Request struct {
	// Slot identifies the requester, only its latest request is answered.
	Slot string
	// ReuseKey identifies the transaction being estimated, equal keys share one dry run.
	ReuseKey string
	// Epoch input epoch of the requester, copied into the quote.
	Epoch   uint64
	Chain   string
	Account string
	Tip     decimal.Decimal
	Builder domain.CallBuilder
}

type flight struct {
	key     string
	sfKey   string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type call struct {
	slot       string
	fl         *flight
	results    <-chan singleflight.Result
	superseded chan struct{}
	released   bool
}

// Estimator deduplicates dry runs by reuse key.
type Estimator struct {
	l       *zap.Logger
	encoder Encoder
	client  DryRunner
	metrics *metrics.Metrics
	timeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	slots   map[string]*call
	gen     uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures the Estimator.
type Option func(*Estimator)

// WithTimeout bounds a single dry run.
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		e.timeout = d
	}
}

// WithMetrics enables estimate counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Estimator) {
		e.metrics = m
	}
}

// NewEstimator creates an estimator.
func NewEstimator(l *zap.Logger, encoder Encoder, client DryRunner, opts ...Option) *Estimator {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Estimator{
		l:       l.With(zap.String("component", "fee")),
		encoder: encoder,
		client:  client,
		timeout: defaultTimeout,
		flights: make(map[string]*flight),
		slots:   make(map[string]*call),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Estimate returns the fee of the transaction described by req.
// Concurrent requests with the same reuse key share one dry run. A newer request of the same slot
// makes the older one return ErrSuperseded.
func (e *Estimator) Estimate(ctx context.Context, req Request) (domain.FeeQuote, error) {
	ext, err := domain.BuildExtrinsic(req.Chain, req.Account, req.Tip, req.Builder)
	if err != nil {
		e.supersede(req.Slot)
		e.metrics.Estimate("failed")
		return domain.FeeQuote{}, &domain.EstimationError{ReuseKey: req.ReuseKey, Err: err}
	}

	c := e.join(req, ext)
	defer e.leave(c)

	select {
	case <-c.superseded:
		e.metrics.Estimate("superseded")
		return domain.FeeQuote{}, ErrSuperseded
	case <-ctx.Done():
		return domain.FeeQuote{}, ctx.Err()
	case res := <-c.results:
		select {
		case <-c.superseded:
			e.metrics.Estimate("superseded")
			return domain.FeeQuote{}, ErrSuperseded
		default:
		}

		if res.Err != nil {
			e.metrics.Estimate("failed")
			e.l.Warn("fee estimation failed",
				zap.String("reuse_key", req.ReuseKey),
				zap.Error(res.Err))
			return domain.FeeQuote{}, &domain.EstimationError{ReuseKey: req.ReuseKey, Err: res.Err}
		}

		amount := res.Val.(decimal.Decimal)
		e.metrics.Estimate("ok")
		e.l.Debug("fee estimated",
			zap.String("reuse_key", req.ReuseKey),
			zap.String("fee", amount.String()),
			zap.Bool("shared", res.Shared))

		return domain.FeeQuote{Amount: amount, ReuseKey: req.ReuseKey, Epoch: req.Epoch}, nil
	}
}

// Close cancels all in-flight dry runs.
func (e *Estimator) Close() {
	e.cancel()
}

func (e *Estimator) dryRun(ctx context.Context, ext domain.Extrinsic) (decimal.Decimal, error) {
	payload, err := e.encoder.Encode(ctx, ext)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "encode extrinsic")
	}

	e.metrics.DryRun(ext.Chain)
	amount, err := e.client.DryRunFee(ctx, payload)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "dry run")
	}
	if amount.IsNegative() {
		return decimal.Zero, errors.Errorf("negative fee %s", amount.String())
	}

	return amount, nil
}

// join attaches the request to the flight of its reuse key, starting one if needed.
func (e *Estimator) join(req Request, ext domain.Extrinsic) *call {
	e.mu.Lock()
	defer e.mu.Unlock()

	fl, ok := e.flights[req.ReuseKey]
	if !ok {
		e.gen++
		ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
		fl = &flight{
			key:    req.ReuseKey,
			sfKey:  fmt.Sprintf("%s#%d", req.ReuseKey, e.gen),
			ctx:    ctx,
			cancel: cancel,
		}
		e.flights[req.ReuseKey] = fl
	}
	fl.waiters++

	c := &call{
		slot: req.Slot,
		fl:   fl,
		results: e.group.DoChan(fl.sfKey, func() (any, error) {
			return e.dryRun(fl.ctx, ext)
		}),
		superseded: make(chan struct{}),
	}
	if req.Slot != "" {
		if prev, ok := e.slots[req.Slot]; ok {
			close(prev.superseded)
			e.releaseLocked(prev)
		}
		e.slots[req.Slot] = c
	}

	return c
}

func (e *Estimator) supersede(slot string) {
	if slot == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.slots[slot]; ok {
		close(prev.superseded)
		e.releaseLocked(prev)
		delete(e.slots, slot)
	}
}

func (e *Estimator) leave(c *call) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked(c)
	if e.slots[c.slot] == c {
		delete(e.slots, c.slot)
	}
}

// releaseLocked drops the call's interest in its flight and cancels the flight nobody waits for.
func (e *Estimator) releaseLocked(c *call) {
	if c.released {
		return
	}
	c.released = true

	c.fl.waiters--
	if c.fl.waiters > 0 {
		return
	}
	c.fl.cancel()
	if e.flights[c.fl.key] == c.fl {
		delete(e.flights, c.fl.key)
	}
}
