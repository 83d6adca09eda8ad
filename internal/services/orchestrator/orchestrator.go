// Package orchestrator drives one confirmation screen: inputs, fee estimation, validation and submission.
//
// All screen state is owned by a single goroutine. Public methods post closures to it and
// asynchronous results (balances, prices, fees, submissions) are delivered to it the same way.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/metrics"
	"github.com/vadiminshakov/txconfirm/internal/services/fee"
	"github.com/vadiminshakov/txconfirm/internal/services/flow"
	"github.com/vadiminshakov/txconfirm/internal/services/hub"
	"github.com/vadiminshakov/txconfirm/internal/services/validation"
)

const defaultDebounce = 300 * time.Millisecond

var hundred = decimal.NewFromInt(100)

// Feeds shared balance and price subscriptions.
type Feeds interface {
	SubscribeBalances(refs []domain.ChainAssetRef, account string) *hub.Subscription
	SubscribePrices(refs []domain.ChainAssetRef) *hub.Subscription
}

// Estimator computes fee quotes.
type Estimator interface {
	Estimate(ctx context.Context, req fee.Request) (domain.FeeQuote, error)
}

// Submitter signs and broadcasts confirmed requests.
type Submitter interface {
	Submit(ctx context.Context, req *domain.ConfirmationRequest) domain.SubmissionResult
}

// ConstantsProvider reads chain constants.
type ConstantsProvider interface {
	ExistentialDeposit(ctx context.Context, ref domain.ChainAssetRef) (decimal.Decimal, error)
}

// Config of one screen.
type Config struct {
	// ScreenID identifies the screen towards the fee estimator, generated when empty.
	ScreenID     string
	Account      string
	Asset        domain.Asset
	UtilityAsset domain.Asset
	Currency     string
	Debounce     time.Duration
	Flow         flow.Flow
}

// Deps collaborators of a screen.
type Deps struct {
	Feeds     Feeds
	Estimator Estimator
	Submitter Submitter
	Constants ConstantsProvider
	Metrics   *metrics.Metrics
}

// Orchestrator confirmation screen.
type Orchestrator struct {
	l    *zap.Logger
	cfg  Config
	deps Deps

	actions  chan func()
	updates  chan ViewState
	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once
	view     atomic.Pointer[ViewState]

	ctx    context.Context
	cancel context.CancelFunc

	// owned by the loop goroutine
	phase   Phase
	flow    flow.Flow
	amount  decimal.Decimal
	percent decimal.NullDecimal
	target  string
	tip     decimal.Decimal
	epoch   uint64

	quote   *domain.FeeQuote
	lastFee decimal.NullDecimal
	feeErr  error

	estimateCancel context.CancelFunc
	debounceTimer  *time.Timer
	debounceGen    uint64

	balance        *domain.AccountSnapshot
	utilityBalance *domain.AccountSnapshot
	balanceErr     error
	price          *domain.PriceSnapshot
	utilityPrice   *domain.PriceSnapshot
	priceErr       error
	ed             decimal.NullDecimal
	utilityEd      decimal.NullDecimal

	balanceSub *hub.Subscription
	priceSub   *hub.Subscription

	validationErr error
	submissionErr error
	txHash        string
}

// New creates a screen and starts its loop.
func New(l *zap.Logger, cfg Config, deps Deps) *Orchestrator {
	if cfg.ScreenID == "" {
		cfg.ScreenID = uuid.NewString()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Flow == nil {
		cfg.Flow = flow.Transfer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		l: l.With(
			zap.String("component", "orchestrator"),
			zap.String("screen", cfg.ScreenID),
			zap.String("flow", cfg.Flow.Kind().String())),
		cfg:      cfg,
		deps:     deps,
		actions:  make(chan func()),
		updates:  make(chan ViewState, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		phase:    PhaseConfiguring,
		flow:     cfg.Flow,
		amount:   decimal.Zero,
		tip:      decimal.Zero,
	}

	refs := []domain.ChainAssetRef{cfg.Asset.Ref}
	if cfg.UtilityAsset.Ref != cfg.Asset.Ref {
		refs = append(refs, cfg.UtilityAsset.Ref)
	}
	if deps.Feeds != nil {
		o.balanceSub = deps.Feeds.SubscribeBalances(refs, cfg.Account)
		o.priceSub = deps.Feeds.SubscribePrices(refs)
	}

	o.fetchConstants()
	o.publish()

	go o.loop()

	return o
}

// Updates streams view states, intermediate states may be skipped. Closed by Close.
func (o *Orchestrator) Updates() <-chan ViewState {
	return o.updates
}

// State returns the latest view state.
func (o *Orchestrator) State() ViewState {
	return *o.view.Load()
}

// SetAmount sets the amount to spend and drops the percentage shortcut.
func (o *Orchestrator) SetAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("amount must not be negative")
	}

	return o.mutate(func() {
		o.percent = decimal.NullDecimal{}
		o.setAmount(amount)
	})
}

// SetPercent spends pct percent of the available balance, recomputed whenever the balance changes.
func (o *Orchestrator) SetPercent(pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return errors.Errorf("percent must be in (0, 100], got %s", pct.String())
	}

	return o.mutate(func() {
		o.percent = decimal.NewNullDecimal(pct)
		o.applyPercent()
	})
}

// SetTarget sets the destination.
func (o *Orchestrator) SetTarget(target string) error {
	return o.mutate(func() {
		if target == o.target {
			return
		}
		o.target = target
		o.inputChanged()
	})
}

// SetTip sets the tip paid to the block author.
func (o *Orchestrator) SetTip(tip decimal.Decimal) error {
	if tip.IsNegative() {
		return errors.New("tip must not be negative")
	}

	return o.mutate(func() {
		if tip.Equal(o.tip) {
			return
		}
		o.tip = tip
		o.inputChanged()
	})
}

// SetFlow replaces the flow parameters, e.g. once a chain read they depend on resolved.
func (o *Orchestrator) SetFlow(f flow.Flow) error {
	if f == nil {
		return errors.New("flow is required")
	}

	return o.mutate(func() {
		o.flow = f
		o.inputChanged()
	})
}

// Confirm validates the current inputs and starts the submission.
// A validation failure is returned as *domain.ValidationFailure after its recovery action was started.
func (o *Orchestrator) Confirm() error {
	return o.call(o.confirm)
}

// Retry requests a fresh fee estimate for the current inputs.
func (o *Orchestrator) Retry() error {
	return o.mutate(func() {
		o.stopDebounce()
		o.startEstimate()
	})
}

// Close cancels subscriptions and in-flight work. A submission result arriving later is dropped.
func (o *Orchestrator) Close() {
	o.once.Do(func() {
		close(o.done)
		o.cancel()
	})
	<-o.loopDone
}

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	defer close(o.updates)
	defer o.teardown()

	var balances, prices <-chan hub.Update
	if o.balanceSub != nil {
		balances = o.balanceSub.C()
	}
	if o.priceSub != nil {
		prices = o.priceSub.C()
	}

	for {
		select {
		case <-o.done:
			return
		case fn := <-o.actions:
			fn()
		case u, ok := <-balances:
			if !ok {
				balances = nil
				continue
			}
			o.onBalance(u)
		case u, ok := <-prices:
			if !ok {
				prices = nil
				continue
			}
			o.onPrice(u)
		}
		o.publish()
	}
}

func (o *Orchestrator) teardown() {
	o.stopDebounce()
	if o.estimateCancel != nil {
		o.estimateCancel()
	}
	if o.balanceSub != nil {
		o.balanceSub.Unsubscribe()
	}
	if o.priceSub != nil {
		o.priceSub.Unsubscribe()
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.actions <- func() {
		err := fn()
		o.publish()
		errc <- err
	}:
	case <-o.done:
		return domain.ErrScreenClosed
	}

	select {
	case err := <-errc:
		return err
	case <-o.loopDone:
		return domain.ErrScreenClosed
	}
}

// mutate runs an input change on the loop, rejected once the transaction was submitted.
func (o *Orchestrator) mutate(fn func()) error {
	return o.call(func() error {
		if o.phase == PhaseDone {
			return domain.ErrScreenDone
		}
		fn()
		return nil
	})
}

// post delivers fn to the loop from a background goroutine, dropped after Close.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.actions <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) inputs() flow.Inputs {
	return flow.Inputs{
		Account: o.cfg.Account,
		Asset:   o.cfg.Asset,
		Amount:  o.amount,
		Target:  o.target,
		Tip:     o.tip,
	}
}

func (o *Orchestrator) setAmount(amount decimal.Decimal) {
	if amount.Equal(o.amount) {
		return
	}
	o.amount = amount
	o.inputChanged()
}

// inputChanged invalidates the quote and re-arms the debounced estimate.
func (o *Orchestrator) inputChanged() {
	if o.phase == PhaseDone {
		return
	}

	o.epoch++
	o.quote = nil
	o.feeErr = nil
	o.validationErr = nil
	if o.estimateCancel != nil {
		o.estimateCancel()
		o.estimateCancel = nil
	}
	if o.phase != PhaseConfirming {
		o.phase = PhaseEstimating
	}

	o.stopDebounce()
	gen := o.debounceGen
	o.debounceTimer = time.AfterFunc(o.cfg.Debounce, func() {
		o.post(func() {
			if gen == o.debounceGen {
				o.debounceTimer = nil
				o.startEstimate()
			}
		})
	})
}

func (o *Orchestrator) stopDebounce() {
	o.debounceGen++
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
}

func (o *Orchestrator) startEstimate() {
	if o.phase == PhaseDone {
		return
	}
	if o.estimateCancel != nil {
		o.estimateCancel()
	}

	in := o.inputs()
	key := o.flow.ReuseKey(in)
	epoch := o.epoch
	req := fee.Request{
		Slot:     o.cfg.ScreenID,
		ReuseKey: key,
		Epoch:    epoch,
		Chain:    o.cfg.Asset.Ref.ChainID,
		Account:  o.cfg.Account,
		Tip:      o.tip,
		Builder:  o.flow.Builder(in),
	}

	ctx, cancel := context.WithCancel(o.ctx)
	o.estimateCancel = cancel
	o.feeErr = nil
	if o.phase != PhaseConfirming {
		o.phase = PhaseEstimating
	}

	o.l.Debug("estimating fee",
		zap.Uint64("epoch", epoch),
		zap.String("amount", o.amount.String()))

	go func() {
		quote, err := o.deps.Estimator.Estimate(ctx, req)
		o.post(func() {
			o.onEstimate(epoch, key, quote, err)
		})
	}()
}

func (o *Orchestrator) onEstimate(epoch uint64, key string, quote domain.FeeQuote, err error) {
	if epoch != o.epoch || key != o.flow.ReuseKey(o.inputs()) {
		return
	}
	if errors.Is(err, fee.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		o.quote = nil
		o.feeErr = err
		if o.phase == PhaseEstimating {
			o.phase = PhaseConfiguring
		}
		o.l.Warn("fee unavailable", zap.Error(err))
		return
	}

	o.quote = &quote
	o.lastFee = decimal.NewNullDecimal(quote.Amount)
	o.feeErr = nil
	if o.phase == PhaseEstimating || o.phase == PhaseConfiguring {
		o.phase = PhaseReady
	}
	// the first quote after a percentage was set must be reserved from the amount
	if o.percent.Valid && o.paysFeeInSpentAsset() {
		o.applyPercent()
	}
}

func (o *Orchestrator) fetchConstants() {
	refs := []domain.ChainAssetRef{o.cfg.Asset.Ref}
	if o.cfg.UtilityAsset.Ref != o.cfg.Asset.Ref {
		refs = append(refs, o.cfg.UtilityAsset.Ref)
	}

	for _, ref := range refs {
		go func(ref domain.ChainAssetRef) {
			ed, err := o.deps.Constants.ExistentialDeposit(o.ctx, ref)
			o.post(func() {
				if err != nil {
					o.l.Warn("failed to load existential deposit", zap.String("ref", ref.String()), zap.Error(err))
					return
				}
				if ref == o.cfg.Asset.Ref {
					o.ed = decimal.NewNullDecimal(ed)
				}
				if ref == o.cfg.UtilityAsset.Ref {
					o.utilityEd = decimal.NewNullDecimal(ed)
				}
			})
		}(ref)
	}
}

func (o *Orchestrator) onBalance(u hub.Update) {
	if u.Err != nil {
		o.balanceErr = u.Err
		return
	}
	if u.Account == nil {
		return
	}

	o.balanceErr = nil
	if u.Ref == o.cfg.Asset.Ref {
		o.balance = u.Account
	}
	if u.Ref == o.cfg.UtilityAsset.Ref {
		o.utilityBalance = u.Account
	}
	if u.Ref == o.cfg.Asset.Ref && o.percent.Valid {
		o.applyPercent()
	}
}

func (o *Orchestrator) onPrice(u hub.Update) {
	if u.Err != nil {
		o.priceErr = u.Err
		return
	}
	if u.Price == nil {
		return
	}

	o.priceErr = nil
	if u.Ref == o.cfg.Asset.Ref {
		o.price = u.Price
	}
	if u.Ref == o.cfg.UtilityAsset.Ref {
		o.utilityPrice = u.Price
	}
}

func (o *Orchestrator) available() decimal.NullDecimal {
	if o.balance == nil {
		return decimal.NullDecimal{}
	}
	if o.flow.Staking() {
		return decimal.NewNullDecimal(o.balance.StakingAvailable)
	}
	return decimal.NewNullDecimal(o.balance.Spendable)
}

// applyPercent derives the amount from the balance, the last known fee is reserved when paid from the same asset.
func (o *Orchestrator) applyPercent() {
	available := o.available()
	if !o.percent.Valid || !available.Valid {
		return
	}

	base := available.Decimal
	if o.paysFeeInSpentAsset() && o.lastFee.Valid {
		base = base.Sub(o.lastFee.Decimal).Sub(o.tip)
	}
	if base.IsNegative() {
		base = decimal.Zero
	}

	amount := base.Mul(o.percent.Decimal).Div(hundred).Truncate(o.cfg.Asset.Precision)
	o.setAmount(amount)
}

func (o *Orchestrator) paysFeeInSpentAsset() bool {
	return o.cfg.Asset.IsUtility() || o.cfg.Asset.Ref == o.cfg.UtilityAsset.Ref
}

func (o *Orchestrator) confirm() error {
	switch o.phase {
	case PhaseConfirming:
		return domain.ErrSubmissionInProgress
	case PhaseDone:
		return domain.ErrScreenDone
	}

	in := o.inputs()
	f := o.flow
	vin := validation.Input{
		Account:                   o.cfg.Account,
		Target:                    o.target,
		Asset:                     o.cfg.Asset,
		UtilityAsset:              o.cfg.UtilityAsset,
		Amount:                    o.amount,
		Tip:                       o.tip,
		ReuseKey:                  f.ReuseKey(in),
		Epoch:                     o.epoch,
		Fee:                       o.quote,
		Balance:                   o.balance,
		UtilityBalance:            o.utilityBalance,
		Staking:                   f.Staking(),
		ExistentialDeposit:        o.ed,
		UtilityExistentialDeposit: o.utilityEd,
		Reestimate: func() {
			o.stopDebounce()
			o.startEstimate()
		},
		RefetchConstants: o.fetchConstants,
	}

	validators := append(validation.Canonical(), f.Validators()...)

	err := validation.Run(vin, validators, func() {
		o.submit(&domain.ConfirmationRequest{
			ID:           uuid.NewString(),
			Flow:         f.Kind(),
			Account:      o.cfg.Account,
			Asset:        o.cfg.Asset,
			UtilityAsset: o.cfg.UtilityAsset,
			Amount:       o.amount,
			Target:       o.target,
			Tip:          o.tip,
			Fee:          *o.quote,
			Builder:      f.Builder(in),
			CreatedAt:    time.Now(),
		})
	})
	if err != nil {
		var failure *domain.ValidationFailure
		if errors.As(err, &failure) {
			o.validationErr = failure
			o.deps.Metrics.ValidationFailed(failure.Validator)
			o.l.Info("confirmation rejected",
				zap.String("validator", failure.Validator),
				zap.String("reason", failure.Reason))
			if failure.Recovery != nil {
				failure.Recovery()
			}
		}
		return err
	}

	return nil
}

func (o *Orchestrator) submit(req *domain.ConfirmationRequest) {
	o.phase = PhaseConfirming
	o.validationErr = nil
	o.submissionErr = nil

	o.l.Info("confirmed", zap.String("request", req.String()), zap.String("request_id", req.ID))

	go func() {
		res := o.deps.Submitter.Submit(o.ctx, req)
		o.post(func() {
			o.onSubmitted(res)
		})
	}()
}

func (o *Orchestrator) onSubmitted(res domain.SubmissionResult) {
	if res.Succeeded() {
		o.phase = PhaseDone
		o.txHash = res.TxHash
		o.stopDebounce()
		if o.estimateCancel != nil {
			o.estimateCancel()
			o.estimateCancel = nil
		}
		return
	}

	o.submissionErr = res.Err
	o.phase = PhaseConfiguring
	o.l.Warn("submission failed", zap.String("request_id", res.RequestID), zap.Error(res.Err))
}
