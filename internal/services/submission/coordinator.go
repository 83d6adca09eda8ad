// Package submission signs and broadcasts confirmed requests, at most once per request.
package submission

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	"github.com/vadiminshakov/txconfirm/internal/metrics"
	"github.com/vadiminshakov/txconfirm/internal/storage/submissions"
)

// Encoder produces the chain-specific payload of an unsigned transaction.
type Encoder interface {
	Encode(ctx context.Context, ext domain.Extrinsic) ([]byte, error)
}

// Signer signs encoded payloads.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Broadcaster submits signed transactions to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, signed []byte) (string, error)
}

// State of the coordinator.
type State int

const (
	StateIdle State = iota
	StateSigning
	StateBroadcasting
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSigning:
		return "signing"
	case StateBroadcasting:
		return "broadcasting"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Coordinator serializes submissions of one confirmation screen.
type Coordinator struct {
	l           *zap.Logger
	encoder     Encoder
	signer      Signer
	broadcaster Broadcaster
	journal     *submissions.Journal
	metrics     *metrics.Metrics

	mu        sync.Mutex
	state     State
	processed map[string]struct{}
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithJournal persists intents so interrupted submissions are not repeated after restart.
func WithJournal(j *submissions.Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithMetrics enables submission counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(l *zap.Logger, encoder Encoder, signer Signer, broadcaster Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		l:           l.With(zap.String("component", "submission")),
		encoder:     encoder,
		signer:      signer,
		broadcaster: broadcaster,
		processed:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Submit signs and broadcasts the request.
// It fails with domain.ErrSubmissionInProgress while another submission is signing or broadcasting
// and with domain.ErrRequestProcessed for a request that already reached an outcome.
func (c *Coordinator) Submit(ctx context.Context, req *domain.ConfirmationRequest) domain.SubmissionResult {
	if err := c.begin(req.ID); err != nil {
		c.metrics.Submission("rejected")
		return domain.SubmissionResult{RequestID: req.ID, Err: err}
	}

	l := c.l.With(zap.String("request_id", req.ID), zap.String("flow", req.Flow.String()))
	l.Info("submitting",
		zap.String("amount", req.Amount.String()),
		zap.String("asset", req.Asset.Symbol),
		zap.String("fee", req.Fee.Amount.String()))

	var intent *submissions.Intent
	if c.journal != nil {
		var err error
		intent, err = c.journal.Prepare(req)
		if err != nil {
			c.setState(StateIdle)
			c.metrics.Submission("rejected")
			if errors.Is(err, domain.ErrRequestProcessed) {
				return domain.SubmissionResult{RequestID: req.ID, Err: err}
			}
			return domain.SubmissionResult{RequestID: req.ID, Err: errors.Wrap(err, "journal submission intent")}
		}
	}

	hash, err := c.signAndBroadcast(ctx, req)
	if err != nil {
		c.setState(StateIdle)
		if jerr := c.journal.MarkFailed(intent, err); jerr != nil {
			l.Error("failed to journal submission failure", zap.Error(jerr))
		}
		c.recordFailure(l, err)
		return domain.SubmissionResult{RequestID: req.ID, Err: err}
	}

	c.setState(StateConfirmed)
	if jerr := c.journal.MarkDone(intent, hash); jerr != nil {
		l.Error("failed to journal submission", zap.Error(jerr))
	}
	c.metrics.Submission("confirmed")
	l.Info("transaction broadcast", zap.String("tx_hash", hash))

	return domain.SubmissionResult{RequestID: req.ID, TxHash: hash}
}

func (c *Coordinator) signAndBroadcast(ctx context.Context, req *domain.ConfirmationRequest) (string, error) {
	ext, err := req.Extrinsic()
	if err != nil {
		return "", errors.Wrap(err, "build extrinsic")
	}

	payload, err := c.encoder.Encode(ctx, ext)
	if err != nil {
		return "", errors.Wrap(err, "encode extrinsic")
	}

	signed, err := c.signer.Sign(ctx, payload)
	if err != nil {
		return "", &domain.SigningError{Err: err}
	}

	c.setState(StateBroadcasting)

	hash, err := c.broadcaster.Broadcast(ctx, signed)
	if err != nil {
		return "", &domain.BroadcastError{Err: err}
	}

	return hash, nil
}

func (c *Coordinator) begin(requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateSigning || c.state == StateBroadcasting {
		return domain.ErrSubmissionInProgress
	}
	if _, ok := c.processed[requestID]; ok {
		return domain.ErrRequestProcessed
	}

	c.processed[requestID] = struct{}{}
	c.state = StateSigning

	return nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}

func (c *Coordinator) recordFailure(l *zap.Logger, err error) {
	var signErr *domain.SigningError
	var broadcastErr *domain.BroadcastError

	switch {
	case errors.As(err, &signErr) && signErr.Cancelled():
		c.metrics.Submission("cancelled")
		l.Info("signing cancelled by user")
	case errors.As(err, &signErr):
		c.metrics.Submission("signing_failed")
		l.Warn("signing failed", zap.Error(err))
	case errors.As(err, &broadcastErr):
		c.metrics.Submission("broadcast_failed")
		l.Error("broadcast failed", zap.Error(err))
	default:
		c.metrics.Submission("failed")
		l.Error("submission failed", zap.Error(err))
	}
}
