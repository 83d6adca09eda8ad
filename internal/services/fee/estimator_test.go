package fee

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	chainclientMock "github.com/vadiminshakov/txconfirm/mocks/chainclient"
	encoderMock "github.com/vadiminshakov/txconfirm/mocks/encoder"
)

func transferBuilder(amount string) domain.CallBuilder {
	return func(b domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		return b.AddCall(domain.Call{
			Module:   "Balances",
			Function: "transfer_keep_alive",
			Args:     map[string]any{"dest": "bob", "value": amount},
		}), nil
	}
}

func request(slot, key string, epoch uint64) Request {
	return Request{
		Slot:     slot,
		ReuseKey: key,
		Epoch:    epoch,
		Chain:    "polkadot",
		Account:  "alice",
		Builder:  transferBuilder(key),
	}
}

func (e *Estimator) waitersOf(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fl, ok := e.flights[key]; ok {
		return fl.waiters
	}
	return 0
}

func TestEstimate_ReturnsQuoteForInputs(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	encoder.On("Encode", mock.Anything, mock.MatchedBy(func(ext domain.Extrinsic) bool {
		return ext.Chain == "polkadot" && len(ext.Calls) == 1 && ext.Calls[0].Function == "transfer_keep_alive"
	})).Return([]byte("payload"), nil).Once()
	client.On("DryRunFee", mock.Anything, []byte("payload")).Return(decimal.RequireFromString("0.0158"), nil).Once()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	quote, err := e.Estimate(context.Background(), request("screen", "k1", 7))
	require.NoError(t, err)
	assert.Equal(t, "0.0158", quote.Amount.String())
	assert.Equal(t, "k1", quote.ReuseKey)
	assert.Equal(t, uint64(7), quote.Epoch)
	assert.True(t, quote.ValidFor("k1", 7))
	assert.False(t, quote.ValidFor("k1", 8))
}

func TestEstimate_SharesDryRunForEqualKeys(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	release := make(chan struct{})
	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil).Once()
	client.On("DryRunFee", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(decimal.RequireFromString("1.5"), nil).
		Once()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	const callers = 10
	var wg sync.WaitGroup
	quotes := make([]domain.FeeQuote, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quotes[i], errs[i] = e.Estimate(context.Background(), request(fmt.Sprintf("screen-%d", i), "same", uint64(i)))
		}(i)
	}

	require.Eventually(t, func() bool {
		return e.waitersOf("same") == callers
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "1.5", quotes[i].Amount.String())
		assert.Equal(t, uint64(i), quotes[i].Epoch)
	}
	client.AssertNumberOfCalls(t, "DryRunFee", 1)
}

func TestEstimate_DistinctKeysRunSeparately(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil).Twice()
	client.On("DryRunFee", mock.Anything, mock.Anything).Return(decimal.NewFromInt(1), nil).Twice()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	_, err := e.Estimate(context.Background(), request("a", "k1", 1))
	require.NoError(t, err)
	_, err = e.Estimate(context.Background(), request("b", "k2", 1))
	require.NoError(t, err)
}

func TestEstimate_LastRequestWinsPerSlot(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	started := make(chan struct{})
	firstCancelled := make(chan struct{})
	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil)
	client.On("DryRunFee", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ []byte) (decimal.Decimal, error) {
			close(started)
			<-ctx.Done()
			close(firstCancelled)
			return decimal.Zero, ctx.Err()
		}).Once()
	client.On("DryRunFee", mock.Anything, mock.Anything).Return(decimal.NewFromInt(3), nil).Once()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Estimate(context.Background(), request("screen", "old", 1))
		firstErr <- err
	}()
	<-started

	quote, err := e.Estimate(context.Background(), request("screen", "new", 2))
	require.NoError(t, err)
	assert.Equal(t, "new", quote.ReuseKey)
	assert.Equal(t, "3", quote.Amount.String())

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	select {
	case <-firstCancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded dry run was not cancelled")
	}
}

func TestEstimate_SupersededFlightKeptForOtherSlots(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	release := make(chan struct{})
	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil)
	client.On("DryRunFee", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ []byte) (decimal.Decimal, error) {
			select {
			case <-release:
				return decimal.NewFromInt(2), nil
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			}
		}).Twice()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	firstErr := make(chan error, 1)
	otherQuote := make(chan domain.FeeQuote, 1)
	go func() {
		_, err := e.Estimate(context.Background(), request("a", "shared", 1))
		firstErr <- err
	}()
	go func() {
		q, err := e.Estimate(context.Background(), request("b", "shared", 1))
		assert.NoError(t, err)
		otherQuote <- q
	}()
	require.Eventually(t, func() bool {
		return e.waitersOf("shared") == 2
	}, time.Second, time.Millisecond)

	mine := make(chan error, 1)
	go func() {
		_, err := e.Estimate(context.Background(), request("a", "mine", 2))
		mine <- err
	}()

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	close(release)

	q := <-otherQuote
	assert.Equal(t, "2", q.Amount.String())
	assert.NoError(t, <-mine)
}

func TestEstimate_FailureIsNotRetried(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil).Once()
	client.On("DryRunFee", mock.Anything, mock.Anything).Return(decimal.Zero, errors.New("runtime api unavailable")).Once()

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	_, err := e.Estimate(context.Background(), request("screen", "k", 1))

	var estErr *domain.EstimationError
	require.ErrorAs(t, err, &estErr)
	assert.Equal(t, "k", estErr.ReuseKey)
	assert.Contains(t, err.Error(), "runtime api unavailable")
}

func TestEstimate_UnresolvedDependency(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	e := NewEstimator(zap.NewNop(), encoder, client)
	defer e.Close()

	req := request("screen", "bond", 1)
	req.Builder = func(domain.ExtrinsicBuilder) (domain.ExtrinsicBuilder, error) {
		return domain.ExtrinsicBuilder{}, domain.ErrDependencyNotReady
	}

	_, err := e.Estimate(context.Background(), req)

	var estErr *domain.EstimationError
	require.ErrorAs(t, err, &estErr)
	assert.ErrorIs(t, err, domain.ErrDependencyNotReady)
}

func TestEstimate_TimeoutBoundsDryRun(t *testing.T) {
	encoder := encoderMock.NewEncoder(t)
	client := chainclientMock.NewChainClient(t)

	encoder.On("Encode", mock.Anything, mock.Anything).Return([]byte("payload"), nil).Once()
	client.On("DryRunFee", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ []byte) (decimal.Decimal, error) {
			<-ctx.Done()
			return decimal.Zero, ctx.Err()
		}).Once()

	e := NewEstimator(zap.NewNop(), encoder, client, WithTimeout(20*time.Millisecond))
	defer e.Close()

	_, err := e.Estimate(context.Background(), request("screen", "slow", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
