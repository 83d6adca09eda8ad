package constants

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
	constantsMock "github.com/vadiminshakov/txconfirm/mocks/constants"
)

var dot = domain.ChainAssetRef{ChainID: "polkadot"}

func TestStatic(t *testing.T) {
	s := Static{dot: decimal.NewFromInt(1)}

	ed, err := s.ExistentialDeposit(context.Background(), dot)
	require.NoError(t, err)
	assert.Equal(t, "1", ed.String())

	_, err = s.ExistentialDeposit(context.Background(), domain.ChainAssetRef{ChainID: "kusama"})
	assert.Error(t, err)
}

func TestCachedProvider_CachesSourceValue(t *testing.T) {
	source := constantsMock.NewProvider(t)
	source.On("ExistentialDeposit", mock.Anything, dot).Return(decimal.RequireFromString("0.01"), nil).Once()

	p := NewCachedProvider(zap.NewNop(), source, time.Minute)

	for i := 0; i < 3; i++ {
		ed, err := p.ExistentialDeposit(context.Background(), dot)
		require.NoError(t, err)
		assert.Equal(t, "0.01", ed.String())
	}
}

func TestCachedProvider_ErrorsAreNotCached(t *testing.T) {
	source := constantsMock.NewProvider(t)
	source.On("ExistentialDeposit", mock.Anything, dot).Return(decimal.Zero, errors.New("rpc timeout")).Once()
	source.On("ExistentialDeposit", mock.Anything, dot).Return(decimal.NewFromInt(1), nil).Once()

	p := NewCachedProvider(zap.NewNop(), source, time.Minute)

	_, err := p.ExistentialDeposit(context.Background(), dot)
	require.Error(t, err)

	ed, err := p.ExistentialDeposit(context.Background(), dot)
	require.NoError(t, err)
	assert.Equal(t, "1", ed.String())
}

func TestCachedProvider_Invalidate(t *testing.T) {
	source := constantsMock.NewProvider(t)
	source.On("ExistentialDeposit", mock.Anything, dot).Return(decimal.NewFromInt(1), nil).Twice()

	p := NewCachedProvider(zap.NewNop(), source, time.Minute)

	_, err := p.ExistentialDeposit(context.Background(), dot)
	require.NoError(t, err)
	p.Invalidate(dot)
	_, err = p.ExistentialDeposit(context.Background(), dot)
	require.NoError(t, err)
}
