package submissions

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

func request(id string) *domain.ConfirmationRequest {
	return &domain.ConfirmationRequest{
		ID:      id,
		Flow:    domain.FlowTransfer,
		Account: "alice",
		Asset: domain.Asset{
			Ref:    domain.ChainAssetRef{ChainID: "polkadot", AssetID: 0},
			Symbol: "DOT",
		},
		Amount:    decimal.RequireFromString("1.5"),
		Target:    "bob",
		Fee:       domain.FeeQuote{Amount: decimal.RequireFromString("0.0158")},
		CreatedAt: time.Now(),
	}
}

func TestJournal_Lifecycle(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	intent, err := j.Prepare(request("r1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, intent.Status)
	assert.True(t, j.Known("r1"))
	assert.Len(t, j.Pending(), 1)

	require.NoError(t, j.MarkDone(intent, "0xabc"))
	assert.Empty(t, j.Pending())

	_, err = j.Prepare(request("r1"))
	assert.ErrorIs(t, err, domain.ErrRequestProcessed)
}

func TestJournal_RecoversAfterRestart(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	done, err := j.Prepare(request("done"))
	require.NoError(t, err)
	require.NoError(t, j.MarkDone(done, "0x1"))

	failed, err := j.Prepare(request("failed"))
	require.NoError(t, err)
	require.NoError(t, j.MarkFailed(failed, errors.New("node rejected")))

	_, err = j.Prepare(request("interrupted"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	intents := reopened.Intents()
	require.Len(t, intents, 3)

	byID := make(map[string]Intent)
	for _, intent := range intents {
		byID[intent.RequestID] = intent
	}
	assert.Equal(t, StatusDone, byID["done"].Status)
	assert.Equal(t, "0x1", byID["done"].TxHash)
	assert.Equal(t, StatusFailed, byID["failed"].Status)
	assert.Equal(t, "node rejected", byID["failed"].Error)
	assert.Equal(t, "1.5", byID["interrupted"].Amount.String())

	pending := reopened.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "interrupted", pending[0].RequestID)

	for _, id := range []string{"done", "failed", "interrupted"} {
		assert.True(t, reopened.Known(id))
	}
}
