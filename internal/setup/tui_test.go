package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/txconfirm/config"
	"github.com/vadiminshakov/txconfirm/internal/domain"
)

func TestGenerate_SimulateConfigLoads(t *testing.T) {
	data, err := Generate(Answers{
		Mode: "simulate", Account: "alice", ChainID: "polkadot", Symbol: "DOT",
		Precision: "10", Deposit: "1", Fund: "100", Price: "6.5", Flow: "transfer",
	})
	require.NoError(t, err)

	cfg, err := config.Parse(data)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Simulate)
	assert.Equal(t, domain.ChainAssetRef{ChainID: "polkadot"}, cfg.Asset)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, "100", cfg.Assets[0].Fund.String())
	assert.Equal(t, domain.FlowTransfer, cfg.Flow.Kind)
}

func TestGenerate_EVMConfig(t *testing.T) {
	data, err := Generate(Answers{
		Mode: "evm", ChainID: "1", Symbol: "ETH", Precision: "18", Deposit: "0",
		Price: "3000", RPCURL: "https://rpc.example", Flow: "transfer",
	})
	require.NoError(t, err)

	cfg, err := config.Parse(data)
	require.NoError(t, err)
	assert.False(t, cfg.Simulate)
	n, ok := cfg.Network("1")
	require.True(t, ok)
	assert.Equal(t, "https://rpc.example", n.RPCURL)
}

func TestGenerate_InvalidPrecision(t *testing.T) {
	_, err := Generate(Answers{Precision: "x"})
	require.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.Error(t, validateDecimal("-1"))
	assert.Error(t, validateDecimal("abc"))
	assert.NoError(t, validateDecimal("0.5"))
	assert.Error(t, validatePrecision("40"))
	assert.NoError(t, validatePrecision("18"))
	assert.Error(t, notEmpty("x")(" "))
}
