package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

const dexResponse = `[
 {"chainId":"ethereum","baseToken":{"address":"0xToken","symbol":"TKN"},"priceUsd":"1.10","liquidity":{"usd":1000}},
 {"chainId":"ethereum","baseToken":{"address":"0xtoken","symbol":"TKN"},"priceUsd":"1.25","liquidity":{"usd":90000}},
 {"chainId":"ethereum","baseToken":{"address":"0xOther","symbol":"OTH"},"priceUsd":"7","liquidity":{"usd":500000}}
]`

func TestDEXScreenerClient_PicksMostLiquidPair(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(dexResponse))
	}))
	defer srv.Close()

	c := NewDEXScreenerClient(zap.NewNop(), srv.URL, time.Second)
	price, err := c.Price(context.Background(), domain.Asset{Symbol: "TKN", PriceID: "ethereum/0xToken"})
	require.NoError(t, err)
	require.True(t, price.Valid)
	assert.Equal(t, "1.25", price.Decimal.String())
	assert.Equal(t, "/tokens/v1/ethereum/0xToken", path)
}

func TestDEXScreenerClient_WrappedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[{"baseToken":{"address":"0xabc"},"priceUsd":"2"}]}`))
	}))
	defer srv.Close()

	c := NewDEXScreenerClient(zap.NewNop(), srv.URL, time.Second)
	price, err := c.Price(context.Background(), domain.Asset{PriceID: "bsc/0xabc"})
	require.NoError(t, err)
	assert.Equal(t, "2", price.Decimal.String())
}

func TestDEXScreenerClient_NoPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewDEXScreenerClient(zap.NewNop(), srv.URL, time.Second)

	price, err := c.Price(context.Background(), domain.Asset{PriceID: "ethereum/0xabc"})
	require.NoError(t, err)
	assert.False(t, price.Valid)

	price, err = c.Price(context.Background(), domain.Asset{Symbol: "XYZ"})
	require.NoError(t, err)
	assert.False(t, price.Valid)
}

func TestDEXScreenerClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewDEXScreenerClient(zap.NewNop(), srv.URL, time.Second)
	_, err := c.Price(context.Background(), domain.Asset{PriceID: "ethereum/0xabc"})
	require.ErrorContains(t, err, "429")
}
