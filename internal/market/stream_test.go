package market

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchUpdatesSnapshotAndInvokesHandler(t *testing.T) {
	s := NewKlineStream("BTCUSDT", "3m", nil)

	var received []Kline
	s.OnKline(func(k Kline) { received = append(received, k) })

	s.dispatch(&futures.WsKlineEvent{Kline: futures.WsKline{
		StartTime: 1700000000000,
		Open:      "64900.0",
		High:      "65100.0",
		Low:       "64800.0",
		Close:     "65000.0",
		Volume:    "123.45",
		IsFinal:   false,
	}})
	s.dispatch(&futures.WsKlineEvent{Kline: futures.WsKline{
		StartTime: 1700000000000,
		Open:      "64900.0",
		High:      "65200.0",
		Low:       "64800.0",
		Close:     "65150.0",
		Volume:    "200.0",
		IsFinal:   true,
	}})

	require.Len(t, received, 2, "handler sees every update, closed or not")
	assert.False(t, received[0].IsClosed)
	assert.True(t, received[1].IsClosed)
	assert.Equal(t, int64(1700000000000), received[1].OpenTime)
	assert.Equal(t, 65150.0, received[1].Close)

	assert.Equal(t, 65150.0, s.CurrentPrice())
	assert.Equal(t, 200.0, s.CurrentVolume())
}

func TestDispatchWithoutHandler(t *testing.T) {
	s := NewKlineStream("BTCUSDT", "3m", nil)

	// No handler registered; snapshot still updates
	s.dispatch(&futures.WsKlineEvent{Kline: futures.WsKline{
		Close: "65000.0", Volume: "10.0",
	}})
	assert.Equal(t, 65000.0, s.CurrentPrice())
}

func TestMicrostructureWithoutCollector(t *testing.T) {
	s := NewKlineStream("BTCUSDT", "3m", nil)
	assert.Equal(t, Metrics{}, s.Microstructure())
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	s := NewKlineStream("BTCUSDT", "3m", nil)
	s.Stop()
	s.Stop()
}
