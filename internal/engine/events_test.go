package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectMapping(t *testing.T) {
	p := &NATSPublisher{prefix: "tradewind.events"}

	assert.Equal(t, "tradewind.events.agent_output", p.subject(EventAgentOutput))
	assert.Equal(t, "tradewind.events.reasoning.new", p.subject(EventReasoning))
	assert.Equal(t, "tradewind.events.risk.blocked", p.subject(EventRiskBlocked))
	assert.Equal(t, "tradewind.events.risk.mode_changed", p.subject(EventModeChanged))
}

func TestNATSPublisherPublishes(t *testing.T) {
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	defer ns.Shutdown()

	publisher, err := NewNATSPublisher(ns.ClientURL(), "test.events")
	require.NoError(t, err)
	defer publisher.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("test.events.>", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	publisher.Observe(EventRiskBlocked, map[string]any{
		"symbol": "BTCUSDT",
		"mode":   "SEVERE",
		"reason": "drawdown 7.1% >= 6.5%",
	})

	select {
	case msg := <-received:
		assert.Equal(t, "test.events.risk.blocked", msg.Subject)

		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		assert.Equal(t, "risk:blocked", body["event"])
		payload := body["payload"].(map[string]any)
		assert.Equal(t, "SEVERE", payload["mode"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
