package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu      sync.Mutex
	name    string
	sendErr error
	sent    []Alert
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, alert)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, LevelCritical.AtLeast(LevelWarning))
	assert.True(t, LevelWarning.AtLeast(LevelWarning))
	assert.False(t, LevelInfo.AtLeast(LevelWarning))
	assert.True(t, LevelInfo.AtLeast(LevelInfo))
}

func TestPublishDropsBelowMinLevel(t *testing.T) {
	n := NewNotifier(NotifierConfig{MinLevel: LevelWarning}, &fakeChannel{name: "a"})

	n.Publish(Alert{Level: LevelInfo, Title: "hold streak"})
	assert.Empty(t, n.queue)

	n.Publish(Alert{Level: LevelCritical, Title: "severe"})
	assert.Len(t, n.queue, 1)
}

func TestDispatchSendsToAllChannels(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	n := NewNotifier(NotifierConfig{MinLevel: LevelInfo}, a, b)

	n.dispatch(context.Background(), Alert{Level: LevelWarning, Title: "mode change"})

	assert.Equal(t, 1, a.sentCount())
	assert.Equal(t, 1, b.sentCount())
}

func TestDispatchCooldownPerChannel(t *testing.T) {
	a := &fakeChannel{name: "a"}
	n := NewNotifier(NotifierConfig{MinLevel: LevelInfo, Cooldown: 5 * time.Minute}, a)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.clock = func() time.Time { return now }

	n.dispatch(context.Background(), Alert{Level: LevelWarning, Title: "first"})
	require.Equal(t, 1, a.sentCount())

	// Inside the cooldown window nothing goes out
	now = now.Add(4 * time.Minute)
	n.dispatch(context.Background(), Alert{Level: LevelCritical, Title: "suppressed"})
	assert.Equal(t, 1, a.sentCount())

	// Past the window delivery resumes
	now = now.Add(2 * time.Minute)
	n.dispatch(context.Background(), Alert{Level: LevelWarning, Title: "third"})
	assert.Equal(t, 2, a.sentCount())
}

func TestDispatchFailureDoesNotStartCooldown(t *testing.T) {
	a := &fakeChannel{name: "a", sendErr: errors.New("telegram 502")}
	n := NewNotifier(NotifierConfig{MinLevel: LevelInfo, Cooldown: 5 * time.Minute}, a)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.clock = func() time.Time { return now }

	n.dispatch(context.Background(), Alert{Level: LevelWarning, Title: "fails"})
	assert.Equal(t, 0, a.sentCount())

	// A failed delivery must not suppress the retry
	a.mu.Lock()
	a.sendErr = nil
	a.mu.Unlock()
	now = now.Add(time.Second)
	n.dispatch(context.Background(), Alert{Level: LevelWarning, Title: "retry"})
	assert.Equal(t, 1, a.sentCount())
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	n := NewNotifier(NotifierConfig{MinLevel: LevelInfo, QueueSize: 2}, &fakeChannel{name: "a"})

	for i := 0; i < 5; i++ {
		n.Publish(Alert{Level: LevelWarning, Title: "burst"})
	}
	assert.Len(t, n.queue, 2, "overflow is dropped, never blocks")
}

func TestNotifierStartStop(t *testing.T) {
	a := &fakeChannel{name: "a"}
	n := NewNotifier(NotifierConfig{MinLevel: LevelInfo}, a)

	n.Start(context.Background())
	n.Start(context.Background()) // idempotent

	n.Publish(Alert{Level: LevelWarning, Title: "delivered"})
	require.Eventually(t, func() bool { return a.sentCount() == 1 }, time.Second, 5*time.Millisecond)

	n.Stop()
	n.Stop()
}

func TestRiskAlertSeverity(t *testing.T) {
	severe := RiskAlert("SEVERE", "drawdown 7.1% >= 6.5%", 0.45, map[string]interface{}{"drawdown_pct": 7.1})
	assert.Equal(t, LevelCritical, severe.Level)
	assert.Equal(t, "SEVERE", severe.Mode)
	assert.Equal(t, 0.45, severe.RiskBias)

	caution := RiskAlert("CAUTION", "loss streak caution", 0.70, nil)
	assert.Equal(t, LevelWarning, caution.Level)
}
