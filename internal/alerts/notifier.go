package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/metrics"
)

const (
	defaultQueueSize = 64
	defaultCooldown  = 5 * time.Minute
	sendTimeout      = 10 * time.Second
)

// NotifierConfig tunes filtering and queueing
type NotifierConfig struct {
	MinLevel  Level
	Cooldown  time.Duration // per-channel gap between deliveries
	QueueSize int
}

// Notifier fans alerts out to channels from a single worker. Publish
// never blocks: below-threshold alerts are dropped, and a full queue
// drops the newest alert with a warning. Each channel is rate-limited
// by the cooldown so repeated mode flaps cannot storm a destination.
type Notifier struct {
	channels []Channel
	cfg      NotifierConfig

	queue  chan Alert
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastSent map[string]time.Time
	running  bool

	clock func() time.Time
	log   zerolog.Logger
}

// NewNotifier creates a notifier over the given channels
func NewNotifier(cfg NotifierConfig, channels ...Channel) *Notifier {
	if cfg.MinLevel == "" {
		cfg.MinLevel = LevelWarning
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Notifier{
		channels: channels,
		cfg:      cfg,
		queue:    make(chan Alert, cfg.QueueSize),
		lastSent: make(map[string]time.Time),
		clock:    time.Now,
		log:      log.With().Str("component", "alert_notifier").Logger(),
	}
}

// Start launches the dispatch worker. Idempotent.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.running = true
	n.cancel = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case alert := <-n.queue:
				metrics.AlertQueueDepth.Set(float64(len(n.queue)))
				n.dispatch(runCtx, alert)
			}
		}
	}()
}

// Stop halts the worker. Queued alerts that were not yet dispatched are
// dropped.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	cancel := n.cancel
	n.mu.Unlock()

	cancel()
	n.wg.Wait()
}

// Publish enqueues an alert without blocking
func (n *Notifier) Publish(alert Alert) {
	if !alert.Level.AtLeast(n.cfg.MinLevel) {
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = n.clock().UTC()
	}

	select {
	case n.queue <- alert:
		metrics.AlertQueueDepth.Set(float64(len(n.queue)))
	default:
		n.log.Warn().Str("title", alert.Title).Msg("Alert queue full, dropping alert")
	}
}

// dispatch sends one alert to every channel outside its cooldown
func (n *Notifier) dispatch(ctx context.Context, alert Alert) {
	now := n.clock()

	for _, channel := range n.channels {
		name := channel.Name()

		n.mu.Lock()
		last, seen := n.lastSent[name]
		suppressed := seen && now.Sub(last) < n.cfg.Cooldown
		n.mu.Unlock()

		if suppressed {
			metrics.AlertsSent.WithLabelValues(name, "suppressed").Inc()
			n.log.Debug().
				Str("channel", name).
				Str("title", alert.Title).
				Msg("Alert suppressed by channel cooldown")
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := channel.Send(sendCtx, alert)
		cancel()

		if err != nil {
			metrics.AlertsSent.WithLabelValues(name, "failed").Inc()
			n.log.Error().Err(err).
				Str("channel", name).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			continue
		}

		n.mu.Lock()
		n.lastSent[name] = now
		n.mu.Unlock()
		metrics.AlertsSent.WithLabelValues(name, "sent").Inc()
	}
}
