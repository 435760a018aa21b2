package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const deliveryTimeout = 30 * time.Second

// Dispatcher fans events out to matching webhook configurations. Deliveries
// run in goroutines and share one rate limit.
type Dispatcher struct {
	mu      sync.RWMutex
	configs []WebhookConfig
	limiter *rate.Limiter
	sender  *Sender
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. perSecond <= 0 disables rate limiting.
func NewDispatcher(configs []WebhookConfig, perSecond float64, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &Dispatcher{
		configs: configs,
		limiter: rate.NewLimiter(limit, burst),
		sender:  NewSender(),
		logger:  logger,
	}
}

// SetConfigs replaces the webhook destinations.
func (d *Dispatcher) SetConfigs(configs []WebhookConfig) {
	d.mu.Lock()
	d.configs = configs
	d.mu.Unlock()
}

// Configs returns the current destinations.
func (d *Dispatcher) Configs() []WebhookConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.configs
}

// Notify sends the event to every webhook whose Events list matches.
// It does not block the caller.
func (d *Dispatcher) Notify(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, cfg := range d.Configs() {
		if !cfg.matches(event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg WebhookConfig) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := d.limiter.Wait(ctx); err != nil {
				d.logger.Warn("webhook delivery rate limited",
					zap.String("url", cfg.URL), zap.String("event", string(event.Type)), zap.Error(err))
				return
			}
			if err := d.sender.Send(ctx, cfg, event); err != nil {
				d.logger.Warn("webhook delivery failed",
					zap.String("url", cfg.URL), zap.String("event", string(event.Type)), zap.Error(err))
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery finishes.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
