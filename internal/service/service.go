// Package service assembles the governance engine from configuration:
// audit store, state controller, risk gate, emergency channel, query engine
// and reporter, plus the notification sinks they share.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/config"
	"github.com/Mutual-Roots/Ford-Perfect/internal/emergency"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/notify"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
	"github.com/Mutual-Roots/Ford-Perfect/internal/report"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
	"github.com/Mutual-Roots/Ford-Perfect/internal/telemetry"
)

// Service is one running governance engine.
type Service struct {
	Store      *audit.Store
	State      *state.Controller
	Gate       *gate.Gate
	Channel    *emergency.Channel
	Query      *query.Engine
	Reporter   *report.Reporter
	Hub        *notify.Hub
	Dispatcher *notify.Dispatcher

	logger *zap.Logger
}

// Options are the optional collaborators of Open.
type Options struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Clock   func() time.Time
}

// Open builds a Service from cfg and restores the operational state from
// the audit store.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	store, err := audit.Open(ctx, cfg.Audit.Dir, cfg.Audit.Backend,
		audit.WithLogger(logger.Named("audit")),
		audit.WithMetrics(opts.Metrics),
		audit.WithClock(now))
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub(logger.Named("hub"))
	dispatcher := notify.NewDispatcher(cfg.Alerts, cfg.AlertsRate, logger.Named("alerts"))
	sinks := notify.Multi{hub, dispatcher}

	ctrl := state.NewController(store,
		state.WithNotifier(sinks),
		state.WithLogger(logger.Named("state")),
		state.WithMetrics(opts.Metrics),
		state.WithClock(now))
	if err := ctrl.Restore(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("service: restore state: %w", err)
	}

	g := gate.New(store, ctrl,
		gate.WithNotifier(sinks),
		gate.WithLogger(logger.Named("gate")),
		gate.WithMetrics(opts.Metrics),
		gate.WithClock(now),
		gate.WithHighWindow(cfg.Gate.HighWindow))

	engine := query.New(store)
	s := &Service{
		Store:      store,
		State:      ctrl,
		Gate:       g,
		Channel:    emergency.New(ctrl, g, emergency.WithHub(hub), emergency.WithLogger(logger.Named("emergency"))),
		Query:      engine,
		Reporter:   report.New(engine, report.WithBudget(cfg.Report), report.WithNotifier(sinks), report.WithLogger(logger.Named("report")), report.WithClock(now)),
		Hub:        hub,
		Dispatcher: dispatcher,
		logger:     logger,
	}
	logger.Info("governance engine ready",
		zap.String("audit_dir", cfg.Audit.Dir),
		zap.String("backend", cfg.Audit.Backend),
		zap.String("state", ctrl.Snapshot().String()),
		zap.Int("records", store.Len()))
	return s, nil
}

// Reconfigure applies the settings that may change while running: alert
// destinations and the HIGH veto window. Pending approvals keep the window
// they were opened with.
func (s *Service) Reconfigure(cfg *config.Config) {
	s.Dispatcher.SetConfigs(cfg.Alerts)
	s.Gate.SetHighWindow(cfg.Gate.HighWindow)
	s.logger.Info("configuration reloaded",
		zap.Int("alerts", len(cfg.Alerts)),
		zap.Duration("high_window", cfg.Gate.HighWindow))
}

// Close waits for in-flight webhook deliveries and closes the store.
func (s *Service) Close() error {
	s.Dispatcher.Wait()
	return s.Store.Close()
}

// Inbox returns an emergency inbox over dir bound to this service.
func (s *Service) Inbox(dir string) *emergency.Inbox {
	return emergency.NewInbox(dir, s.Channel, s.logger.Named("inbox"))
}

// IsStorageFault reports whether err means the audit store could not record.
func IsStorageFault(err error) bool {
	return errors.Is(err, audit.ErrStorageUnavailable)
}
