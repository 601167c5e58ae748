// Package worker runs the two periodic jobs of the service: the reminder
// poller that fires due triggers and the daily digest poller.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/gateway"
	"github.com/lalithlochan/deadlines/internal/metrics"
)

// ReminderStore is the part of the repository the reminder poller needs.
type ReminderStore interface {
	DueTriggers(ctx context.Context, from, to time.Time) ([]*db.DueTrigger, error)
	OverdueTriggers(ctx context.Context, before time.Time) ([]*db.DueTrigger, error)
	MarkSent(ctx context.Context, triggerID uuid.UUID) (bool, error)
}

// ReminderConfig bounds the poll window and each delivery. Zero fields take defaults.
type ReminderConfig struct {
	Lookback        time.Duration // how far behind now a cycle still looks
	Lookahead       time.Duration // how far ahead of now a cycle fires early
	DeliveryTimeout time.Duration
}

// ReminderPoller drains due triggers. Each trigger is claimed with a
// conditional update before delivery, so overlapping cycles or replicas
// deliver it at most once. A failed delivery still leaves it sent.
type ReminderPoller struct {
	store  ReminderStore
	sender gateway.Sender
	config ReminderConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewReminderPoller builds a poller that reads from store and delivers through sender.
func NewReminderPoller(store ReminderStore, sender gateway.Sender, cfg ReminderConfig, logger *zap.Logger) *ReminderPoller {
	if cfg.Lookback == 0 {
		cfg.Lookback = 60 * time.Second
	}
	if cfg.Lookahead == 0 {
		cfg.Lookahead = 30 * time.Second
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}

	return &ReminderPoller{
		store:  store,
		sender: sender,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RunOnce fires every unsent trigger inside [now-Lookback, now+Lookahead]
// and returns how many this call claimed.
func (p *ReminderPoller) RunOnce(ctx context.Context) int {
	start := p.now()
	defer func() { metrics.ObservePoll("reminder", time.Since(start)) }()

	rows, err := p.store.DueTriggers(ctx, start.Add(-p.config.Lookback), start.Add(p.config.Lookahead))
	if err != nil {
		p.logger.Error("failed to query due triggers", zap.Error(err))
		return 0
	}
	return p.fireAll(ctx, rows)
}

// CatchUp fires every unsent trigger whose instant already passed. It runs
// once at startup to recover triggers missed while the process was down.
func (p *ReminderPoller) CatchUp(ctx context.Context) int {
	rows, err := p.store.OverdueTriggers(ctx, p.now())
	if err != nil {
		p.logger.Error("failed to query overdue triggers", zap.Error(err))
		return 0
	}
	if len(rows) > 0 {
		p.logger.Info("catching up on missed reminders", zap.Int("count", len(rows)))
	}
	return p.fireAll(ctx, rows)
}

func (p *ReminderPoller) fireAll(ctx context.Context, rows []*db.DueTrigger) int {
	claimed := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			p.logger.Info("reminder poller stopping mid-cycle", zap.Int("claimed", claimed))
			return claimed
		}
		if p.fire(ctx, row) {
			claimed++
		}
	}
	return claimed
}

func (p *ReminderPoller) fire(ctx context.Context, row *db.DueTrigger) bool {
	log := p.logger.With(
		zap.String("trigger_id", row.Trigger.ID.String()),
		zap.String("event_id", row.Event.ID.String()),
		zap.String("tenant_id", row.Event.TenantID),
	)

	ok, err := p.store.MarkSent(ctx, row.Trigger.ID)
	if err != nil {
		log.Error("failed to claim trigger", zap.Error(err))
		return false
	}
	if !ok {
		log.Debug("trigger already claimed")
		return false
	}

	msg := renderReminder(row)
	lag := p.now().Sub(row.Trigger.FireAt)

	sendCtx, cancel := context.WithTimeout(ctx, p.config.DeliveryTimeout)
	defer cancel()

	if err := p.sender.Send(sendCtx, msg); err != nil {
		log.Error("failed to deliver reminder",
			zap.String("channel", msg.Destination.Channel),
			zap.Error(err),
		)
		metrics.RecordReminder("failed", msg.Destination.Channel, lag)
		return true
	}

	log.Info("reminder delivered",
		zap.String("channel", msg.Destination.Channel),
		zap.Time("fire_at", row.Trigger.FireAt),
		zap.Duration("lag", lag),
	)
	metrics.RecordReminder("delivered", msg.Destination.Channel, lag)
	return true
}
