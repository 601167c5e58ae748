package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/gateway"
	"github.com/lalithlochan/deadlines/internal/metrics"
)

const dateLayout = "2006-01-02"

// DigestStore is the part of the repository the digest poller reads.
type DigestStore interface {
	ListDigestTenants(ctx context.Context) ([]*db.TenantConfig, error)
	ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]*db.DeadlineEvent, error)
}

// DigestClaimer is a durable once-per-day claim, shared across restarts and
// replicas. db.Repository and redis.DigestGuard both implement it.
type DigestClaimer interface {
	ClaimDigest(ctx context.Context, tenantID, localDate string) (bool, error)
}

// DigestConfig controls the digest window and delivery timeout.
type DigestConfig struct {
	// HorizonDays is how many calendar days ahead a digest looks, counted
	// on the tenant's wall clock so DST changes do not shift the window.
	HorizonDays     int
	DeliveryTimeout time.Duration
}

// DigestPoller sends each configured tenant one summary per local day at the
// tenant's digest time.
type DigestPoller struct {
	store   DigestStore
	claimer DigestClaimer
	guard   *MemoryGuard
	sender  gateway.Sender
	config  DigestConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewDigestPoller builds a poller. claimer may be nil, in which case only the
// in-process guard applies. A nil guard gets a fresh one.
func NewDigestPoller(store DigestStore, claimer DigestClaimer, guard *MemoryGuard, sender gateway.Sender, cfg DigestConfig, logger *zap.Logger) *DigestPoller {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 7
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}

	return &DigestPoller{
		store:   store,
		claimer: claimer,
		guard:   guard,
		sender:  sender,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Guard exposes the in-process guard the poller owns.
func (p *DigestPoller) Guard() *MemoryGuard {
	return p.guard
}

// Close releases the guard. The poller must not run afterwards.
func (p *DigestPoller) Close() {
	p.guard.Reset()
}

// RunOnce evaluates every tenant with a digest destination and returns how
// many digests were delivered.
func (p *DigestPoller) RunOnce(ctx context.Context) int {
	start := p.now()
	defer func() { metrics.ObservePoll("digest", time.Since(start)) }()

	tenants, err := p.store.ListDigestTenants(ctx)
	if err != nil {
		p.logger.Error("failed to list digest tenants", zap.Error(err))
		return 0
	}

	if n := p.guard.Prune(start.UTC().AddDate(0, 0, -2).Format(dateLayout)); n > 0 {
		p.logger.Debug("pruned digest guard", zap.Int("removed", n), zap.Int("remaining", p.guard.Len()))
	}

	delivered := 0
	for _, cfg := range tenants {
		if ctx.Err() != nil {
			return delivered
		}
		if p.runTenant(ctx, start, cfg) {
			delivered++
		}
	}
	return delivered
}

func (p *DigestPoller) runTenant(ctx context.Context, now time.Time, cfg *db.TenantConfig) bool {
	log := p.logger.With(zap.String("tenant_id", cfg.TenantID))

	loc, ok := db.Location(cfg.Timezone)
	if !ok {
		log.Warn("invalid tenant timezone, using UTC", zap.String("timezone", cfg.Timezone))
	}
	hour, minute, ok := parseDigestTime(cfg.DigestTime)
	if !ok {
		log.Warn("invalid digest time, using default",
			zap.String("digest_time", cfg.DigestTime),
			zap.String("default", db.DefaultDigestTime),
		)
	}

	local := now.In(loc)
	if local.Hour() != hour || local.Minute() != minute {
		return false
	}

	localDate := local.Format(dateLayout)
	log = log.With(zap.String("local_date", localDate))

	if !p.guard.TryAdd(cfg.TenantID, localDate) {
		metrics.RecordDigest("duplicate")
		return false
	}
	if p.claimer != nil {
		claimed, err := p.claimer.ClaimDigest(ctx, cfg.TenantID, localDate)
		if err != nil {
			log.Error("failed to claim digest", zap.Error(err))
			metrics.RecordDigest("failed")
			return false
		}
		if !claimed {
			log.Info("digest already sent today")
			metrics.RecordDigest("duplicate")
			return false
		}
	}

	events, err := p.store.ListEvents(ctx, cfg.TenantID, now, local.AddDate(0, 0, p.config.HorizonDays))
	if err != nil {
		log.Error("failed to list upcoming deadlines", zap.Error(err))
		metrics.RecordDigest("failed")
		return false
	}
	if len(events) == 0 {
		metrics.RecordDigest("empty")
		return false
	}

	msg := renderDigest(cfg, localDate, p.config.HorizonDays, events)

	sendCtx, cancel := context.WithTimeout(ctx, p.config.DeliveryTimeout)
	defer cancel()

	if err := p.sender.Send(sendCtx, msg); err != nil {
		log.Error("failed to deliver digest",
			zap.String("channel", msg.Destination.Channel),
			zap.Error(err),
		)
		metrics.RecordDigest("failed")
		return false
	}

	log.Info("digest delivered", zap.Int("deadlines", len(events)))
	metrics.RecordDigest("delivered")
	return true
}

// parseDigestTime reads "HH:MM". Anything else yields the 09:00 default and ok=false.
func parseDigestTime(hhmm string) (hour, minute int, ok bool) {
	if hhmm == "" {
		return 9, 0, true
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 9, 0, false
	}
	return t.Hour(), t.Minute(), true
}
