package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DigestGuardTTL keeps a claim long enough to cover the whole local day in
// any timezone plus clock skew.
const DigestGuardTTL = 48 * time.Hour

// DigestGuard is a durable once-per-day claim for tenant digests. It survives
// restarts of the service, unlike the in-process guard.
type DigestGuard struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDigestGuard creates a guard; ttl <= 0 uses DigestGuardTTL.
func NewDigestGuard(client *Client, ttl time.Duration, logger *zap.Logger) *DigestGuard {
	if ttl <= 0 {
		ttl = DigestGuardTTL
	}
	return &DigestGuard{client: client, ttl: ttl, logger: logger}
}

// ClaimDigest atomically marks (tenant, localDate) as taken with SET NX.
// It returns true only for the first caller.
func (g *DigestGuard) ClaimDigest(ctx context.Context, tenantID, localDate string) (bool, error) {
	key := g.client.key("digest", tenantID, localDate)

	set, err := g.client.rdb.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		g.logger.Debug("digest already claimed",
			zap.String("tenant_id", tenantID),
			zap.String("local_date", localDate),
		)
	}
	return set, nil
}

// Release drops a claim. Used by operators to re-run a day's digest.
func (g *DigestGuard) Release(ctx context.Context, tenantID, localDate string) error {
	if err := g.client.rdb.Del(ctx, g.client.key("digest", tenantID, localDate)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
