package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a tenant-scoped lookup has no match.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for deadlines, triggers and tenant config
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const eventColumns = `e.id, e.tenant_id, e.name, e.description, e.due_at, e.timezone,
	e.dest_channel, e.dest_address, e.dest_mention, e.created_by, e.created_at`

const triggerColumns = `t.id, t.event_id, t.fire_at, t.sent, t.custom, t.message`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner, extra ...any) (*DeadlineEvent, error) {
	var ev DeadlineEvent
	var due, created int64
	dest := []any{
		&ev.ID, &ev.TenantID, &ev.Name, &ev.Description, &due, &ev.Timezone,
		&ev.Destination.Channel, &ev.Destination.Address, &ev.Destination.Mention,
		&ev.CreatedBy, &created,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	ev.DueAt = time.Unix(due, 0).UTC()
	ev.CreatedAt = time.Unix(created, 0).UTC()
	return &ev, nil
}

// CreateEvent inserts an event and all of its triggers in one transaction,
// so the reminder poller never sees a partially created deadline.
func (r *Repository) CreateEvent(ctx context.Context, ev *DeadlineEvent, triggers []*ReminderTrigger) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO deadline_events (
			id, tenant_id, name, description, due_at, timezone,
			dest_channel, dest_address, dest_mention, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.TenantID, ev.Name, ev.Description, ev.DueAt.Unix(), ev.Timezone,
		ev.Destination.Channel, ev.Destination.Address, ev.Destination.Mention,
		ev.CreatedBy, ev.CreatedAt.Unix(),
	)
	if err != nil {
		r.logger.Error("failed to create deadline event",
			zap.Error(err),
			zap.String("event_id", ev.ID.String()),
		)
		return fmt.Errorf("insert deadline event: %w", err)
	}

	for _, t := range triggers {
		t.EventID = ev.ID
		if err := r.insertTrigger(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	r.logger.Info("deadline event created",
		zap.String("event_id", ev.ID.String()),
		zap.String("tenant_id", ev.TenantID),
		zap.Int("triggers", len(triggers)),
	)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repository) insertTrigger(ctx context.Context, ex execer, t *ReminderTrigger) error {
	_, err := ex.ExecContext(ctx, r.db.rebind(`
		INSERT INTO reminder_triggers (id, event_id, fire_at, sent, custom, message)
		VALUES (?, ?, ?, ?, ?, ?)`),
		t.ID, t.EventID, t.FireAt.Unix(), t.Sent, t.Custom, t.Message,
	)
	if err != nil {
		return fmt.Errorf("insert reminder trigger: %w", err)
	}
	return nil
}

// AddTriggers attaches triggers to an existing event of the tenant. All of
// them are inserted in one transaction or none are.
func (r *Repository) AddTriggers(ctx context.Context, tenantID string, eventID uuid.UUID, triggers []*ReminderTrigger) error {
	// ownership is checked before the tx: sqlite runs on a single connection
	if _, err := r.GetEvent(ctx, tenantID, eventID); err != nil {
		return err
	}

	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range triggers {
		t.EventID = eventID
		if err := r.insertTrigger(ctx, tx, t); err != nil {
			r.logger.Error("failed to add reminder triggers",
				zap.Error(err),
				zap.String("event_id", eventID.String()),
			)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MarkSent flips a trigger from unsent to sent. It returns true only for the
// call that performed the flip, which lets pollers use it as a claim.
func (r *Repository) MarkSent(ctx context.Context, triggerID uuid.UUID) (bool, error) {
	res, err := r.db.sql.ExecContext(ctx,
		r.db.rebind(`UPDATE reminder_triggers SET sent = TRUE WHERE id = ? AND sent = FALSE`),
		triggerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark trigger sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// DueTriggers returns unsent triggers with fire_at in [from, to], oldest first.
func (r *Repository) DueTriggers(ctx context.Context, from, to time.Time) ([]*DueTrigger, error) {
	return r.queryDue(ctx, `t.fire_at >= ? AND t.fire_at <= ?`, from.Unix(), to.Unix())
}

// OverdueTriggers returns every unsent trigger with fire_at before the given instant.
func (r *Repository) OverdueTriggers(ctx context.Context, before time.Time) ([]*DueTrigger, error) {
	return r.queryDue(ctx, `t.fire_at < ?`, before.Unix())
}

func (r *Repository) queryDue(ctx context.Context, cond string, args ...any) ([]*DueTrigger, error) {
	query := `SELECT ` + eventColumns + `, ` + triggerColumns + `
		FROM reminder_triggers t
		JOIN deadline_events e ON e.id = t.event_id
		WHERE t.sent = FALSE AND ` + cond + `
		ORDER BY t.fire_at ASC`

	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query due triggers: %w", err)
	}
	defer rows.Close()

	var out []*DueTrigger
	for rows.Next() {
		var t ReminderTrigger
		var fire int64
		ev, err := scanEvent(rows, &t.ID, &t.EventID, &fire, &t.Sent, &t.Custom, &t.Message)
		if err != nil {
			return nil, fmt.Errorf("scan due trigger: %w", err)
		}
		t.FireAt = time.Unix(fire, 0).UTC()
		out = append(out, &DueTrigger{Trigger: t, Event: *ev})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// GetEvent retrieves one event scoped to the tenant.
func (r *Repository) GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (*DeadlineEvent, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(`
		SELECT `+eventColumns+`
		FROM deadline_events e
		WHERE e.id = ? AND e.tenant_id = ?`),
		id, tenantID,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deadline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query deadline event: %w", err)
	}
	return ev, nil
}

// DeleteEvent removes an event and its triggers.
func (r *Repository) DeleteEvent(ctx context.Context, tenantID string, id uuid.UUID) error {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// explicit child delete so the cascade does not depend on driver pragmas
	if _, err := tx.ExecContext(ctx, r.db.rebind(`
		DELETE FROM reminder_triggers
		WHERE event_id IN (SELECT id FROM deadline_events WHERE id = ? AND tenant_id = ?)`),
		id, tenantID,
	); err != nil {
		return fmt.Errorf("delete reminder triggers: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		r.db.rebind(`DELETE FROM deadline_events WHERE id = ? AND tenant_id = ?`),
		id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete deadline event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deadline %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	r.logger.Info("deadline event deleted",
		zap.String("event_id", id.String()),
		zap.String("tenant_id", tenantID),
	)
	return nil
}

// ListEvents returns the tenant's events with due_at in [from, to] ordered by
// due time. A zero to means no upper bound.
func (r *Repository) ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]*DeadlineEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM deadline_events e
		WHERE e.tenant_id = ? AND e.due_at >= ?`
	args := []any{tenantID, from.Unix()}
	if !to.IsZero() {
		query += ` AND e.due_at <= ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY e.due_at ASC`

	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query deadline events: %w", err)
	}
	defer rows.Close()

	var out []*DeadlineEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deadline event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ListTriggers returns the triggers of one tenant event, earliest first.
func (r *Repository) ListTriggers(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*ReminderTrigger, error) {
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(`
		SELECT `+triggerColumns+`
		FROM reminder_triggers t
		JOIN deadline_events e ON e.id = t.event_id
		WHERE t.event_id = ? AND e.tenant_id = ?
		ORDER BY t.fire_at ASC`),
		eventID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reminder triggers: %w", err)
	}
	defer rows.Close()

	var out []*ReminderTrigger
	for rows.Next() {
		var t ReminderTrigger
		var fire int64
		if err := rows.Scan(&t.ID, &t.EventID, &fire, &t.Sent, &t.Custom, &t.Message); err != nil {
			return nil, fmt.Errorf("scan reminder trigger: %w", err)
		}
		t.FireAt = time.Unix(fire, 0).UTC()
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

const configColumns = `tenant_id, timezone, digest_channel, digest_address, digest_mention, digest_time, updated_at`

func scanConfig(row scanner) (*TenantConfig, error) {
	var c TenantConfig
	var updated int64
	err := row.Scan(
		&c.TenantID, &c.Timezone,
		&c.DigestDestination.Channel, &c.DigestDestination.Address, &c.DigestDestination.Mention,
		&c.DigestTime, &updated,
	)
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Unix(updated, 0).UTC()
	return &c, nil
}

// GetTenantConfig returns the stored config or ErrNotFound.
func (r *Repository) GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error) {
	row := r.db.sql.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+configColumns+` FROM tenant_configs WHERE tenant_id = ?`),
		tenantID,
	)
	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant config %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant config: %w", err)
	}
	return c, nil
}

// UpsertTenantConfig writes every field of the config.
func (r *Repository) UpsertTenantConfig(ctx context.Context, c *TenantConfig) error {
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
		INSERT INTO tenant_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			timezone = excluded.timezone,
			digest_channel = excluded.digest_channel,
			digest_address = excluded.digest_address,
			digest_mention = excluded.digest_mention,
			digest_time = excluded.digest_time,
			updated_at = excluded.updated_at`),
		c.TenantID, c.Timezone,
		c.DigestDestination.Channel, c.DigestDestination.Address, c.DigestDestination.Mention,
		c.DigestTime, c.UpdatedAt.Unix(),
	)
	if err != nil {
		r.logger.Error("failed to upsert tenant config",
			zap.Error(err),
			zap.String("tenant_id", c.TenantID),
		)
		return fmt.Errorf("upsert tenant config: %w", err)
	}
	return nil
}

// ListDigestTenants returns configs that have a digest destination set.
func (r *Repository) ListDigestTenants(ctx context.Context) ([]*TenantConfig, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT `+configColumns+` FROM tenant_configs WHERE digest_channel <> '' ORDER BY tenant_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query digest tenants: %w", err)
	}
	defer rows.Close()

	var out []*TenantConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant config: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// ClaimDigest records that the tenant's digest for localDate has been taken.
// Only the first caller for a (tenant, date) pair gets true.
func (r *Repository) ClaimDigest(ctx context.Context, tenantID, localDate string) (bool, error) {
	res, err := r.db.sql.ExecContext(ctx, r.db.rebind(`
		INSERT INTO digest_runs (tenant_id, local_date, claimed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, local_date) DO NOTHING`),
		tenantID, localDate, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim digest: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
