// Package deadline is the entry point for creating and managing deadlines.
// It validates input, plans reminder triggers and persists everything the
// pollers later act on.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/metrics"
	"github.com/lalithlochan/deadlines/internal/offsets"
)

var (
	ErrTooSoon         = errors.New("too soon")
	ErrInvalidTime     = errors.New("invalid time")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidRequest  = errors.New("invalid request")
)

// Store is the persistence the service needs. db.Repository implements it.
type Store interface {
	CreateEvent(ctx context.Context, ev *db.DeadlineEvent, triggers []*db.ReminderTrigger) error
	AddTriggers(ctx context.Context, tenantID string, eventID uuid.UUID, triggers []*db.ReminderTrigger) error
	GetEvent(ctx context.Context, tenantID string, id uuid.UUID) (*db.DeadlineEvent, error)
	DeleteEvent(ctx context.Context, tenantID string, id uuid.UUID) error
	ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]*db.DeadlineEvent, error)
	ListTriggers(ctx context.Context, tenantID string, eventID uuid.UUID) ([]*db.ReminderTrigger, error)
	GetTenantConfig(ctx context.Context, tenantID string) (*db.TenantConfig, error)
	UpsertTenantConfig(ctx context.Context, c *db.TenantConfig) error
}

type Config struct {
	// MinLeadTime is how far in the future a due instant must be.
	MinLeadTime time.Duration
}

type Service struct {
	store  Store
	config Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.MinLeadTime <= 0 {
		cfg.MinLeadTime = time.Minute
	}
	return &Service{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

type CreateRequest struct {
	TenantID    string
	Name        string
	Description string
	DueAt       time.Time
	// DueText is read with ParseDue in the resolved timezone when DueAt is zero.
	DueText string
	// Timezone is used for display and digest grouping. Empty means the
	// tenant's configured zone.
	Timezone    string
	Destination db.Destination
	// Offsets is an optional duration list such as "3d,4h" that replaces
	// the default reminder table.
	Offsets   string
	CreatedBy string
}

type CreateResult struct {
	Event     *db.DeadlineEvent `json:"event"`
	FireTimes []time.Time       `json:"fire_times"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Deadline is an event with its scheduled triggers.
type Deadline struct {
	Event    *db.DeadlineEvent     `json:"event"`
	Triggers []*db.ReminderTrigger `json:"triggers"`
}

type ConfigureResult struct {
	Config   *db.TenantConfig `json:"config"`
	Warnings []string         `json:"warnings,omitempty"`
}

func timezoneWarning(tz string) string {
	return fmt.Errorf("%w %q, using UTC", ErrInvalidTimezone, tz).Error()
}

// CreateDeadline stores a new event together with its planned triggers.
func (s *Service) CreateDeadline(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: tenant and name are required", ErrInvalidRequest)
	}
	if err := validateDestination(req.Destination, false); err != nil {
		return nil, err
	}

	tz, err := s.tenantTimezone(ctx, req.TenantID, req.Timezone)
	if err != nil {
		return nil, err
	}
	var warnings []string
	if _, ok := db.Location(tz); !ok {
		warnings = append(warnings, timezoneWarning(tz))
	}

	if req.DueAt.IsZero() {
		if req.DueAt, err = ParseDue(req.DueText, tz); err != nil {
			return nil, err
		}
	}

	now := s.now()
	if !req.DueAt.After(now.Add(s.config.MinLeadTime)) {
		return nil, fmt.Errorf("%w: due must be more than %s from now", ErrTooSoon, s.config.MinLeadTime)
	}

	fires, err := offsets.Plan(now, req.DueAt, req.Offsets)
	if err != nil {
		return nil, err
	}

	ev := &db.DeadlineEvent{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		DueAt:       req.DueAt.UTC(),
		Timezone:    tz,
		Destination: req.Destination,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now.UTC(),
	}

	custom := strings.TrimSpace(req.Offsets) != ""
	triggers := make([]*db.ReminderTrigger, 0, len(fires))
	for _, at := range fires {
		triggers = append(triggers, &db.ReminderTrigger{ID: uuid.New(), FireAt: at, Custom: custom})
	}

	if err := s.store.CreateEvent(ctx, ev, triggers); err != nil {
		return nil, err
	}

	metrics.RecordDeadlineCreated(req.TenantID)
	metrics.RecordTriggersScheduled(custom, len(triggers))

	s.logger.Info("deadline scheduled",
		zap.String("tenant_id", ev.TenantID),
		zap.String("event_id", ev.ID.String()),
		zap.Time("due_at", ev.DueAt),
		zap.Int("triggers", len(triggers)),
		zap.Strings("warnings", warnings),
	)

	return &CreateResult{Event: ev, FireTimes: fires, Warnings: warnings}, nil
}

// AddCustomReminder adds triggers to an existing event. when is either a
// duration list measured back from the due instant or an RFC3339 instant.
// message, if set, is shown with the reminder.
func (s *Service) AddCustomReminder(ctx context.Context, tenantID string, eventID uuid.UUID, when, message string) ([]time.Time, error) {
	ev, err := s.store.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var candidates []time.Time
	if at, perr := time.Parse(time.RFC3339, strings.TrimSpace(when)); perr == nil {
		candidates = []time.Time{at.UTC()}
	} else {
		offs, err := offsets.Parse(when)
		if err != nil {
			return nil, err
		}
		if len(offs) == 0 {
			return nil, fmt.Errorf("%w: empty reminder", offsets.ErrInvalidDuration)
		}
		candidates = offsets.FireTimes(now, ev.DueAt, offs)
	}

	floor := now.Add(offsets.FireMargin)
	var (
		added    []time.Time
		triggers []*db.ReminderTrigger
	)
	for _, at := range candidates {
		if !at.After(floor) || !at.Before(ev.DueAt) {
			continue
		}
		triggers = append(triggers, &db.ReminderTrigger{ID: uuid.New(), FireAt: at, Custom: true, Message: message})
		added = append(added, at)
	}

	if len(added) == 0 {
		return nil, fmt.Errorf("%w: reminder must fire after %s and before the due time",
			ErrTooSoon, floor.UTC().Format(time.RFC3339))
	}
	if err := s.store.AddTriggers(ctx, tenantID, eventID, triggers); err != nil {
		return nil, err
	}

	metrics.RecordTriggersScheduled(true, len(added))
	s.logger.Info("custom reminder added",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", eventID.String()),
		zap.Int("triggers", len(added)),
	)
	return added, nil
}

// ConfigureDigest sets where and when the tenant's daily digest goes. An
// empty tz keeps the current timezone.
func (s *Service) ConfigureDigest(ctx context.Context, tenantID string, dest db.Destination, hhmm, tz string) (*ConfigureResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidRequest)
	}
	if _, err := time.Parse("15:04", hhmm); err != nil {
		return nil, fmt.Errorf("%w: %q, use HH:MM (24h)", ErrInvalidTime, hhmm)
	}
	if err := validateDestination(dest, true); err != nil {
		return nil, err
	}

	cfg, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cfg.DigestDestination = dest
	cfg.DigestTime = hhmm
	if tz != "" {
		cfg.Timezone = tz
	}
	return s.saveConfig(ctx, cfg)
}

// SetTimezone changes the tenant's default timezone.
func (s *Service) SetTimezone(ctx context.Context, tenantID, tz string) (*ConfigureResult, error) {
	if strings.TrimSpace(tz) == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrInvalidRequest)
	}
	cfg, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cfg.Timezone = tz
	return s.saveConfig(ctx, cfg)
}

func (s *Service) GetDeadline(ctx context.Context, tenantID string, id uuid.UUID) (*Deadline, error) {
	ev, err := s.store.GetEvent(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	triggers, err := s.store.ListTriggers(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &Deadline{Event: ev, Triggers: triggers}, nil
}

// ListDeadlines returns events due in [from, to]; a zero to means no upper bound.
func (s *Service) ListDeadlines(ctx context.Context, tenantID string, from, to time.Time) ([]*db.DeadlineEvent, error) {
	return s.store.ListEvents(ctx, tenantID, from, to)
}

// DeleteDeadline removes the event and all of its triggers.
func (s *Service) DeleteDeadline(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := s.store.DeleteEvent(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.Info("deadline deleted",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", id.String()),
	)
	return nil
}

// tenantTimezone picks the explicit zone, then the tenant's, then UTC.
func (s *Service) tenantTimezone(ctx context.Context, tenantID, tz string) (string, error) {
	if tz != "" {
		return tz, nil
	}
	cfg, err := s.store.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, db.ErrNotFound) {
		return db.DefaultTimezone, nil
	}
	if err != nil {
		return "", err
	}
	if cfg.Timezone == "" {
		return db.DefaultTimezone, nil
	}
	return cfg.Timezone, nil
}

func (s *Service) loadConfig(ctx context.Context, tenantID string) (*db.TenantConfig, error) {
	cfg, err := s.store.GetTenantConfig(ctx, tenantID)
	if errors.Is(err, db.ErrNotFound) {
		return &db.TenantConfig{
			TenantID:   tenantID,
			Timezone:   db.DefaultTimezone,
			DigestTime: db.DefaultDigestTime,
		}, nil
	}
	return cfg, err
}

func (s *Service) saveConfig(ctx context.Context, cfg *db.TenantConfig) (*ConfigureResult, error) {
	var warnings []string
	if _, ok := db.Location(cfg.Timezone); !ok {
		warnings = append(warnings, timezoneWarning(cfg.Timezone))
		s.logger.Warn("tenant timezone not recognised, digests will use UTC",
			zap.String("tenant_id", cfg.TenantID),
			zap.String("timezone", cfg.Timezone),
		)
	}

	cfg.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertTenantConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return &ConfigureResult{Config: cfg, Warnings: warnings}, nil
}

func validateDestination(d db.Destination, required bool) error {
	if d.IsZero() && !required {
		return nil
	}
	if !db.ValidChannel(d.Channel) {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, d.Channel)
	}
	if d.Channel != db.ChannelLog && d.Address == "" {
		return fmt.Errorf("%w: channel %s needs an address", ErrInvalidRequest, d.Channel)
	}
	return nil
}

// ParseDue reads a due instant. RFC3339 values carry their own offset;
// "YYYY-MM-DD HH:MM" is read in tz, or UTC when tz is unknown.
func ParseDue(value, tz string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	loc, _ := db.Location(tz)
	t, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q, use RFC3339 or YYYY-MM-DD HH:MM", ErrInvalidTime, value)
	}
	return t, nil
}
