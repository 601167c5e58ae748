package db

import (
	"time"

	"github.com/google/uuid"
)

// Channel constants
const (
	ChannelLog      = "log"
	ChannelWebhook  = "webhook"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelQueue    = "queue"
	ChannelTelegram = "telegram"
	ChannelTopic    = "topic"
)

// Defaults applied to a tenant that has never been configured.
const (
	DefaultTimezone   = "UTC"
	DefaultDigestTime = "09:00"
)

// Location resolves an IANA timezone name. Empty names mean UTC. An unknown
// name also resolves to UTC and reports ok=false so callers can warn.
func Location(name string) (loc *time.Location, ok bool) {
	if name == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// ValidChannel reports whether channel is one the gateway can route.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelLog, ChannelWebhook, ChannelEmail, ChannelSMS, ChannelQueue, ChannelTelegram, ChannelTopic:
		return true
	}
	return false
}

// Destination is where a notification is delivered and who it addresses.
type Destination struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
	Mention string `json:"mention,omitempty"`
}

// IsZero reports whether no destination was configured.
func (d Destination) IsZero() bool {
	return d.Channel == "" && d.Address == ""
}

// DeadlineEvent is a tracked deadline owned by a tenant.
type DeadlineEvent struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	DueAt       time.Time   `json:"due_at"`
	Timezone    string      `json:"timezone"`
	Destination Destination `json:"destination"`
	CreatedBy   string      `json:"created_by,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ReminderTrigger is one scheduled advance warning for a DeadlineEvent.
type ReminderTrigger struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"event_id"`
	FireAt  time.Time `json:"fire_at"`
	Sent    bool      `json:"sent"`
	Custom  bool      `json:"custom"`
	Message string    `json:"message,omitempty"`
}

// DueTrigger is an unsent trigger joined with the event it belongs to.
type DueTrigger struct {
	Trigger ReminderTrigger
	Event   DeadlineEvent
}

// TenantConfig holds per-tenant timezone and daily digest settings.
type TenantConfig struct {
	TenantID          string      `json:"tenant_id"`
	Timezone          string      `json:"timezone"`
	DigestDestination Destination `json:"digest_destination"`
	DigestTime        string      `json:"digest_time"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
