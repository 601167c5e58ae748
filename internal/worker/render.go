package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/lalithlochan/deadlines/internal/db"
	"github.com/lalithlochan/deadlines/internal/gateway"
)

const dueLayout = "Mon 2006-01-02 15:04 MST"

// destinationFor falls back to the log channel when an event has none.
func destinationFor(d db.Destination) db.Destination {
	if d.IsZero() {
		return db.Destination{Channel: db.ChannelLog, Mention: d.Mention}
	}
	return d
}

func formatDue(due time.Time, tz string) string {
	loc, _ := db.Location(tz)
	return due.In(loc).Format(dueLayout)
}

func renderReminder(row *db.DueTrigger) gateway.Message {
	ev := row.Event

	var b strings.Builder
	if ev.Description != "" {
		b.WriteString(ev.Description)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Due: %s", formatDue(ev.DueAt, ev.Timezone))
	if row.Trigger.Message != "" {
		fmt.Fprintf(&b, "\n%s", row.Trigger.Message)
	}
	b.WriteString("\nStay on track!")

	return gateway.Message{
		ID:          row.Trigger.ID.String(),
		Kind:        gateway.KindReminder,
		TenantID:    ev.TenantID,
		Destination: destinationFor(ev.Destination),
		Subject:     "Reminder: " + ev.Name,
		Body:        b.String(),
	}
}

func digestSubject(days int) string {
	if days == 1 {
		return "Upcoming Deadlines (next day)"
	}
	return fmt.Sprintf("Upcoming Deadlines (next %d days)", days)
}

// renderDigest lists events in the order given, which is due ascending.
func renderDigest(cfg *db.TenantConfig, localDate string, days int, events []*db.DeadlineEvent) gateway.Message {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("- %s: due %s (%s)",
			ev.Name, formatDue(ev.DueAt, ev.Timezone), ev.Timezone))
	}

	return gateway.Message{
		ID:          "digest:" + cfg.TenantID + ":" + localDate,
		Kind:        gateway.KindDigest,
		TenantID:    cfg.TenantID,
		Destination: cfg.DigestDestination,
		Subject:     digestSubject(days),
		Body:        strings.Join(lines, "\n"),
	}
}
