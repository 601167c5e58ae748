// Package offsets turns duration lists and lead times into reminder fire instants.
package offsets

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	Minute int64 = 60
	Hour         = 60 * Minute
	Day          = 24 * Hour
	Week         = 7 * Day

	// FireMargin is how far past now a fire instant must be to be scheduled.
	FireMargin = 30 * time.Second

	fallbackLead  = 5 * time.Minute
	fallbackDelay = 60 * time.Second
)

var (
	// ErrInvalidDuration is returned for a token outside the <int><s|m|h|d|w> grammar.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrNoValidTrigger is returned when every candidate and the fallback were filtered out.
	ErrNoValidTrigger = errors.New("no valid reminder could be scheduled")
)

var tokenRE = regexp.MustCompile(`(?i)^\s*(\d+)\s*([smhdw])\s*$`)

var unitSeconds = map[byte]int64{
	's': 1,
	'm': Minute,
	'h': Hour,
	'd': Day,
	'w': Week,
}

// Parse reads a comma separated list such as "3d, 24h, 30m" and returns the
// offsets in seconds, deduplicated and sorted largest first. Empty parts are
// skipped. A single bad token fails the whole list. Offsets must be positive:
// a zero amount or one that overflows int64 seconds is ErrInvalidDuration.
func Parse(list string) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, part := range strings.Split(list, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		secs, err := parseToken(p)
		if err != nil {
			return nil, err
		}
		seen[secs] = struct{}{}
	}

	out := make([]int64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}

func parseToken(tok string) (int64, error) {
	m := tokenRE.FindStringSubmatch(tok)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (use s, m, h, d, w)", ErrInvalidDuration, tok)
	}
	val, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidDuration, tok, err)
	}
	mult := unitSeconds[strings.ToLower(m[2])[0]]
	if val == 0 || val > math.MaxInt64/mult {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidDuration, tok)
	}
	return val * mult, nil
}

// Defaults picks the standard offsets for the lead time between now and due.
func Defaults(now, due time.Time) []int64 {
	lead := due.Unix() - now.Unix()

	switch {
	case lead >= 3*Day:
		return []int64{3 * Day, 2 * Day, Day}
	case lead >= 2*Day:
		return []int64{Day}
	case lead >= 12*Hour:
		return []int64{4 * Hour}
	case lead >= 4*Hour:
		return []int64{2 * Hour}
	case lead >= Hour:
		return []int64{Hour}
	case lead >= 30*Minute:
		return []int64{30 * Minute}
	case lead > 10*Minute:
		return []int64{10 * Minute}
	default:
		return []int64{max(lead-Minute, Minute)}
	}
}

// FireTimes converts offsets to fire instants and keeps those strictly
// between now plus FireMargin and due. The result is ascending.
func FireTimes(now, due time.Time, offs []int64) []time.Time {
	floor := now.Add(FireMargin).Unix()
	ceil := due.Unix()
	out := make([]time.Time, 0, len(offs))
	for _, off := range offs {
		at := ceil - off
		if at > floor && at < ceil {
			out = append(out, time.Unix(at, 0).UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Fallback is the single last-chance trigger at max(due-5m, now+60s).
// ok is false when that instant would not be before due.
func Fallback(now, due time.Time) (time.Time, bool) {
	at := due.Add(-fallbackLead)
	if soonest := now.Add(fallbackDelay); soonest.After(at) {
		at = soonest
	}
	at = time.Unix(at.Unix(), 0).UTC()
	return at, at.Unix() < due.Unix()
}

// Plan computes the fire instants for a new deadline. explicit, when set,
// replaces the default table. If nothing survives filtering the fallback is
// tried before giving up with ErrNoValidTrigger.
func Plan(now, due time.Time, explicit string) ([]time.Time, error) {
	var offs []int64
	if strings.TrimSpace(explicit) != "" {
		parsed, err := Parse(explicit)
		if err != nil {
			return nil, err
		}
		offs = parsed
	} else {
		offs = Defaults(now, due)
	}

	fires := FireTimes(now, due, offs)
	if len(fires) > 0 {
		return fires, nil
	}
	if at, ok := Fallback(now, due); ok {
		return []time.Time{at}, nil
	}
	return nil, ErrNoValidTrigger
}

// Format renders seconds back into the largest whole unit, e.g. 172800 -> "2d".
func Format(secs int64) string {
	for _, u := range []struct {
		n    int64
		name string
	}{{Week, "w"}, {Day, "d"}, {Hour, "h"}, {Minute, "m"}} {
		if secs >= u.n && secs%u.n == 0 {
			return strconv.FormatInt(secs/u.n, 10) + u.name
		}
	}
	return strconv.FormatInt(secs, 10) + "s"
}
