package offsets

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int64
	}{
		{name: "single day", input: "3d", want: []int64{3 * Day}},
		{name: "mixed units sorted descending", input: "30m, 3d, 4h", want: []int64{3 * Day, 4 * Hour, 30 * Minute}},
		{name: "duplicates collapse", input: "24h,1d,86400s", want: []int64{Day}},
		{name: "upper case and inner spaces", input: " 2 H , 1W ", want: []int64{Week, 2 * Hour}},
		{name: "empty parts skipped", input: "1h,,  ,10m,", want: []int64{Hour, 10 * Minute}},
		{name: "seconds", input: "45s", want: []int64{45}},
		{name: "empty list", input: "", want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_InvalidTokens(t *testing.T) {
	inputs := []string{
		"3x", "d3", "1.5h", "-2h", "3d,banana", "h", "10 minutes",
		"0m", "2h,0s",
		"20000000000000w", "9223372036854775807s0", "99999999999999999999s",
	}

	for _, in := range inputs {
		got, err := Parse(in)
		if !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidDuration", in, err)
		}
		if got != nil {
			t.Errorf("Parse(%q) returned partial result %v", in, got)
		}
	}
}

func TestDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name string
		lead int64
		want []int64
	}{
		{name: "four days", lead: 4 * Day, want: []int64{3 * Day, 2 * Day, Day}},
		{name: "exactly three days", lead: 3 * Day, want: []int64{3 * Day, 2 * Day, Day}},
		{name: "two and a half days", lead: 2*Day + 12*Hour, want: []int64{Day}},
		{name: "one day", lead: Day, want: []int64{4 * Hour}},
		{name: "six hours", lead: 6 * Hour, want: []int64{2 * Hour}},
		{name: "two hours", lead: 2 * Hour, want: []int64{Hour}},
		{name: "thirty minutes", lead: 30 * Minute, want: []int64{30 * Minute}},
		{name: "twenty minutes", lead: 20 * Minute, want: []int64{10 * Minute}},
		{name: "exactly ten minutes", lead: 10 * Minute, want: []int64{9 * Minute}},
		{name: "five minutes", lead: 300, want: []int64{240}},
		{name: "ninety seconds", lead: 90, want: []int64{60}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due := now.Add(time.Duration(tt.lead) * time.Second)
			got := Defaults(now, due)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Defaults(lead=%d) = %v, want %v", tt.lead, got, tt.want)
			}
		})
	}
}

func TestFireTimes_FiltersMargin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(time.Hour)

	tests := []struct {
		name string
		offs []int64
		want []time.Time
	}{
		{"keeps thirty minutes", []int64{30 * Minute}, []time.Time{time.Unix(now.Unix()+30*Minute, 0).UTC()}},
		{"inside margin", []int64{3599}, []time.Time{}},
		{"exactly at margin", []int64{3570}, []time.Time{}},
		{"zero lands on due", []int64{0}, []time.Time{}},
		{"negative lands after due", []int64{-Hour}, []time.Time{}},
		{"mixed", []int64{-1, 0, 3599, 30 * Minute}, []time.Time{time.Unix(now.Unix()+30*Minute, 0).UTC()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FireTimes(now, due, tt.offs)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FireTimes = %v, want %v", got, tt.want)
			}
			for _, at := range got {
				if !at.Before(due) {
					t.Errorf("fire %v is not before due %v", at, due)
				}
			}
		})
	}
}

func TestPlan_NeverFiresAtOrAfterDue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(10 * 24 * time.Hour)

	for _, explicit := range []string{"20000000000000w", "0m", "0m,1d"} {
		if _, err := Plan(now, due, explicit); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Plan(%q) error = %v, want ErrInvalidDuration", explicit, err)
		}
	}

	fires, err := Plan(now, due, "1w, 3d, 1s")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, at := range fires {
		if !at.Before(due) {
			t.Errorf("fire %v is not before due %v", at, due)
		}
	}
}

func TestFireTimes_Ascending(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(10 * 24 * time.Hour)

	got := FireTimes(now, due, []int64{3 * Day, 2 * Day, Day})
	if len(got) != 3 {
		t.Fatalf("expected 3 fire times, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Errorf("fire times not ascending: %v", got)
		}
	}
}

func TestPlan_TenDaysDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(10 * 24 * time.Hour)

	got, err := Plan(now, due, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Time{
		time.Unix(due.Unix()-3*Day, 0).UTC(),
		time.Unix(due.Unix()-2*Day, 0).UTC(),
		time.Unix(due.Unix()-Day, 0).UTC(),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan = %v, want %v", got, want)
	}
	for _, at := range got {
		if !at.After(now.Add(FireMargin)) {
			t.Errorf("fire time %v not past margin", at)
		}
	}
}

func TestPlan_FallbackWhenExplicitTooLarge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(20 * time.Minute)

	got, err := Plan(now, due, "1d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Unix(due.Unix()-300, 0).UTC()
	if len(got) != 1 || !got[0].Equal(want) {
		t.Fatalf("Plan = %v, want [%v]", got, want)
	}
}

func TestPlan_FallbackUsesNowPlusMinute(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(2 * time.Minute)

	// default offset 60s lands at now+60s which passes the margin,
	// so force the fallback with an oversized explicit offset.
	got, err := Plan(now, due, "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Unix(now.Unix()+60, 0).UTC()
	if len(got) != 1 || !got[0].Equal(want) {
		t.Fatalf("Plan = %v, want [%v]", got, want)
	}
}

func TestPlan_NoValidTrigger(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	due := now.Add(50 * time.Second)

	_, err := Plan(now, due, "")
	if !errors.Is(err, ErrNoValidTrigger) {
		t.Fatalf("expected ErrNoValidTrigger, got %v", err)
	}
}

func TestPlan_InvalidExplicit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, err := Plan(now, now.Add(time.Hour), "2q")
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		Week:       "1w",
		3 * Day:    "3d",
		4 * Hour:   "4h",
		90 * 60:    "90m",
		45:         "45s",
		Day + 1:    "86401s",
		2 * Minute: "2m",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Errorf("Format(%d) = %q, want %q", in, got, want)
		}
	}
}
