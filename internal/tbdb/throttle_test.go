package tbdb

import (
	"net/http"
	"testing"
	"time"
)

func TestThrottle_LearnsIntervalFromHeaders(t *testing.T) {
	th := NewThrottle(DefaultInterval)
	if th.Interval() != 1100*time.Millisecond {
		t.Fatalf("default interval = %s", th.Interval())
	}

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "10")
	h.Set("X-RateLimit-Window", "10")
	th.Observe(h, time.Now())

	if th.Interval() != time.Second {
		t.Fatalf("interval = %s, want 1s", th.Interval())
	}
}

func TestThrottle_IgnoresMissingHeaders(t *testing.T) {
	th := NewThrottle(DefaultInterval)
	th.Observe(http.Header{}, time.Now())
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "0")
	h.Set("X-RateLimit-Window", "60")
	th.Observe(h, time.Now())
	if th.Interval() != DefaultInterval {
		t.Fatalf("interval = %s", th.Interval())
	}
}

func TestThrottle_ReserveSpacesRequests(t *testing.T) {
	th := NewThrottle(time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if d := th.Reserve(now); d != 0 {
		t.Fatalf("first reservation should not wait, got %s", d)
	}
	d := th.Reserve(now)
	if d < 990*time.Millisecond || d > time.Second {
		t.Fatalf("second reservation wait = %s, want ~1s", d)
	}
	if d := th.Reserve(now.Add(5 * time.Second)); d != 0 {
		t.Fatalf("reservation after idle should not wait, got %s", d)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-5", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"soon", 0},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.value != "" {
			h.Set("Retry-After", tt.value)
		}
		if got := parseRetryAfter(h, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestParseWindow(t *testing.T) {
	if got := parseWindow("10"); got != 10*time.Second {
		t.Errorf("10 = %s", got)
	}
	if got := parseWindow("1m"); got != time.Minute {
		t.Errorf("1m = %s", got)
	}
	if got := parseWindow("x"); got != 0 {
		t.Errorf("x = %s", got)
	}
}
