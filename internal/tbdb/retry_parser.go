package tbdb

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultUnavailableRetry is used when a 503 body carries no "Retry in N" hint.
const DefaultUnavailableRetry = 600 * time.Second

var retryInPattern = regexp.MustCompile(`(?i)retry in (\d+)`)

// parseRetryAfter reads Retry-After as delta seconds or an HTTP date.
// Returns 0 when the header is absent or unparseable.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// parseUnavailableRetry extracts N from "... Retry in N seconds" text.
func parseUnavailableRetry(body []byte) time.Duration {
	m := retryInPattern.FindSubmatch(body)
	if m == nil {
		return DefaultUnavailableRetry
	}
	seconds, err := strconv.Atoi(string(m[1]))
	if err != nil || seconds <= 0 {
		return DefaultUnavailableRetry
	}
	return time.Duration(seconds) * time.Second
}

// parseResetHeader accepts unix seconds or RFC 3339.
func parseResetHeader(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

// parseWindow accepts "10" (seconds) or a Go duration such as "1m".
func parseWindow(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return 0
}
