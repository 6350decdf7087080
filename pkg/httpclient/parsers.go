package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads the Retry-After header in either delta-seconds or
// HTTP-date form, plus the common X-RateLimit-* extension headers.
func ParseRetryAfter(headers http.Header) RateLimitInfo {
	var info RateLimitInfo

	if v := strings.TrimSpace(headers.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			info.RetryAfter = time.Duration(secs) * time.Second
		} else if when, err := http.ParseTime(v); err == nil {
			if d := time.Until(when); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	if v := headers.Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.ResetTime = reset
		}
	}

	if v := headers.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil {
			info.RequestsRemaining = remaining
		}
	}

	return info
}
