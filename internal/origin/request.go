package origin

import (
	"net/http"
	"strings"
)

// Check applies the origin policy to r. Requests without an Origin header are
// not from a browser and pass; a repeated or unparsable header fails. The
// normalized origin is returned when there is one.
func Check(r *http.Request, allowedOrigins []string) (normalized string, ok bool) {
	values := r.Header.Values("Origin")
	switch {
	case len(values) == 0 || (len(values) == 1 && strings.TrimSpace(values[0]) == ""):
		return "", true
	case len(values) > 1:
		return "", false
	}

	normalized, host, ok := NormalizeHeader(values[0])
	if !ok || !IsAllowed(normalized, host, r.Host, allowedOrigins) {
		return "", false
	}
	return normalized, true
}

// FromRequest returns the origin r was made from: its Origin header when that
// is valid, else one derived from Host and the forwarded or TLS scheme.
func FromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}

	values := r.Header.Values("Origin")
	if len(values) > 1 {
		return ""
	}
	if len(values) == 1 {
		if raw := strings.TrimSpace(values[0]); raw != "" {
			if normalized, _, ok := NormalizeHeader(raw); ok {
				return normalized
			}
			return raw
		}
	}

	host := strings.ToLower(strings.TrimSpace(r.Host))
	if host == "" {
		return ""
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ","); proto != "" {
		switch p := strings.ToLower(strings.TrimSpace(proto)); p {
		case "http", "https":
			scheme = p
		}
	}

	candidate := scheme + "://" + host
	if normalized, _, ok := NormalizeHeader(candidate); ok {
		return normalized
	}
	return candidate
}
