// Package origin implements the browser Origin policy shared by the signaling
// WebSocket upgrade and the HTTP endpoints.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Null is the opaque origin browsers send from sandboxed or file:// pages.
const Null = "null"

// NormalizeHeader validates a browser Origin header and returns its canonical
// form (scheme://host[:port], lower-cased, default port dropped) together with
// the host[:port] part used for same-host comparisons.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case Null:
		return Null, "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may talk to requestHost.
//
// A non-empty allow-list is matched exactly, with "*" matching anything.
// Without one only the request's own host:port is accepted. The scheme is
// not compared so TLS may terminate in front of the server.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		return false
	}

	host, ok := canonicalHost(requestHost, scheme)
	return ok && originHost == host
}

// canonicalHost lower-cases an authority, brackets IPv6 literals and drops
// the scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 hostnames come back without
// brackets; the port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ := strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6.
		return "", "", false
	}
}
