// Package origin implements browser Origin header validation for the relay's
// HTTP and WebSocket surfaces.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns the normalized
// origin (scheme://host[:port], default ports elided) plus the host[:port]
// portion for same-host comparison. The special value "null" is passed
// through.
func Normalize(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" || u.User != nil ||
		u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHostPort(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether the normalized origin may access the given request
// host. A non-empty allowlist is authoritative (entries are "*" or normalized
// origins); otherwise the policy is same-host only. Scheme is deliberately not
// compared against the request: the relay may sit behind a TLS-terminating
// proxy and see HTTP while the browser Origin is HTTPS.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found || (scheme != "http" && scheme != "https") {
		// "null" and anything unnormalized never matches a host-based request.
		return false
	}
	reqHost, ok := normalizeHostPort(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// normalizeHostPort lowercases the hostname, validates the port, and elides
// the scheme's default port. IPv6 literals keep their brackets.
func normalizeHostPort(rawHost, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(rawHost)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

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

// splitHostPort splits an authority host[:port]. IPv6 literals are returned
// without brackets; the port is returned unvalidated and empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := rawHost[1:end], rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || rest == ":" {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		host, p, _ := strings.Cut(rawHost, ":")
		if host == "" || p == "" {
			return "", "", false
		}
		return host, p, true
	default:
		// Unbracketed IPv6 literals are not valid authority components.
		return "", "", false
	}
}
