// Package clientip derives the end-user address forwarded to the backend and
// optionally encrypts it.
package clientip

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

var private172 = regexp.MustCompile(`^172\.(1[6-9]|2[0-9]|3[0-1])\.`)

// Extract returns the client address for r. With trustProxy set the first
// public address in X-Forwarded-For wins; if every listed address is private
// the first one is used. Otherwise, or without the header, the peer address
// is returned.
func Extract(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 && strings.TrimSpace(xff[0]) != "" {
			list := strings.Split(xff[0], ",")
			for _, ip := range list {
				ip = unmap(strings.TrimSpace(ip))
				if ip != "" && !isPrivate(ip) {
					return ip
				}
			}
			return unmap(strings.TrimSpace(list[0]))
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return unmap(host)
}

func unmap(ip string) string { return strings.TrimPrefix(ip, "::ffff:") }

func isPrivate(ip string) bool {
	return strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "192.168.") ||
		private172.MatchString(ip)
}
