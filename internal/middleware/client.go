package middleware

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dermascan/internal/model"
)

// ClientInfo describes the caller of c for the audit log.  The address is
// taken from the first X-Forwarded-For hop, then X-Real-IP, then the socket
// peer, and carries a readable note for loopback and private ranges.
func ClientInfo(c echo.Context) model.ClientInfo {
	r := c.Request()
	return model.ClientInfo{
		IP:        annotateIP(clientIP(r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP"), r.RemoteAddr)),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(forwarded, realIP, remote string) string {
	if forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(realIP); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

func annotateIP(ip string) string {
	if ip == "::1" || ip == "::ffff:127.0.0.1" {
		ip = "127.0.0.1"
	}
	switch {
	case strings.HasPrefix(ip, "127."):
		return ip + " (localhost)"
	case strings.HasPrefix(ip, "192.168."):
		return ip + " (local network)"
	case strings.HasPrefix(ip, "10."):
		return ip + " (private network)"
	}
	return ip
}
