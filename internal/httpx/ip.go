package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"
)

// clientIP extracts the real client IP, honoring proxy headers only when the
// deployment says the proxy chain is trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// normalizeIP strips the port, including the bracketed IPv6 form.
func normalizeIP(addr string) string {
	if strings.HasPrefix(addr, "[") {
		if idx := strings.LastIndex(addr, "]"); idx > 0 {
			return addr[1:idx]
		}
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// hashIP produces a pseudonymous IP for audit events. The key rotates daily
// so hashes cannot be joined across days. Empty secret disables hashing.
func hashIP(ip, secret string, now time.Time) string {
	if secret == "" || ip == "" {
		return ""
	}
	day := now.UTC().Format("2006-01-02")
	keyMac := hmac.New(sha256.New, []byte(secret))
	keyMac.Write([]byte("ip-hash:" + day))
	mac := hmac.New(sha256.New, keyMac.Sum(nil))
	mac.Write([]byte(normalizeIP(ip)))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
