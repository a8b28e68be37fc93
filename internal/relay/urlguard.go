package relay

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned by the guarded dialer when a destination
// resolves to a non-public address.
var ErrBlockedAddress = errors.New("destination resolves to a blocked address")

var blockedHosts = map[string]struct{}{
	"localhost":       {},
	"127.0.0.1":       {},
	"0.0.0.0":         {},
	"169.254.169.254": {},
	"::1":             {},
}

// 10.x.x.x, 172.16-31.x.x, 192.168.x.x
var privateHostPattern = regexp.MustCompile(`^(10\.|172\.(1[6-9]|2[0-9]|3[01])\.|192\.168\.)`)

// IsForwardable reports whether a request to rawURL may be attempted.
// The check is textual: hostnames that resolve to private addresses pass
// here and are stopped at dial time by GuardedDialer.
func IsForwardable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return false
	}
	if _, blocked := blockedHosts[hostname]; blocked {
		return false
	}
	if privateHostPattern.MatchString(hostname) {
		return false
	}

	return true
}

// GuardedDialer returns a dialer that refuses to connect to loopback,
// private, link-local, unspecified or multicast addresses. The check runs
// on the resolved address, so it also covers DNS names and redirects.
func GuardedDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control:   guardControl,
	}
}

func guardControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !isPublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}
