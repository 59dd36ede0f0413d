package download

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// maxURLLength bounds player-supplied URLs before any parsing.
const maxURLLength = 512

// LookupFunc resolves a hostname. Swappable in tests.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// ValidateURL accepts only bounded http(s) URLs whose host does not
// resolve to loopback, private, or link-local ranges. Players supply
// these URLs, and the fetch worker runs inside the server's network,
// so anything that could point at internal infrastructure is rejected.
func ValidateURL(ctx context.Context, raw string, lookup LookupFunc) error {
	if raw == "" {
		return fmt.Errorf("url is empty")
	}
	if len(raw) > maxURLLength {
		return fmt.Errorf("url exceeds %d characters", maxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url is malformed: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("url has no host")
	}

	if lookup == nil {
		lookup = defaultLookup
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = lookup(ctx, host)
		if err != nil {
			return fmt.Errorf("failed to resolve host %q: %w", host, err)
		}
	}
	if len(ips) == 0 {
		return fmt.Errorf("host %q resolves to no addresses", host)
	}
	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return fmt.Errorf("host %q resolves to a forbidden address range", host)
		}
	}
	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
