package client

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// BaseURLOptions controls which service locations a Client accepts.
type BaseURLOptions struct {
	// AllowHTTP permits plain http. https is always accepted.
	AllowHTTP bool
	// AllowLocalNetworks permits localhost names and loopback, private and
	// link-local addresses. The service usually runs next to the client, so
	// the CLI turns this on by default.
	AllowLocalNetworks bool
}

// ParseBaseURL validates raw and returns it without a trailing slash, ready
// to have endpoint paths appended.
func ParseBaseURL(raw string, opts BaseURLOptions) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", raw)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return nil, errors.Errorf("http base URL %q is not allowed", raw)
		}
	default:
		return nil, errors.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, errors.Errorf("base URL %q has no host", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, errors.Errorf("base URL %q must not carry a query or fragment", raw)
	}

	if !opts.AllowLocalNetworks && isLocalHostname(host) {
		return nil, errors.Errorf("local host %q is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() {
			return nil, errors.Errorf("address %q cannot be used as a service host", host)
		}
		if !opts.AllowLocalNetworks && isLocalAddr(addr) {
			return nil, errors.Errorf("local network address %q is not allowed", host)
		}
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed, nil
}

func isLocalHostname(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

func isLocalAddr(addr netip.Addr) bool {
	return addr.Zone() != "" ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast()
}
