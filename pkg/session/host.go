package session

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// HostSpec is a host string broken into its parts.
type HostSpec struct {
	// User is the username embedded as "user@"; empty when absent.
	User     string
	Hostname string
	// Port is zero when the host string carries no ":port" suffix.
	Port int
}

// ParseHostString splits "[user@]host[:port]". Bare IPv6 addresses must be
// bracketed to carry a port ("[::1]:2222").
func ParseHostString(hostString string) (HostSpec, error) {
	var spec HostSpec
	rest := strings.TrimSpace(hostString)
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		spec.User = rest[:i]
		rest = rest[i+1:]
		if spec.User == "" {
			return HostSpec{}, fmt.Errorf("empty username in host string %q", hostString)
		}
	}

	if strings.HasPrefix(rest, "[") || strings.Count(rest, ":") == 1 {
		host, portStr, err := net.SplitHostPort(rest)
		if err != nil {
			if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
				return HostSpec{}, fmt.Errorf("invalid host string %q: %w", hostString, err)
			}
			host = strings.Trim(rest, "[]")
		} else {
			port, err := strconv.Atoi(portStr)
			if err != nil || port <= 0 || port > 65535 {
				return HostSpec{}, fmt.Errorf("invalid port %q in host string %q", portStr, hostString)
			}
			spec.Port = port
		}
		rest = host
	}

	if rest == "" {
		return HostSpec{}, fmt.Errorf("empty hostname in host string %q", hostString)
	}
	spec.Hostname = rest
	return spec, nil
}

// ResolveUser returns the embedded user when present, the configured one otherwise.
func (h HostSpec) ResolveUser(configured string) string {
	if h.User != "" {
		return h.User
	}
	return configured
}

// Address returns host:port for dialing, using defaultPort when none was given.
func (h HostSpec) Address(defaultPort int) string {
	port := h.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(h.Hostname, strconv.Itoa(port))
}

// InventoryName strips the "user@" part; inventories key hosts by name only.
func InventoryName(hostString string) string {
	if i := strings.LastIndex(hostString, "@"); i >= 0 {
		return hostString[i+1:]
	}
	return hostString
}
