package client

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Addr is a normalized server host.
//
// Accepted forms:
//
//	host
//	https://host/
//	http://host
//	[::1]
type Addr struct {
	Host string
	Raw  string
}

// ParseAddr strips an http(s) scheme and trailing slashes from raw. Ports
// are configured separately for each channel, so an address carrying a port
// or a path is rejected.
func ParseAddr(raw string) (Addr, error) {
	s := strings.TrimSpace(raw)
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimRight(s, "/")
	if s == "" {
		return Addr{}, fmt.Errorf("empty server address %q", raw)
	}
	if strings.Contains(s, "/") {
		return Addr{}, fmt.Errorf("invalid server address %q: unexpected path", raw)
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return Addr{}, fmt.Errorf("invalid server address %q: set ports with the port options", raw)
		}
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	} else if strings.Count(s, ":") == 1 {
		return Addr{}, fmt.Errorf("invalid server address %q: set ports with the port options", raw)
	}
	return Addr{Host: s, Raw: raw}, nil
}

// HostPort joins the host with port.
func (a Addr) HostPort(port int) string {
	return net.JoinHostPort(a.Host, strconv.Itoa(port))
}
