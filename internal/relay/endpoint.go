package relay

import (
	"net"
	"net/netip"
	"strconv"

	"github.com/go-faster/errors"
)

// Endpoint is an address+port pair used to bind or target a UDP socket.
//
// Endpoint is a comparable value: two endpoints are equal iff address and
// port match. IPv4-mapped IPv6 addresses are unmapped on construction so a
// datagram from ::ffff:127.0.0.1 matches a filter for 127.0.0.1.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{Addr: addr.Unmap(), Port: port}
}

func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return NewEndpoint(ap.Addr(), ap.Port())
}

func EndpointFromUDPAddr(addr *net.UDPAddr) (Endpoint, bool) {
	if addr == nil {
		return Endpoint{}, false
	}
	ap := addr.AddrPort()
	if !ap.Addr().IsValid() {
		return Endpoint{}, false
	}
	return EndpointFromAddrPort(ap), true
}

func endpointFromAddr(addr net.Addr) (Endpoint, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return Endpoint{}, false
	}
	return EndpointFromUDPAddr(udpAddr)
}

// ParseEndpoint parses a literal "ip:port" (or "[ipv6]:port") string.
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(ErrInvalidEndpoint, "parse %q: %v", s, err)
	}
	return EndpointFromAddrPort(ap), nil
}

// MustParseEndpoint is like ParseEndpoint but panics on error. Intended for
// tests and constants.
func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}
	return ep
}

func (e Endpoint) IsValid() bool {
	return e.Addr.IsValid()
}

func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(e.AddrPort())
}

func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return "invalid:" + strconv.Itoa(int(e.Port))
	}
	return e.AddrPort().String()
}

// network returns the Go network name matching the endpoint's address family.
func (e Endpoint) network() string {
	if e.Addr.Is4() {
		return "udp4"
	}
	return "udp6"
}

// wildcard returns the unspecified endpoint of the same address family with an
// ephemeral port. One-shot sends bind to it.
func (e Endpoint) wildcard() Endpoint {
	if e.Addr.Is4() {
		return Endpoint{Addr: netip.IPv4Unspecified()}
	}
	return Endpoint{Addr: netip.IPv6Unspecified()}
}
