package device

import (
	"fmt"
	"net/netip"
)

// Server is a cluster server that hosts physical devices.
type Server struct {
	ID    string
	Seqno uint32
	Host  netip.Addr
	Port  uint16
}

// Addr returns the host:port form of the server address.
func (s Server) Addr() string {
	return netip.AddrPortFrom(s.Host, s.Port).String()
}

// ParseServer builds a server record from a textual host and port.
func ParseServer(id string, seqno uint32, host string, port uint32) (Server, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return Server{}, fmt.Errorf("server %s: host %q: %w", id, host, ErrInvalidDevice)
	}
	if port > 0xffff {
		return Server{}, fmt.Errorf("server %s: port %d out of range: %w", id, port, ErrInvalidDevice)
	}
	return Server{ID: id, Seqno: seqno, Host: addr, Port: uint16(port)}, nil
}
