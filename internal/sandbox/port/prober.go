package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

var (
	// ErrInUse means another socket already holds the port.
	ErrInUse = errors.New("address already in use")
	// ErrUnavailable covers every other bind failure (permissions, bad address, ...).
	ErrUnavailable = errors.New("port unavailable")
)

// Prober reports whether a TCP port can be bound right now. A nil error means free.
type Prober interface {
	Probe(port int) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(port int) error

func (f ProberFunc) Probe(port int) error { return f(port) }

// TCPProber binds a throwaway listener and closes it immediately.
type TCPProber struct {
	host string
}

// NewTCPProber probes on host; an empty host means all interfaces, matching how
// published container ports are bound.
func NewTCPProber(host string) *TCPProber {
	return &TCPProber{host: host}
}

func (p *TCPProber) Probe(port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(p.host, strconv.Itoa(port)))
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return fmt.Errorf("port %d: %w", port, ErrInUse)
		}
		return fmt.Errorf("port %d: %w: %v", port, ErrUnavailable, err)
	}
	return ln.Close()
}
