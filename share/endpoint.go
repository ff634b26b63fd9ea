package rtshare

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// DefaultRegistryPort is the well-known RMI registry port, assumed when a
// target names only a host
const DefaultRegistryPort = 1099

// Endpoint is an immutable TCP host/port pair. The zero value is not valid;
// use NewEndpoint or ParseEndpoint.
type Endpoint struct {
	host string
	port uint16
}

// NewEndpoint creates an Endpoint, failing with ErrInvalidPort if port is not in 1..65535
func NewEndpoint(host string, port int) (Endpoint, error) {
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("the given port number (%d) is not a valid TCP port number: %w", port, ErrInvalidPort)
	}
	return Endpoint{host: host, port: uint16(port)}, nil
}

// MustEndpoint is NewEndpoint for compile-time constants; it panics on a bad port
func MustEndpoint(host string, port int) Endpoint {
	ep, err := NewEndpoint(host, port)
	if err != nil {
		panic(err)
	}
	return ep
}

// ParseEndpoint parses "host:port" or a bare "host", in which case defaultPort is used.
// IPv6 literals must be bracketed when a port is given.
func ParseEndpoint(s string, defaultPort int) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port component
		return NewEndpoint(strings.Trim(s, "[]"), defaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("bad port in %q: %w", s, ErrInvalidPort)
	}
	return NewEndpoint(host, port)
}

// Host returns the host name or address
func (e Endpoint) Host() string {
	return e.host
}

// Port returns the TCP port
func (e Endpoint) Port() int {
	return int(e.port)
}

// IsValid returns false for the zero Endpoint
func (e Endpoint) IsValid() bool {
	return e.port != 0
}

// Addr returns an address suitable for net.Dial
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.host, strconv.Itoa(int(e.port)))
}

func (e Endpoint) String() string {
	return e.host + ":" + strconv.Itoa(int(e.port))
}

// LoadTargets reads a plain target list: one target per line, either "host" or
// "host port" separated by a space. Blank lines and lines starting with '#' are skipped.
func LoadTargets(r io.Reader) ([]Endpoint, error) {
	var targets []Endpoint
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		var ep Endpoint
		var err error
		switch len(parts) {
		case 1:
			ep, err = NewEndpoint(parts[0], DefaultRegistryPort)
		case 2:
			var port int
			port, err = strconv.Atoi(parts[1])
			if err != nil {
				err = fmt.Errorf("bad port %q: %w", parts[1], ErrInvalidPort)
				break
			}
			ep, err = NewEndpoint(parts[0], port)
		default:
			err = fmt.Errorf("expected \"host\" or \"host port\", got %d fields", len(parts))
		}
		if err != nil {
			return nil, fmt.Errorf("target line %d: %w", lineNo, err)
		}
		targets = append(targets, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}
