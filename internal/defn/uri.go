package defn

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// URI is a canonical face-locator URI of the form "scheme://host:port" or
// "unix:///path/to/socket". Grounded on the teacher's fw/defn.URI: faces are
// addressed uniformly through one locator type regardless of transport kind.
type URI struct {
	scheme string
	host   string
	port   uint16
	path   string // used for unix:// and fd:// locators
}

// NewNetURI builds a canonical udp4/udp6/tcp4/tcp6 URI from a dialed address.
func NewNetURI(scheme string, host string, port uint16) *URI {
	return &URI{scheme: scheme, host: host, port: port}
}

// NewUnixURI builds a canonical unix:// URI for the local control socket.
func NewUnixURI(path string) *URI {
	return &URI{scheme: "unix", path: path}
}

// ParseHostPort splits "host:port" for a UDP/TCP locator, inferring the
// udp4/udp6/tcp4/tcp6 scheme variant from the IP family.
func ParseHostPort(network, hostport string) (*URI, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	ip := net.ParseIP(host)
	scheme := network + "4"
	if ip != nil && ip.To4() == nil {
		scheme = network + "6"
	}
	return &URI{scheme: scheme, host: host, port: uint16(port)}, nil
}

func (u *URI) Scheme() string { return u.scheme }
func (u *URI) Host() string   { return u.host }
func (u *URI) Port() uint16   { return u.port }
func (u *URI) Path() string   { return u.path }

// IsCanonical reports whether the URI has the fields its scheme requires.
func (u *URI) IsCanonical() bool {
	switch u.scheme {
	case "udp4", "udp6", "tcp4", "tcp6":
		return u.host != "" && u.port != 0
	case "unix", "fd":
		return u.path != ""
	default:
		return false
	}
}

// IsLoopback reports whether the locator's host is the loopback address.
func (u *URI) IsLoopback() bool {
	switch u.scheme {
	case "unix", "fd":
		return true
	default:
		ip := net.ParseIP(u.host)
		return ip != nil && ip.IsLoopback()
	}
}

func (u *URI) String() string {
	switch u.scheme {
	case "unix", "fd":
		return fmt.Sprintf("%s://%s", u.scheme, u.path)
	default:
		if strings.Contains(u.host, ":") {
			return fmt.Sprintf("%s://[%s]:%d", u.scheme, u.host, u.port)
		}
		return fmt.Sprintf("%s://%s:%d", u.scheme, u.host, u.port)
	}
}
