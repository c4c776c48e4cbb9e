package sip

import (
	"context"
	"net"
	"strconv"
	"strings"
)

// IdleConnection will keep connections idle even after transaction terminate
// -1 	- single response or request will close
// 0 	- close connection immediatelly after transaction terminate
// 1 	- keep connection idle after transaction termination
var IdleConnection int = 1

const (
	// Transport for different sip messages. GO uses lowercase, but for message parsing, we should
	// use this constants for setting message Transport
	TransportUDP = "UDP"
	TransportTCP = "TCP"
	TransportTLS = "TLS"
	TransportWS  = "WS"
	TransportWSS = "WSS"

	transportBufferSize uint16 = 65535

	// TransportFixedLengthMessage sets message size limit for parsing and avoids stream parsing
	TransportFixedLengthMessage uint16 = 0
)

// Protocol implements network specific features.
type Transport interface {
	Network() string

	// GetConnection returns connection from transport
	// addr must be resolved to IP:port
	GetConnection(addr string) (Connection, error)
	CreateConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error)
	String() string
	Close() error
}

// Connection represents transport level socket abstraction used by transactions
// to write SIP messages and to manage connection lifetime via reference counting.
type Connection interface {
	// LocalAddr used for connection
	LocalAddr() net.Addr
	// WriteMsg marshals message and sends to socket
	WriteMsg(msg Message) error
	// Ref increases/decreases reference of connection to prevent closing too early
	Ref(i int) int
	// TryClose decreases reference and if ref = 0 closes connection. Returns last ref. If 0 then it is closed
	TryClose() (int, error)

	Close() error
}

// IsReliable returns true for connection oriented transports (TCP/TLS/WS/WSS),
// false for UDP.
func IsReliable(network string) bool {
	switch strings.ToUpper(network) {
	case TransportUDP:
		return false
	default:
		return true
	}
}

// DefaultProtocol is the transport used when none is set on a Via header or URI.
const DefaultProtocol = TransportUDP

// DefaultPort returns the default port for a transport protocol as defined by
// RFC 3261 Section 18.1.1 (5060 for UDP/TCP/WS, 5061 for TLS/WSS).
func DefaultPort(transport string) uint16 {
	switch strings.ToUpper(transport) {
	case TransportTLS, TransportWSS:
		return 5061
	default:
		return 5060
	}
}

type Addr struct {
	IP       net.IP // Must be in IP format
	Port     int
	Hostname string // original unresolved host, used for reconstructing remote address
}

func (a *Addr) String() string {
	if a.IP == nil {
		return net.JoinHostPort("", strconv.Itoa(a.Port))
	}

	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func ParseAddr(addr string) (host string, port int, err error) {
	host, pstr, err := net.SplitHostPort(addr)
	if err != nil {
		return host, port, err
	}

	// In case we are dealing with some named ports this should be called
	// net.LookupPort(network)

	port, err = strconv.Atoi(pstr)
	return host, port, err
}
