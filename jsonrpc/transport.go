package jsonrpc

import "strings"

// Transport is a set of transports a handler may be called over.
type Transport uint8

const (
	TransportWebSocket Transport = 1 << iota
	TransportHTTP

	// TransportAny is the default for registered handlers.
	TransportAny = TransportWebSocket | TransportHTTP
)

// Transport names stored under the scope "type" key.
const (
	TransportNameWebSocket = "websocket"
	TransportNameHTTP      = "http"
)

// ParseTransport maps a scope type name to its transport. Unknown names map
// to zero, which no handler restriction excludes.
func ParseTransport(name string) Transport {
	switch strings.ToLower(name) {
	case TransportNameWebSocket:
		return TransportWebSocket
	case TransportNameHTTP:
		return TransportHTTP
	default:
		return 0
	}
}

// Allows reports whether a call over transport t is permitted. Unknown
// transports are always allowed.
func (set Transport) Allows(t Transport) bool {
	return t == 0 || set&t != 0
}

func (set Transport) String() string {
	var names []string
	if set&TransportWebSocket != 0 {
		names = append(names, TransportNameWebSocket)
	}
	if set&TransportHTTP != 0 {
		names = append(names, TransportNameHTTP)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
