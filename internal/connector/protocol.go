// Package connector runs one persistent WebSocket session per market.
//
// A Connector owns the session lifecycle (dial, subscribe, keep-alive, read,
// reconnect) and delegates everything venue specific to a Protocol.
package connector

import (
	"errors"

	"github.com/fushengyk/spreadscan/internal/domain"
)

// ErrIgnored marks a well formed frame that carries no quote (acks, pongs)
var ErrIgnored = errors.New("ignored frame")

// Protocol translates between a venue wire format and MarketQuotes
type Protocol interface {
	// URL is the session endpoint
	URL() string
	// SubscribeMessages encodes subscribe requests for canonical symbols
	SubscribeMessages(symbols []string) ([][]byte, error)
	// PingMessage returns a client ping frame, or nil when the venue pings the client
	PingMessage() []byte
	// Decode parses one inbound frame
	Decode(msg []byte) (Decoded, error)
}

// Decoded is the result of one inbound frame
type Decoded struct {
	Quotes []domain.MarketQuote
	// Reply is written back as-is, e.g. a pong for a server ping
	Reply []byte
}
