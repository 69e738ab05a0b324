package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTransportClosed is returned for calls against a closed transport;
// pending calls receive it when the server process exits.
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport moves JSON-RPC messages to and from one MCP server.
type Transport interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
	Close() error
}

// newTransport builds the transport for a server config.
func newTransport(cfg *ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return NewStdioTransport(cfg), nil
	case TransportHTTP:
		return NewHTTPTransport(cfg), nil
	default:
		return nil, errors.New("mcp: unknown transport " + string(cfg.Transport))
	}
}
