package connmgr

import "github.com/hybriddns/eventfabric/internal/wire"

// Transport decouples the Connection Manager from the concrete wire
// binding (WebSocket, gRPC stream, long-poll) in use for a given Session.
// Each transport package (internal/transport/{ws,grpc,lp}) supplies one.
type Transport interface {
	WriteFrame(wire.Frame) error
	Close(code CloseCode, reason Reason) error
}
