// Package grpc adapts the shared Connection Manager / filter pipeline /
// broadcaster onto a gRPC bidirectional stream (spec §6.2), grounded on
// the teacher's internal/handler/grpc/delivery.go Stream method. The
// message set is carried over the jsonCodec adaptation (see codec.go and
// DESIGN.md) rather than protoc-generated types.
package grpc

import (
	"log/slog"
	"time"

	"github.com/hybriddns/eventfabric/internal/auth"
	"github.com/hybriddns/eventfabric/internal/broadcaster"
	"github.com/hybriddns/eventfabric/internal/connmgr"
	"github.com/hybriddns/eventfabric/internal/filterpipe"
	"github.com/hybriddns/eventfabric/internal/transport"
	"github.com/hybriddns/eventfabric/internal/wire"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StreamRequest is the single handshake message that opens a Stream call,
// carrying the bearer token since gRPC clients on this binding authenticate
// on the stream itself rather than via a separate HTTP header (spec §6.4).
type StreamRequest struct {
	Token string `json:"token"`
}

// Service implements the raw (non-protoc-generated) Delivery.Stream RPC.
type Service struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	manager  *connmgr.Manager
	router   *transport.Router
}

func NewService(logger *slog.Logger, verifier *auth.Verifier, manager *connmgr.Manager, pipeline *filterpipe.Pipeline, b *broadcaster.Broadcaster) *Service {
	return &Service{
		logger:   logger,
		verifier: verifier,
		manager:  manager,
		router:   transport.New(manager, pipeline, b, logger),
	}
}

// streamTransport satisfies connmgr.Transport over a single
// grpc.ServerStream. Only the Connection Manager's write loop calls
// SendMsg and only this package's own read loop calls RecvMsg, which
// grpc.ServerStream permits concurrently (but not two concurrent callers
// of the same method), so no additional locking is required.
type streamTransport struct {
	stream grpclib.ServerStream
}

func (t *streamTransport) WriteFrame(f wire.Frame) error {
	return t.stream.SendMsg(f)
}

func (t *streamTransport) Close(connmgr.CloseCode, connmgr.Reason) error {
	return nil // the Stream handler returning is what actually tears down the RPC.
}

// stream is the business logic bound to serviceDesc's "Stream" method.
func (s *Service) stream(rawStream grpclib.ServerStream) error {
	var req StreamRequest
	if err := rawStream.RecvMsg(&req); err != nil {
		return err
	}

	ctx := rawStream.Context()
	claims, err := s.verifier.Verify(ctx, req.Token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "authentication failed")
	}

	adapter := &streamTransport{stream: rawStream}
	sess := s.manager.Accept(ctx, claims.ToIdentity(), adapter)
	startedAt := time.Now()
	l := s.logger.With(slog.String("session_id", sess.ID.String()), slog.String("identity_id", claims.IdentityID.String()))
	l.Info("GRPC_STREAM_ESTABLISHED")
	defer func() {
		s.manager.Close(sess.ID, connmgr.ReasonGoingAway)
		l.Info("GRPC_STREAM_TERMINATED", slog.Duration("duration", time.Since(startedAt)))
	}()

	s.manager.SendControl(sess.ID, wire.NewFrame(wire.MsgConnectionEstablished, wire.ConnectionEstablished{
		SessionID: sess.ID.String(),
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame wire.Frame
			if err := rawStream.RecvMsg(&frame); err != nil {
				return
			}
			if frame.Type == wire.MsgPong {
				s.manager.HandlePong(sess)
				continue
			}
			s.router.Handle(ctx, sess, frame)
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// serviceDesc registers Stream as a bidirectional-streaming RPC without a
// protoc-generated method table; HandlerType is the empty interface so
// grpc.Server's implements-check at RegisterService time always succeeds
// (see DESIGN.md).
var serviceDesc = grpclib.ServiceDesc{
	ServiceName: "eventfabric.delivery.v1.Delivery",
	HandlerType: (*any)(nil),
	Streams: []grpclib.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       func(srv any, stream grpclib.ServerStream) error { return srv.(*Service).stream(stream) },
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "eventfabric/delivery.proto",
}

// Register attaches Service to server.
func Register(server *grpclib.Server, svc *Service) {
	server.RegisterService(&serviceDesc, svc)
}
