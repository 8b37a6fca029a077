package provider

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
)

const authorizationHeader = "authorization"

var serverStreamDesc = &grpc.StreamDesc{ServerStreams: true}

// withCredential attaches the bearer token to the outgoing metadata.
func withCredential(ctx context.Context, cred domain.Credential) context.Context {
	if cred.IsZero() {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, cred.Authorization())
}

// UnaryMethod calls one unary gRPC method by its full name,
// e.g. "/bearrobotics.api.v1.services.cloud.APIService/CreateMission".
type UnaryMethod[Req, Resp proto.Message] struct {
	conn    grpc.ClientConnInterface
	method  string
	newResp func() Resp
}

// NewUnaryMethod binds a method name to a connection. newResp allocates the
// reply message for each attempt.
func NewUnaryMethod[Req, Resp proto.Message](
	conn grpc.ClientConnInterface,
	method string,
	newResp func() Resp,
) *UnaryMethod[Req, Resp] {
	return &UnaryMethod[Req, Resp]{conn: conn, method: method, newResp: newResp}
}

// Name returns the full method name.
func (m *UnaryMethod[Req, Resp]) Name() string {
	return m.method
}

// Invoke performs one attempt.
func (m *UnaryMethod[Req, Resp]) Invoke(ctx context.Context, req Req, cred domain.Credential) (Resp, error) {
	resp := m.newResp()
	if err := m.conn.Invoke(withCredential(ctx, cred), m.method, req, resp); err != nil {
		var zero Resp
		return zero, err
	}
	return resp, nil
}

// StreamMethod opens one server-streaming gRPC method by its full name.
type StreamMethod[Req, Resp proto.Message] struct {
	conn    grpc.ClientConnInterface
	method  string
	newResp func() Resp
}

// NewStreamMethod binds a server-streaming method name to a connection.
func NewStreamMethod[Req, Resp proto.Message](
	conn grpc.ClientConnInterface,
	method string,
	newResp func() Resp,
) *StreamMethod[Req, Resp] {
	return &StreamMethod[Req, Resp]{conn: conn, method: method, newResp: newResp}
}

// Name returns the full method name.
func (m *StreamMethod[Req, Resp]) Name() string {
	return m.method
}

// Open starts a new stream for req. The stream lives until ctx is done.
func (m *StreamMethod[Req, Resp]) Open(
	ctx context.Context,
	req Req,
	cred domain.Credential,
) (retry.Receiver[Resp], error) {
	cs, err := m.conn.NewStream(withCredential(ctx, cred), serverStreamDesc, m.method)
	if err != nil {
		return nil, err
	}
	// io.EOF from SendMsg means the server already ended the stream; the
	// status surfaces on the first Recv.
	if err := cs.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &receiver[Resp]{stream: cs, newResp: m.newResp}, nil
}

type receiver[Resp proto.Message] struct {
	stream  grpc.ClientStream
	newResp func() Resp
}

func (r *receiver[Resp]) Recv() (Resp, error) {
	msg := r.newResp()
	if err := r.stream.RecvMsg(msg); err != nil {
		var zero Resp
		return zero, err
	}
	return msg, nil
}
