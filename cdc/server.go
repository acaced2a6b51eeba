package cdc

import (
	"encoding/json"

	"github.com/go-kit/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/deltakernel/deltakernel/errs"
)

// Server exposes Subscribe to out-of-process consumers over a streaming RPC
// (§4.7 "CDCStream"). Wire messages are a JSON-encoded Record carried inside
// a wrapperspb.BytesValue: this avoids a protoc code-generation step (no
// planetscale/vtprotobuf in this tree, see DESIGN.md) while still running on
// the real grpc/protobuf wire stack, since BytesValue is a stable, already-
// generated well-known message the client and server both link against.
type Server struct {
	reader *Reader
	logger log.Logger
}

func NewServer(reader *Reader, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{reader: reader, logger: logger}
}

// streamDesc describes the single bidi-free server-streaming method
// CDCStream(SubscribeRequest) returns (stream Record).
var streamDesc = grpc.ServiceDesc{
	ServiceName: "deltakernel.cdc.v1.CDC",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CDCStream",
			Handler:       cdcStreamHandler,
			ServerStreams: true,
		},
	},
}

// ServiceDesc is the grpc.ServiceDesc to pass to grpc.Server.RegisterService
// along with a *Server as its implementation value.
func ServiceDesc() grpc.ServiceDesc { return streamDesc }

func cdcStreamHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)

	var reqMsg wrapperspb.BytesValue
	if err := stream.RecvMsg(&reqMsg); err != nil {
		return err
	}
	var req SubscribeRequest
	if err := json.Unmarshal(reqMsg.Value, &req); err != nil {
		return errs.Wrap(errs.KindValidation, err, "decode CDCStream request")
	}

	ctx := stream.Context()
	errCh := make(chan error, 1)

	unsubscribe := s.reader.Subscribe(ctx, s.logger, func(rec Record) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return stream.SendMsg(&wrapperspb.BytesValue{Value: payload})
	}, SubscribeOptions{
		Filter: Filter{
			FromSeq:       req.FromSeq,
			FromTimestamp: req.FromTimestamp,
			Operations:    req.Operations,
		},
		OnError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// SubscribeRequest is the JSON payload a CDCStream client sends to start a
// subscription.
type SubscribeRequest struct {
	FromSeq       int64       `json:"fromSeq"`
	FromTimestamp int64       `json:"fromTimestamp"`
	Operations    []Operation `json:"operations,omitempty"`
}
