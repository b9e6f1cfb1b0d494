package stream

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "daswaterfall.WaterfallStream"

// WaterfallStreamServer is implemented by Server.
type WaterfallStreamServer interface {
	StreamFrames(*StreamRequest, FrameSender) error
}

// FrameSender is the server side of a StreamFrames call.
type FrameSender interface {
	Send(*Frame) error
	grpc.ServerStream
}

type frameSender struct {
	grpc.ServerStream
}

func (s *frameSender) Send(f *Frame) error { return s.ServerStream.SendMsg(f) }

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(WaterfallStreamServer).StreamFrames(req, &frameSender{stream})
}

// ServiceDesc describes daswaterfall.WaterfallStream.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WaterfallStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamFrames",
		Handler:       streamFramesHandler,
		ServerStreams: true,
	}},
	Metadata: "daswire",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv WaterfallStreamServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls WaterfallStream.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// FrameReceiver is the client side of a StreamFrames call.
type FrameReceiver interface {
	Recv() (*Frame, error)
	grpc.ClientStream
}

type frameReceiver struct {
	grpc.ClientStream
}

func (r *frameReceiver) Recv() (*Frame, error) {
	f := new(Frame)
	if err := r.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// StreamFrames opens a frame stream. The daswire codec is selected
// automatically.
func (c *Client) StreamFrames(ctx context.Context, req *StreamRequest, opts ...grpc.CallOption) (FrameReceiver, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	s, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/StreamFrames", opts...)
	if err != nil {
		return nil, err
	}
	r := &frameReceiver{s}
	if err := r.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := r.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return r, nil
}
