package visualiser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sweepsync/internal/lidar/debug"
)

const (
	serviceName      = "sweepsync.debug.v1.DebugStream"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	subscribeStreamN = "Subscribe"
)

// DebugStreamServer is the server side of the debug stream service. The
// request names a topic; each response carries one encoded artifact.
type DebugStreamServer interface {
	Subscribe(topic *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var debugStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DebugStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeStreamN,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sweepsync/debug/v1/debug_stream.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(DebugStreamServer).Subscribe(req, stream)
}

// Subscribe streams artifacts on the requested topic until the client goes
// away or the publisher stops.
func (p *Publisher) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	topic := req.GetValue()
	if topic == "" || (topic != p.config.ReprojectedTopic && topic != p.config.RangeImageTopic) {
		return status.Errorf(codes.NotFound, "unknown topic %q", topic)
	}
	c, err := p.addClient(topic)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case msg := <-c.ch:
			if err := stream.SendMsg(wrapperspb.Bytes(msg)); err != nil {
				diagf("send to client %d failed: %v", c.id, err)
				return err
			}
		}
	}
}

// Subscribe opens a debug stream on cc and calls fn for every artifact
// received on topic. It returns nil when the server ends the stream, and the
// first error from fn otherwise. The stream is cancelled on return.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, topic string, fn func(*debug.Artifact) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := cc.NewStream(ctx, &debugStreamServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(topic)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		a, err := DecodeArtifact(msg.GetValue())
		if err != nil {
			return fmt.Errorf("decode artifact: %w", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}
}
