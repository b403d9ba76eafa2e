package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "proofnet.v1.ProofService"

const (
	methodGetProof        = "/" + ServiceName + "/GetProof"
	methodGetXRPLProof    = "/" + ServiceName + "/GetXRPLProof"
	methodSubscribeProofs = "/" + ServiceName + "/SubscribeProofs"
)

// ProofServiceServer is the server API for the proof service. Responses
// carry JSON documents wrapped in BytesValue.
type ProofServiceServer interface {
	GetProof(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BytesValue, error)
	GetXRPLProof(context.Context, *wrapperspb.UInt64Value) (*wrapperspb.BytesValue, error)
	SubscribeProofs(*emptypb.Empty, ProofService_SubscribeProofsServer) error
}

type ProofService_SubscribeProofsServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type proofServiceSubscribeProofsServer struct {
	grpc.ServerStream
}

func (x *proofServiceSubscribeProofsServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func _ProofService_GetProof_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProofServiceServer).GetProof(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetProof}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProofServiceServer).GetProof(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProofService_GetXRPLProof_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProofServiceServer).GetXRPLProof(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetXRPLProof}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProofServiceServer).GetXRPLProof(ctx, req.(*wrapperspb.UInt64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProofService_SubscribeProofs_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ProofServiceServer).SubscribeProofs(m, &proofServiceSubscribeProofsServer{stream})
}

// ProofService_ServiceDesc is the grpc.ServiceDesc for the proof service.
var ProofService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProofServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProof", Handler: _ProofService_GetProof_Handler},
		{MethodName: "GetXRPLProof", Handler: _ProofService_GetXRPLProof_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeProofs",
			Handler:       _ProofService_SubscribeProofs_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "proofnet/v1/proof.proto",
}

// RegisterProofServiceServer registers srv on s.
func RegisterProofServiceServer(s grpc.ServiceRegistrar, srv ProofServiceServer) {
	s.RegisterService(&ProofService_ServiceDesc, srv)
}

// Client is a typed client for the proof service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetProof fetches the stored proof for a request.
func (c *Client) GetProof(ctx context.Context, requestID uint64, opts ...grpc.CallOption) (*ProofView, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodGetProof, wrapperspb.UInt64(requestID), out, opts...); err != nil {
		return nil, err
	}
	var view ProofView
	if err := json.Unmarshal(out.GetValue(), &view); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &view, nil
}

// GetXRPLProof fetches an XRPL proof with DER encoded signatures.
func (c *Client) GetXRPLProof(ctx context.Context, requestID uint64, opts ...grpc.CallOption) (*XRPLProofView, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodGetXRPLProof, wrapperspb.UInt64(requestID), out, opts...); err != nil {
		return nil, err
	}
	var view XRPLProofView
	if err := json.Unmarshal(out.GetValue(), &view); err != nil {
		return nil, fmt.Errorf("decode xrpl proof: %w", err)
	}
	return &view, nil
}

// SubscribeProofs opens a stream of proofs completed from now on.
func (c *Client) SubscribeProofs(ctx context.Context, opts ...grpc.CallOption) (*ProofStream, error) {
	stream, err := c.cc.NewStream(ctx, &ProofService_ServiceDesc.Streams[0], methodSubscribeProofs, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ProofStream{stream: stream}, nil
}

// ProofStream yields proofs pushed by the server.
type ProofStream struct {
	stream grpc.ClientStream
}

func (s *ProofStream) Recv() (*ProofView, error) {
	m := new(wrapperspb.BytesValue)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	var view ProofView
	if err := json.Unmarshal(m.GetValue(), &view); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &view, nil
}
