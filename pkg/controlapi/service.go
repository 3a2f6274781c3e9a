package controlapi

import (
	"context"

	"google.golang.org/grpc"
)

// Backend is the operations the gRPC/HTTP surfaces need from a routed
// engine instance. EngineAdapter satisfies it by wrapping a *engine.Engine.
type Backend interface {
	Open(ctx context.Context) (posIndex, posTerm uint64, err error)
	Status(ctx context.Context) ([]StatusItem, error)
	CreateSnapshot(ctx context.Context, name string) (posIndex, posTerm uint64, err error)
	OpenSnapshot(ctx context.Context, index, term uint64) error
	DeleteSnapshot(ctx context.Context, name string) error
	ReadMetadata(ctx context.Context, key string) (posIndex, posTerm uint64, value []byte, found bool, err error)
	Read(ctx context.Context, module, function string, args []byte) ([]byte, error)
	ReadAt(ctx context.Context, atIndex uint64, module, function string, args []byte) ([]byte, error)
}

// Resolver locates the Backend that owns a partition. RouterResolver
// satisfies this over a *routing.Router for locally hosted engines; a
// deployment fronting remote partitions returns a forwarding stub instead.
type Resolver interface {
	Resolve(ref PartitionRef) (Backend, error)
}

// Server implements the hand-registered msgpack gRPC service.
type Server struct {
	resolver Resolver
}

// NewServer builds a Server backed by resolver.
func NewServer(resolver Resolver) *Server {
	return &Server{resolver: resolver}
}

func (s *Server) Open(ctx context.Context, req *OpenRequest) (*OpenResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	idx, term, err := b.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &OpenResponse{Index: idx, Term: term}, nil
}

func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	items, err := b.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{Items: items}, nil
}

func (s *Server) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	idx, term, err := b.CreateSnapshot(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	return &CreateSnapshotResponse{Index: idx, Term: term}, nil
}

func (s *Server) OpenSnapshot(ctx context.Context, req *OpenSnapshotRequest) (*OpenSnapshotResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	if err := b.OpenSnapshot(ctx, req.Index, req.Term); err != nil {
		return nil, err
	}
	return &OpenSnapshotResponse{}, nil
}

func (s *Server) DeleteSnapshot(ctx context.Context, req *DeleteSnapshotRequest) (*DeleteSnapshotResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	if err := b.DeleteSnapshot(ctx, req.Name); err != nil {
		return nil, err
	}
	return &DeleteSnapshotResponse{}, nil
}

func (s *Server) ReadMetadata(ctx context.Context, req *ReadMetadataRequest) (*ReadMetadataResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}
	idx, term, value, found, err := b.ReadMetadata(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return &ReadMetadataResponse{Index: idx, Term: term, Value: value, Found: found}, nil
}

func (s *Server) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	b, err := s.resolver.Resolve(req.Partition)
	if err != nil {
		return nil, err
	}

	compile := func() (module, function string, args []byte, err error) {
		if req.Module != "" {
			return req.Module, req.Function, req.Args, nil
		}
		return compileReadLine(req.Line)
	}
	module, function, args, err := compile()
	if err != nil {
		return &ReadResponse{IsError: true, Err: err.Error()}, nil
	}

	var value []byte
	if req.AtIndex > 0 {
		value, err = b.ReadAt(ctx, req.AtIndex, module, function, args)
	} else {
		value, err = b.Read(ctx, module, function, args)
	}
	if err != nil {
		return &ReadResponse{IsError: true, Err: err.Error()}, nil
	}
	return &ReadResponse{Value: value}, nil
}

// unaryHandler adapts one of Server's typed methods to grpc's untyped
// method-handler signature, decoding the request with whatever codec the
// call negotiated (msgpackCodec in every real deployment of this service).
func unaryHandler[Req any, Resp any](fn func(*Server, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return fn(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: ServiceName}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(s, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// ServiceName is the gRPC service path clients dial against.
const ServiceName = "raftengine.ControlAPI"

// ServiceDesc is registered directly with a *grpc.Server via
// RegisterServer — there is no generated *_grpc.pb.go here, only this
// hand-written descriptor over the msgpack codec above.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Open", Handler: unaryHandler((*Server).Open)},
		{MethodName: "Status", Handler: unaryHandler((*Server).Status)},
		{MethodName: "CreateSnapshot", Handler: unaryHandler((*Server).CreateSnapshot)},
		{MethodName: "OpenSnapshot", Handler: unaryHandler((*Server).OpenSnapshot)},
		{MethodName: "DeleteSnapshot", Handler: unaryHandler((*Server).DeleteSnapshot)},
		{MethodName: "ReadMetadata", Handler: unaryHandler((*Server).ReadMetadata)},
		{MethodName: "Read", Handler: unaryHandler((*Server).Read)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "controlapi.proto",
}

// RegisterServer registers s against gs.
func RegisterServer(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}
