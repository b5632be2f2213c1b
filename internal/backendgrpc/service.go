package backendgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified orchestration service name.
const ServiceName = "flytezen.orchestrator.v1.Orchestrator"

const (
	methodRegisterEntity       = "RegisterEntity"
	methodCreateExecution      = "CreateExecution"
	methodWaitExecution        = "WaitExecution"
	methodGetExecution         = "GetExecution"
	methodTerminateExecution   = "TerminateExecution"
	methodCreateUploadLocation = "CreateUploadLocation"
)

// OrchestratorServer is the server API for the orchestration service.
// Every message is a google.protobuf.Struct.
type OrchestratorServer interface {
	RegisterEntity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WaitExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TerminateExecution(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateUploadLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(OrchestratorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrchestratorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrchestratorServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestratorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(methodRegisterEntity, OrchestratorServer.RegisterEntity),
		unaryHandler(methodCreateExecution, OrchestratorServer.CreateExecution),
		unaryHandler(methodWaitExecution, OrchestratorServer.WaitExecution),
		unaryHandler(methodGetExecution, OrchestratorServer.GetExecution),
		unaryHandler(methodTerminateExecution, OrchestratorServer.TerminateExecution),
		unaryHandler(methodCreateUploadLocation, OrchestratorServer.CreateUploadLocation),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flytezen/orchestrator/v1/orchestrator",
}

// RegisterOrchestratorServer registers srv on s.
func RegisterOrchestratorServer(s grpc.ServiceRegistrar, srv OrchestratorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
