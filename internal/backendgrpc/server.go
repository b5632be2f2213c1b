package backendgrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/schema"
)

const (
	defaultWaitTimeout = 3 * time.Second
	maxWaitTimeout     = time.Minute
)

// Server exposes a core.Backend as the orchestration gRPC service.
type Server struct {
	backend core.Backend
	logger  pslog.Logger
	health  *health.Server
}

var _ OrchestratorServer = (*Server)(nil)

// NewServer constructs a backend gRPC server.
func NewServer(backend core.Backend) *Server {
	return &Server{backend: backend, health: health.NewServer()}
}

// Register attaches the orchestration and health services to g.
func (s *Server) Register(g *grpc.Server) {
	RegisterOrchestratorServer(g, s)
	healthpb.RegisterHealthServer(g, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// NewGRPCServer returns a grpc.Server with logging and the services registered.
func (s *Server) NewGRPCServer() *grpc.Server {
	g := grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	s.Register(g)
	return g
}

// ListenAndServe listens on addr (host:port, or a path for a Unix socket)
// and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("listen address is required")
	}
	network := "tcp"
	if strings.HasPrefix(addr, "/") {
		network = "unix"
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return err
		}
		_ = os.Remove(addr)
	}
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	grpcServer := s.NewGRPCServer()
	s.logger.Info("backend grpc listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// RegisterEntity registers an entity version.
func (s *Server) RegisterEntity(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	entity := entityFromMap(fieldMap(req, "entity"))
	version := fieldString(req, "version")
	if entity.Name == "" || version == "" {
		return nil, status.Error(codes.InvalidArgument, "entity and version are required")
	}
	if err := s.backend.Register(ctx, entity, settingsFromMap(req), version); err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(nil)
}

// CreateExecution starts an execution.
func (s *Server) CreateExecution(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	handle, err := s.backend.Submit(ctx, schema.SubmitRequest{
		Entity:     entityFromMap(fieldMap(req, "entity")),
		Inputs:     schema.Inputs(fieldMap(req, "inputs")),
		Version:    fieldString(req, "version"),
		NamePrefix: fieldString(req, "name_prefix"),
		Project:    fieldString(req, "project"),
		Domain:     fieldString(req, "domain"),
	})
	if err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(map[string]any{"execution": handleToMap(handle)})
}

// WaitExecution blocks up to timeout_ms for the execution to finish.
func (s *Server) WaitExecution(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	handle := handleFromMap(fieldMap(req, "execution"))
	timeout := time.Duration(fieldNumber(req, "timeout_ms")) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}
	done, err := s.backend.Await(ctx, handle, timeout)
	if errors.Is(err, schema.ErrPollTimeout) {
		return newStruct(map[string]any{"completed": false})
	}
	if err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(map[string]any{
		"completed": true,
		"status":    statusToMap(done.Status),
		"outputs":   map[string]any(done.Outputs),
	})
}

// GetExecution returns the current execution status.
func (s *Server) GetExecution(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	handle := handleFromMap(fieldMap(in.AsMap(), "execution"))
	st, err := s.backend.Sync(ctx, handle)
	if err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(map[string]any{"status": statusToMap(st)})
}

// TerminateExecution aborts a running execution.
func (s *Server) TerminateExecution(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	handle := handleFromMap(fieldMap(req, "execution"))
	if err := s.backend.Terminate(ctx, handle, fieldString(req, "reason")); err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(nil)
}

// CreateUploadLocation returns where a source bundle should be staged.
func (s *Server) CreateUploadLocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := in.AsMap()
	digest := fieldString(req, "digest")
	filename := fieldString(req, "filename")
	if digest == "" || filename == "" {
		return nil, status.Error(codes.InvalidArgument, "digest and filename are required")
	}
	loc, err := s.backend.CreateUploadLocation(ctx, fieldString(req, "project"), fieldString(req, "domain"), digest, filename)
	if err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(map[string]any{"location": locationToMap(loc)})
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	log := s.log(ctx).With("method", info.FullMethod)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDHeader); len(ids) > 0 {
			log = log.With("request_id", ids[0])
		}
	}
	start := time.Now()
	resp, err := handler(pslog.ContextWithLogger(ctx, log), req)
	if err != nil {
		log.Debug("backend grpc request failed", "code", status.Code(err).String(), "err", err, "duration", time.Since(start))
		return resp, err
	}
	log.Trace("backend grpc request", "duration", time.Since(start))
	return resp, nil
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	var backendErr *core.BackendError
	switch {
	case errors.Is(err, schema.ErrExecutionNotFound),
		errors.Is(err, schema.ErrEntityNotRegistered),
		errors.Is(err, schema.ErrEntityNotFound):
		code = codes.NotFound
	case errors.Is(err, schema.ErrNotTerminable):
		code = codes.FailedPrecondition
	case errors.Is(err, schema.ErrInvalidExecutionName),
		errors.Is(err, schema.ErrInvalidPhase),
		errors.Is(err, schema.ErrInvalidMode):
		code = codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.As(err, &backendErr):
		switch backendErr.Kind {
		case core.BackendErrorConflict:
			code = codes.AlreadyExists
		case core.BackendErrorInvalid:
			code = codes.InvalidArgument
		case core.BackendErrorNotFound:
			code = codes.NotFound
		case core.BackendErrorUnavailable:
			code = codes.Unavailable
		}
	}
	return status.Error(code, err.Error())
}
