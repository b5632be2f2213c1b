package backendgrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/version"
	"github.com/sciexp/flytezen/schema"
)

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "x-request-id"

// awaitSlack is added to the transport deadline of a bounded wait so the
// server-side timeout fires first.
const awaitSlack = 5 * time.Second

// ClientConfig controls the backend client.
type ClientConfig struct {
	Endpoint       string
	Insecure       bool
	Project        string
	Domain         string
	ConsoleURL     string
	RequestTimeout time.Duration
}

// Client implements core.Backend over gRPC.
type Client struct {
	cfg  ClientConfig
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

var _ core.Backend = (*Client)(nil)

// Dial creates a backend client. Endpoints starting with "/" are treated as
// Unix domain sockets.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("backend endpoint is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds := insecure.NewCredentials()
	if !cfg.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithUserAgent("flytezen/" + version.Current()),
	}
	target := cfg.Endpoint
	if strings.HasPrefix(target, "/") {
		dialer := func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		}
		target = "passthrough:///" + cfg.Endpoint
		opts = append(opts, grpc.WithContextDialer(dialer))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Debug("backend grpc client created", "endpoint", cfg.Endpoint, "insecure", cfg.Insecure)
	return &Client{cfg: cfg, conn: conn, cc: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, cfg ClientConfig) *Client {
	return &Client{cfg: cfg, cc: cc}
}

// Close closes the underlying gRPC connection when the client owns it.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks the backend health service.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	resp, err := healthpb.NewHealthClient(c.cc).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return wrapBackendError("ping", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return core.NewBackendError(core.BackendErrorUnavailable, "ping", fmt.Errorf("service status %s", resp.GetStatus()))
	}
	return nil
}

// Register registers entity at version in the configured project and domain.
func (c *Client) Register(ctx context.Context, entity schema.EntityRef, settings schema.RegistrationSettings, version string) error {
	log := pslog.Ctx(ctx)
	log.Debug("backend grpc register start", "entity", entity.QualifiedName(), "version", version, "image", settings.Image, "fast", settings.FastPackage != nil)
	req := settingsToMap(settings)
	req["project"] = c.cfg.Project
	req["domain"] = c.cfg.Domain
	req["entity"] = entityToMap(entity)
	req["version"] = version
	if _, err := c.unary(ctx, methodRegisterEntity, req); err != nil {
		logGRPCError(log, "backend grpc register failed", err)
		return wrapBackendError("register", err)
	}
	return nil
}

// Submit creates an execution and returns without waiting for it.
func (c *Client) Submit(ctx context.Context, req schema.SubmitRequest) (schema.ExecutionHandle, error) {
	log := pslog.Ctx(ctx)
	project := firstNonEmpty(req.Project, c.cfg.Project)
	domain := firstNonEmpty(req.Domain, c.cfg.Domain)
	log.Debug("backend grpc submit start", "entity", req.Entity.QualifiedName(), "version", req.Version, "project", project, "domain", domain)
	resp, err := c.unary(ctx, methodCreateExecution, map[string]any{
		"project":     project,
		"domain":      domain,
		"entity":      entityToMap(req.Entity),
		"version":     req.Version,
		"name_prefix": req.NamePrefix,
		"inputs":      map[string]any(req.Inputs),
	})
	if err != nil {
		logGRPCError(log, "backend grpc submit failed", err)
		return schema.ExecutionHandle{}, wrapBackendError("submit", err, schema.ErrEntityNotRegistered)
	}
	handle := handleFromMap(fieldMap(resp, "execution"))
	if err := schema.ValidateExecutionName(handle.Name); err != nil {
		return schema.ExecutionHandle{}, core.NewBackendError(core.BackendErrorInvalid, "submit", fmt.Errorf("%w: %q", err, handle.Name))
	}
	return handle, nil
}

// Await waits up to timeout for the execution to finish.
func (c *Client) Await(ctx context.Context, handle schema.ExecutionHandle, timeout time.Duration) (schema.CompletedExecution, error) {
	log := pslog.Ctx(ctx)
	callCtx, cancel := context.WithTimeout(ctx, timeout+awaitSlack)
	defer cancel()
	resp, err := c.invoke(callCtx, methodWaitExecution, map[string]any{
		"execution":  handleToMap(handle),
		"timeout_ms": timeout.Milliseconds(),
	})
	if err != nil {
		if ctx.Err() == nil && status.Code(err) == codes.DeadlineExceeded {
			return schema.CompletedExecution{}, schema.ErrPollTimeout
		}
		logGRPCError(log, "backend grpc wait failed", err)
		return schema.CompletedExecution{}, wrapBackendError("wait", err, schema.ErrExecutionNotFound)
	}
	if !fieldBool(resp, "completed") {
		return schema.CompletedExecution{}, schema.ErrPollTimeout
	}
	st, err := statusFromMap(fieldMap(resp, "status"))
	if err != nil {
		return schema.CompletedExecution{}, core.NewBackendError(core.BackendErrorInvalid, "wait", err)
	}
	return schema.CompletedExecution{
		Handle:  handle,
		Status:  st,
		Outputs: schema.Outputs(fieldMap(resp, "outputs")),
	}, nil
}

// Sync fetches the current execution status.
func (c *Client) Sync(ctx context.Context, handle schema.ExecutionHandle) (schema.ExecutionStatus, error) {
	log := pslog.Ctx(ctx)
	resp, err := c.unary(ctx, methodGetExecution, map[string]any{"execution": handleToMap(handle)})
	if err != nil {
		logGRPCError(log, "backend grpc sync failed", err)
		return schema.ExecutionStatus{}, wrapBackendError("sync", err, schema.ErrExecutionNotFound)
	}
	st, err := statusFromMap(fieldMap(resp, "status"))
	if err != nil {
		return schema.ExecutionStatus{}, core.NewBackendError(core.BackendErrorInvalid, "sync", err)
	}
	return st, nil
}

// Terminate aborts a running execution.
func (c *Client) Terminate(ctx context.Context, handle schema.ExecutionHandle, reason string) error {
	log := pslog.Ctx(ctx)
	log.Info("backend grpc terminate", "execution", handle.Name, "reason", reason)
	_, err := c.unary(ctx, methodTerminateExecution, map[string]any{
		"execution": handleToMap(handle),
		"reason":    reason,
	})
	if err != nil {
		logGRPCError(log, "backend grpc terminate failed", err)
		return wrapBackendError("terminate", err, schema.ErrNotTerminable, schema.ErrExecutionNotFound)
	}
	return nil
}

// CreateUploadLocation asks the backend where to stage a source bundle.
func (c *Client) CreateUploadLocation(ctx context.Context, project, domain, digest, filename string) (schema.StagingLocation, error) {
	log := pslog.Ctx(ctx)
	resp, err := c.unary(ctx, methodCreateUploadLocation, map[string]any{
		"project":  firstNonEmpty(project, c.cfg.Project),
		"domain":   firstNonEmpty(domain, c.cfg.Domain),
		"digest":   digest,
		"filename": filename,
	})
	if err != nil {
		logGRPCError(log, "backend grpc upload location failed", err)
		return schema.StagingLocation{}, wrapBackendError("create upload location", err)
	}
	loc := locationFromMap(fieldMap(resp, "location"))
	if loc.Bucket == "" || loc.Key == "" {
		return schema.StagingLocation{}, core.NewBackendError(core.BackendErrorInvalid, "create upload location", errors.New("backend returned an empty location"))
	}
	return loc, nil
}

// ConsoleURL links to the execution in the backend console.
func (c *Client) ConsoleURL(handle schema.ExecutionHandle) string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.ConsoleURL), "/")
	if base == "" || handle.Name == "" {
		return ""
	}
	return fmt.Sprintf("%s/console/projects/%s/domains/%s/executions/%s",
		base, url.PathEscape(handle.Project), url.PathEscape(handle.Domain), url.PathEscape(handle.Name))
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) unary(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	return c.invoke(ctx, method, req)
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	if c.cc == nil {
		return nil, errors.New("backend client not initialized")
	}
	in, err := newStruct(req)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDHeader, requestID)
	pslog.Ctx(ctx).Trace("backend grpc call", "method", method, "request_id", requestID)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}

// wrapBackendError classifies err. When the status message names one of the
// known sentinels, the result also matches it with errors.Is.
func wrapBackendError(op string, err error, known ...error) error {
	if err == nil {
		return nil
	}
	var existing *core.BackendError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return core.NewBackendError(core.BackendErrorCanceled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewBackendError(core.BackendErrorTimeout, op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return core.NewBackendError(core.BackendErrorUnknown, op, err)
	}
	for _, sentinel := range known {
		if strings.Contains(st.Message(), sentinel.Error()) {
			err = fmt.Errorf("%w: %w", sentinel, err)
			break
		}
	}
	return core.NewBackendError(backendKind(st.Code()), op, err)
}

func backendKind(code codes.Code) core.BackendErrorKind {
	switch code {
	case codes.Unauthenticated:
		return core.BackendErrorUnauthorized
	case codes.PermissionDenied:
		return core.BackendErrorPermissionDenied
	case codes.Unavailable:
		return core.BackendErrorUnavailable
	case codes.DeadlineExceeded:
		return core.BackendErrorTimeout
	case codes.Canceled:
		return core.BackendErrorCanceled
	case codes.NotFound:
		return core.BackendErrorNotFound
	case codes.InvalidArgument:
		return core.BackendErrorInvalid
	case codes.AlreadyExists, codes.FailedPrecondition:
		return core.BackendErrorConflict
	default:
		return core.BackendErrorUnknown
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
