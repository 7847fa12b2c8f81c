package inference

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// modelServer is the handler type of serviceDesc.
type modelServer interface {
	handle(ctx context.Context, m method, req *request) (*response, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*modelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodInit.String(), Handler: methodHandler(methodInit)},
		{MethodName: methodGlobalStep.String(), Handler: methodHandler(methodGlobalStep)},
		{MethodName: methodForward.String(), Handler: methodHandler(methodForward)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gozero/dist_zero_model.proto",
}

func methodHandler(m method) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &request{}
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(modelServer)
		if interceptor == nil {
			return s.handle(ctx, m, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: m.fullName()}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return s.handle(ctx, m, r.(*request))
		})
	}
}

// ServerStats counts the calls a Server has answered.
type ServerStats struct {
	Requests   int64 `json:"requests"`
	Failures   int64 `json:"failures"`
	Items      int64 `json:"items"`
	GlobalStep int64 `json:"global_step"`
	Inited     bool  `json:"inited"`
}

// Server exposes a Backend to remote clients over gRPC. All calls run one
// at a time.
type Server struct {
	mu      sync.Mutex
	backend Backend
	inited  atomic.Bool

	grpc *grpc.Server
	log  zerolog.Logger

	requests   atomic.Int64
	failures   atomic.Int64
	items      atomic.Int64
	globalStep atomic.Int64
}

func NewServer(backend Backend, log zerolog.Logger) *Server {
	s := &Server{
		backend: backend,
		log:     log.With().Str("component", "model_server").Logger(),
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.logCalls),
		grpc.MaxRecvMsgSize(64<<20),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("serving model")
	return s.grpc.Serve(lis)
}

// Stop waits for running calls, then closes every connection. The backend
// is owned by the caller.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) Stats() ServerStats {
	return ServerStats{
		Requests:   s.requests.Load(),
		Failures:   s.failures.Load(),
		Items:      s.items.Load(),
		GlobalStep: s.globalStep.Load(),
		Inited:     s.inited.Load(),
	}
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	s.requests.Add(1)
	if err != nil {
		s.failures.Add(1)
		s.log.Warn().Err(err).Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("call failed")
		return nil, s.statusError(ctx, err)
	}
	s.log.Debug().Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("call")
	return resp, nil
}

func (s *Server) handle(ctx context.Context, m method, req *request) (*response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == methodInit {
		if err := s.backend.Init(ctx, req.Model); err != nil {
			s.log.Error().Err(err).Str("model", req.Model.ModelPath).Msg("init failed")
			return nil, err
		}
		s.inited.Store(true)
	}
	if !s.inited.Load() {
		return nil, Errorf(CodeInvalidInput, "hasn't init")
	}

	step, err := s.backend.GlobalStep(ctx)
	if err != nil {
		return nil, err
	}
	s.globalStep.Store(step)
	resp := &response{GlobalStep: step}
	if m != methodForward {
		return resp, nil
	}

	inputs := make([][]bool, len(req.Inputs))
	for i, packed := range req.Inputs {
		in, err := unpackBits(packed, InputDim)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}
	policy, value, err := s.backend.Forward(ctx, inputs)
	if err != nil {
		s.log.Error().Err(err).Int("batch", len(inputs)).Msg("forward failed")
		return nil, err
	}
	if len(policy) == 0 {
		s.log.Warn().Int("batch", len(inputs)).Msg("forward returned empty output")
	}
	s.items.Add(int64(len(inputs)))
	resp.Policy = policy
	resp.Value = value
	return resp, nil
}

// statusError turns a backend error into a gRPC status. The status message
// is the bare backend message and the Code rides in the codeTrailer.
func (s *Server) statusError(ctx context.Context, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, err.Error())
	}
	if terr := grpc.SetTrailer(ctx, metadata.Pairs(codeTrailer, strconv.Itoa(int(e.Code)))); terr != nil {
		s.log.Warn().Err(terr).Msg("set trailer")
	}
	return status.Error(grpcCode(e.Code), e.Msg)
}

func grpcCode(c Code) codes.Code {
	switch c {
	case CodeInvalidInput:
		return codes.InvalidArgument
	case CodeForwardTimeout:
		return codes.DeadlineExceeded
	case CodeUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}
