package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/logging"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/state"
)

// #region payloads

// ScheduleRequest is the Schedule RPC payload. Budget falls back to the
// orchestrator's probe budget.
type ScheduleRequest struct {
	Context scheduler.Context `json:"context"`
	Budget  *float64          `json:"budget,omitempty"`
}

// ScheduleReply is the Schedule RPC response.
type ScheduleReply struct {
	Decision  scheduler.Decision  `json:"decision"`
	Selection scheduler.Selection `json:"selection"`
}

// #endregion payloads

// #region server

// Server serves the audit service from one shared orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	store  *state.Store
	logger *zap.Logger
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithSnapshotStore persists a scheduler snapshot after every call that
// changes scheduler history.
func WithSnapshotStore(st *state.Store) ServerOption {
	return func(s *Server) { s.store = st }
}

// NewServer wraps orch.
func NewServer(orch *orchestrator.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{orch: orch, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze runs one analysis. A violation under fail-on-violation maps to
// FailedPrecondition.
func (s *Server) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orchestrator.Input
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.orch.Analyze(ctx, in)
	if res != nil {
		s.persist("analyze " + res.RunID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Schedule runs one scheduling decision and probe selection.
func (s *Server) Schedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}
	var in ScheduleRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	budget := s.orch.Config().ProbeBudget
	if in.Budget != nil {
		budget = *in.Budget
	}
	decision := s.orch.Schedule(in.Context)
	s.persist("schedule")
	out, err := toStruct(ScheduleReply{
		Decision:  decision,
		Selection: scheduler.SelectProbes(budget, decision),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Stats returns the scheduler history statistics.
func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(s.orch.Stats())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) persist(note string) {
	if s.store == nil {
		return
	}
	if _, err := s.store.SaveSnapshot(s.orch.ExportState(), note); err != nil {
		s.logger.Error("save scheduler snapshot", zap.String("note", note), zap.Error(err))
	}
}

func toStatus(err error) error {
	var ve *invariant.ViolationError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// #endregion server

// #region grpc-server

// NewGRPCServer returns a grpc.Server that logs every unary call.
func NewGRPCServer(logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(LoggingInterceptor(logger)))
	return grpc.NewServer(opts...)
}

// LoggingInterceptor logs method, status code and latency of each call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}

// #endregion grpc-server
