// Package server exposes the governance engine over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/Mutual-Roots/Ford-Perfect/api/warden/v1"
	"github.com/Mutual-Roots/Ford-Perfect/internal/audit"
	"github.com/Mutual-Roots/Ford-Perfect/internal/config"
	"github.com/Mutual-Roots/Ford-Perfect/internal/emergency"
	"github.com/Mutual-Roots/Ford-Perfect/internal/gate"
	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
	"github.com/Mutual-Roots/Ford-Perfect/internal/query"
	"github.com/Mutual-Roots/Ford-Perfect/internal/report"
	"github.com/Mutual-Roots/Ford-Perfect/internal/service"
	"github.com/Mutual-Roots/Ford-Perfect/internal/state"
)

// Config holds gRPC server configuration.
type Config struct {
	Port       int
	ConfigPath string
	ConfigHash string
}

// Server implements the warden.v1.Governance service over a Service.
type Server struct {
	pb.UnimplementedGovernanceServer

	svc    *service.Service
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	configHash string

	grpcServer *grpc.Server
}

// New creates a gRPC server for svc.
func New(svc *service.Service, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:        svc,
		cfg:        cfg,
		logger:     logger,
		configHash: cfg.ConfigHash,
		grpcServer: grpc.NewServer(),
	}
	pb.RegisterGovernanceServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting calls and waits for in-flight ones. Callers
// blocked on a CRITICAL approval keep it from returning; use Stop after a
// deadline.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Stop closes every connection immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// ReloadConfig re-reads the config file and applies the settings that can
// change at runtime. Called by the hot-reloader on file change.
func (s *Server) ReloadConfig() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	s.svc.Reconfigure(cfg)
	s.mu.Lock()
	s.configHash = hash
	s.mu.Unlock()
	return nil
}

// ConfigHash is the hash of the config file currently applied.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

// Propose implements the Propose RPC. It blocks while a HIGH or CRITICAL
// action awaits the supervisor; cancelling the call denies a CRITICAL one.
func (s *Server) Propose(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var draft model.ActionDraft
	if err := pb.Decode(req, &draft); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.Gate.Propose(ctx, draft)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// OutcomeRequest is the body of the Outcome RPC.
type OutcomeRequest struct {
	Corrects string `json:"corrects"`
	Outcome  string `json:"outcome"`
}

// Outcome implements the Outcome RPC.
func (s *Server) Outcome(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in OutcomeRequest
	if err := pb.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := s.svc.Gate.RecordOutcome(ctx, in.Corrects, in.Outcome)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]string{"id": id})
}

// Command implements the Command RPC: supervisor state commands and
// approval resolution. A refused command still returns the receipt in the
// status message.
func (s *Server) Command(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var cmd emergency.Command
	if err := pb.Decode(req, &cmd); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if kind, err := emergency.ParseKind(string(cmd.Kind)); err == nil {
		cmd.Kind = kind
	}
	rcpt, err := s.svc.Channel.Submit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(rcpt)
}

// ResetRequest is the body of the Reset RPC.
type ResetRequest struct {
	Operator string `json:"operator"`
	Note     string `json:"note"`
}

// Reset implements the privileged manual exit from FROZEN.
func (s *Server) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in ResetRequest
	if err := pb.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	snap, err := s.svc.Channel.ManualReset(ctx, in.Operator, in.Note)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(snap)
}

// QueryRequest is the body of the Query RPC.
type QueryRequest struct {
	query.Params
	CountOnly bool `json:"count_only,omitempty"`
}

// QueryResponse is the answer to the Query RPC.
type QueryResponse struct {
	Records []model.ActionRecord `json:"records"`
	Count   int                  `json:"count"`
	Cost    map[string]string    `json:"cost"`
}

// Query implements the Query RPC.
func (s *Server) Query(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in QueryRequest
	if err := pb.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	f, err := in.Params.Filter()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	agg := s.svc.Query.Aggregate(f)
	out := QueryResponse{Records: []model.ActionRecord{}, Count: agg.Count, Cost: agg.Cost.Strings()}
	if !in.CountOnly {
		out.Records = query.Collect(s.svc.Query.Query(f))
	}
	return encode(out)
}

// SummaryRequest is the body of the Summary RPC. Day, as YYYY-MM-DD, takes
// precedence over From and To. An empty request summarizes today.
type SummaryRequest struct {
	Day  string `json:"day,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Window resolves the request against now.
func (r SummaryRequest) Window(now time.Time) (report.Window, error) {
	if r.Day != "" {
		d, err := time.Parse("2006-01-02", r.Day)
		if err != nil {
			return report.Window{}, fmt.Errorf("day: %w", err)
		}
		return report.Day(d), nil
	}
	if r.From == "" && r.To == "" {
		return report.Day(now), nil
	}
	f, err := query.Params{From: r.From, To: r.To}.Filter()
	if err != nil {
		return report.Window{}, err
	}
	return report.Window{From: f.From, To: f.To}, nil
}

// Summary implements the Summary RPC.
func (s *Server) Summary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in SummaryRequest
	if err := pb.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	w, err := in.Window(time.Now())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sum, err := s.svc.Reporter.GenerateSummary(ctx, w)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(sum)
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]any{"pending": s.svc.Channel.Pending()})
}

// StateResponse is the answer to the State RPC.
type StateResponse struct {
	State      state.Snapshot `json:"state"`
	Display    string         `json:"display"`
	Pending    int            `json:"pending"`
	Records    int            `json:"records"`
	HighWindow string         `json:"high_window"`
	ConfigHash string         `json:"config_hash,omitempty"`
}

// State implements the State RPC.
func (s *Server) State(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap := s.svc.State.Snapshot()
	return encode(StateResponse{
		State:      snap,
		Display:    snap.String(),
		Pending:    len(s.svc.Channel.Pending()),
		Records:    s.svc.Store.Len(),
		HighWindow: s.svc.Gate.HighWindow().String(),
		ConfigHash: s.ConfigHash(),
	})
}

func encode(v any) (*structpb.Struct, error) {
	out, err := pb.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps engine errors to gRPC codes. The message keeps the error
// text so clients can recover the sentinel.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, model.ErrMalformedAction),
		errors.Is(err, emergency.ErrMalformedCommand),
		errors.Is(err, state.ErrReasonRequired),
		errors.Is(err, report.ErrInvalidWindow):
		code = codes.InvalidArgument
	case errors.Is(err, audit.ErrStorageUnavailable):
		code = codes.Unavailable
	case errors.Is(err, audit.ErrNotFound), errors.Is(err, gate.ErrPendingNotFound):
		code = codes.NotFound
	case errors.Is(err, gate.ErrAlreadyResolved):
		code = codes.AlreadyExists
	case errors.Is(err, state.ErrInvalidTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
