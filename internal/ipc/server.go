package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"harmonix/internal/daemon"
	"harmonix/internal/history"
	"harmonix/internal/logging"
	"harmonix/internal/services"
)

// maxWait caps how long a single Progress or Outcome call may block.
const maxWait = time.Minute

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connections blocked in
// a Convert call end when the daemon cancels their invocation.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Convert(req ConvertRequest, resp *ConvertResponse) error {
	s.logger.Debug("convert requested", logging.Int("files", len(req.Request.Files)))
	outcome, err := s.daemon.Convert(s.ctx, req.Request, nil)
	resp.Outcome = outcome
	// Invocation failures travel in Outcome.Error so the caller still gets
	// the id and status.
	if err != nil && outcome.Error == "" {
		return err
	}
	return nil
}

func (s *service) Start(req StartRequest, resp *StartResponse) error {
	id, err := s.daemon.Submit(s.ctx, req.Request)
	if err != nil {
		return err
	}
	resp.InvocationID = id
	s.logger.Info("invocation submitted via IPC",
		logging.String(logging.FieldEventType, "invocation_submitted"),
		logging.String(logging.FieldInvocationID, id))
	return nil
}

func (s *service) Progress(req ProgressRequest, resp *ProgressResponse) error {
	id := strings.TrimSpace(req.InvocationID)
	if id == "" {
		return errors.New("progress requires an invocation id")
	}
	wait := clampWait(req.WaitMillis)
	ctx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	batch, err := s.daemon.Progress(ctx, id, req.Since, req.Limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Events = batch.Events
	resp.Next = batch.Next
	resp.Done = batch.Done
	resp.Dropped = batch.Dropped
	return nil
}

func (s *service) Outcome(req OutcomeRequest, resp *OutcomeResponse) error {
	id := strings.TrimSpace(req.InvocationID)
	if id == "" {
		return errors.New("outcome requires an invocation id")
	}
	wait := clampWait(req.WaitMillis)
	ctx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	outcome, running, err := s.daemon.Outcome(ctx, id, wait > 0)
	if err != nil {
		return err
	}
	resp.Outcome = outcome
	resp.Running = running
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	resp.Canceled = s.daemon.Cancel(strings.TrimSpace(req.InvocationID))
	if resp.Canceled {
		s.logger.Info("invocation canceled via IPC",
			logging.String(logging.FieldEventType, "invocation_cancel"),
			logging.String(logging.FieldInvocationID, req.InvocationID))
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.Active = status.Active
	resp.HistoryPath = status.HistoryPath
	resp.LockPath = status.LockPath
	resp.SocketPath = status.SocketPath
	resp.Checks = fromChecks(status.Checks)
	resp.Stats = make(map[string]int, len(status.Stats))
	for k, v := range status.Stats {
		resp.Stats[string(k)] = v
	}
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	opts := history.ListOptions{Limit: req.Limit}
	for _, raw := range req.Statuses {
		status, ok := history.ParseStatus(strings.TrimSpace(raw))
		if !ok {
			return services.Wrap(services.ErrValidation, "ipc", "history", fmt.Sprintf("unknown status %q", raw), nil)
		}
		opts.Statuses = append(opts.Statuses, status)
	}
	records, err := s.daemon.History(s.ctx, opts)
	if err != nil {
		return err
	}
	resp.Records = make([]HistoryRecord, 0, len(records))
	for _, rec := range records {
		resp.Records = append(resp.Records, FromRecord(rec))
	}
	return nil
}

func clampWait(millis int) time.Duration {
	if millis <= 0 {
		return 0
	}
	wait := time.Duration(millis) * time.Millisecond
	if wait > maxWait {
		return maxWait
	}
	return wait
}
