package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/tonimelisma/fsync/internal/engine"
	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/storage"
)

// maxChannels bounds the number of concurrent client connections (spec.md
// §4.8: "serves up to 10 concurrent channels").
const maxChannels = 10

// Server is the loopback RPC service: it binds an ephemeral TCP port,
// advertises it via a port file, and dispatches each connection's framed
// requests against an engine.Engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger

	mu           sync.Mutex
	listener     net.Listener
	portFilePath string
	perIP        map[string]struct{}
	active       int

	wg sync.WaitGroup
}

// New constructs a Server bound to eng.
func New(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		engine: eng,
		logger: logger,
		perIP:  make(map[string]struct{}),
	}
}

// Serve binds an ephemeral loopback port, writes it to portFilePath, and
// accepts connections until ctx is cancelled or Shutdown is called. It
// blocks until the listener stops.
func (s *Server) Serve(ctx context.Context, portFilePath string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	if err := os.WriteFile(portFilePath, []byte(strconv.Itoa(port)), 0o644); err != nil {
		ln.Close()

		return fmt.Errorf("rpcserver: writing port file %s: %w", portFilePath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.portFilePath = portFilePath
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosed(err) {
				break
			}

			s.logger.Warn("rpcserver: accept failed", "error", err)

			continue
		}

		if !s.admit(conn) {
			_ = conn.Close()

			continue
		}

		s.wg.Add(1)

		go s.handleConn(ctx, conn)
	}

	s.wg.Wait()

	return nil
}

// Shutdown closes the listener and removes the port file. Safe to call more
// than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	portPath := s.portFilePath
	s.portFilePath = ""
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	if portPath != "" {
		_ = os.Remove(portPath)
	}

	return nil
}

func (s *Server) admit(conn net.Conn) bool {
	ip := peerIP(conn)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= maxChannels {
		return false
	}

	if _, dup := s.perIP[ip]; dup {
		return false
	}

	s.perIP[ip] = struct{}{}
	s.active++

	return true
}

func (s *Server) release(conn net.Conn) {
	ip := peerIP(conn)

	s.mu.Lock()
	delete(s.perIP, ip)
	s.active--
	s.mu.Unlock()
}

func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}

	return host
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.release(conn)
	defer conn.Close()

	for {
		var req Request

		if err := readFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("rpcserver: read frame failed", "error", err)
			}

			return
		}

		resp := s.dispatch(ctx, req)

		if err := writeFrame(conn, resp); err != nil {
			s.logger.Warn("rpcserver: write frame failed", "error", err)

			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Verb {
	case VerbEntryNode:
		return s.dispatchEntryNode(req)
	case VerbProgress:
		return s.dispatchProgress(req)
	case VerbProgresses:
		return s.dispatchProgresses(req)
	case VerbConflicts:
		return s.dispatchConflicts(req)
	case VerbSync:
		return progressResponse(s.engine.Sync(ctx, fspath.New(req.Path)))
	case VerbSyncDeep:
		return progressResponse(s.engine.SyncDeep(ctx, fspath.New(req.Path)))
	case VerbCopyLocalToRemote:
		return progressResponse(s.engine.CopyLocalToRemote(ctx, fspath.New(req.Path)))
	case VerbCopyRemoteToLocal:
		return progressResponse(s.engine.CopyRemoteToLocal(ctx, fspath.New(req.Path)))
	case VerbResolve:
		return progressResponse(s.engine.Resolve(ctx, fspath.New(req.Path), req.ResolveMethod))
	case VerbDelete:
		return progressResponse(s.engine.Delete(ctx, fspath.New(req.Path), req.DeleteMethod))
	case VerbMove:
		return progressResponse(s.engine.Move(ctx, fspath.New(req.Path), fspath.New(req.Dst)))
	case VerbRename:
		return progressResponse(s.engine.Rename(ctx, fspath.New(req.Path), req.Name))
	default:
		return Response{Err: fmt.Sprintf("rpcserver: unknown verb %q", req.Verb)}
	}
}

func (s *Server) dispatchEntryNode(req Request) Response {
	path := fspath.New(req.Path)

	n, ok := s.engine.EntryNode(path)
	if !ok {
		return errResponse(fserrors.NewNotFound(path))
	}

	dto := toNodeDTO(path, n)

	return Response{Node: &dto}
}

func (s *Server) dispatchProgress(req Request) Response {
	p, ok := s.engine.Progress(fspath.New(req.Path))
	if !ok {
		return Response{Err: "rpcserver: no progress recorded for path"}
	}

	dto := toProgressDTO(p)

	return Response{Progress: &dto}
}

func (s *Server) dispatchProgresses(req Request) Response {
	raw := s.engine.Progresses(fspath.New(req.Prefix))
	out := make(map[string]ProgressDTO, len(raw))

	for k, v := range raw {
		out[k] = toProgressDTO(v)
	}

	return Response{Progresses: out}
}

func (s *Server) dispatchConflicts(req Request) Response {
	paths := s.engine.Conflicts(fspath.New(req.Prefix), req.Limit)
	out := make([]string, len(paths))

	for i, p := range paths {
		out[i] = p.Display()
	}

	return Response{Conflicts: out}
}

func progressResponse(p storage.Progress, err error) Response {
	if err != nil {
		return errResponse(err)
	}

	dto := toProgressDTO(p)

	return Response{Progress: &dto}
}

func errResponse(err error) Response {
	return Response{Err: err.Error()}
}
