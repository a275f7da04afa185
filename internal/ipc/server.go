package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"llmbridge/internal/broker"
	"llmbridge/internal/connection"
	"llmbridge/internal/daemon"
	"llmbridge/internal/logging"
	"llmbridge/internal/statusbus"
)

// maxLineBytes bounds one inbound wire message.
const maxLineBytes = 1 << 20

// Server accepts front-end connections on a loopback TCP port and
// dispatches newline-JSON commands into the daemon. Each client gets its
// own goroutine doing blocking reads; broker calls are bounded by the
// submission timeout so no client can wedge on a dead run loop.
type Server struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	listener net.Listener
	port     int
	portFile string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn net.Conn
	// mu serializes writes so responses and broadcasts never interleave
	// within one line.
	mu sync.Mutex
}

// NewServer binds the listener and publishes the port to the discovery
// file. Port 0 asks the OS for a free port.
func NewServer(ctx context.Context, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg := d.Config()
	addr := net.JoinHostPort(cfg.IPC.Host, strconv.Itoa(cfg.IPC.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	portFile := cfg.PortFilePath()
	if err := os.WriteFile(portFile, []byte(strconv.Itoa(port)), 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("write port file: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		daemon:   d,
		logger:   logging.NewComponentLogger(logger, "ipc"),
		listener: listener,
		port:     port,
		portFile: portFile,
		ctx:      serverCtx,
		cancel:   cancel,
		clients:  make(map[string]*client),
	}, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int { return s.port }

// Serve starts the accept loop and the event broadcaster.
func (s *Server) Serve() {
	s.logger.Info("IPC server listening",
		logging.Int("port", s.port),
		logging.String("port_file", s.portFile),
	)

	events, unsubscribe := s.daemon.Bus().Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.broadcastLoop(events)
	}()

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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "front-end may fail to connect"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleClient(c)
			}(conn)
		}
	}()
}

// Close stops the server, disconnects every client, and removes the
// discovery file. Teardown errors are logged, never returned.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for id, c := range s.clients {
		delete(s.clients, id)
		_ = c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err := os.Remove(s.portFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove port file",
			logging.String("port_file", s.portFile),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale port file may confuse front-end discovery"))
	}
}

func (s *Server) handleClient(conn net.Conn) {
	c := &client{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Info("client connected",
		logging.String(logging.FieldClientID, c.id),
		logging.String("remote", conn.RemoteAddr().String()),
	)
	defer s.dropClient(c, nil)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			// Invalid lines are discarded; the client stays connected.
			s.logger.Error("invalid JSON message",
				logging.String(logging.FieldClientID, c.id),
				logging.Error(err),
				logging.String(logging.FieldEventType, "ipc_invalid_message"))
			continue
		}
		s.dispatch(c, req)
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("client read failed",
			logging.String(logging.FieldClientID, c.id),
			logging.Error(err))
	}
}

func (s *Server) dispatch(c *client, req Request) {
	s.logger.Debug("command received",
		logging.String(logging.FieldClientID, c.id),
		logging.String("cmd", req.Command),
	)

	switch req.Command {
	case CommandPing:
		s.send(c, PongResponse{Status: "pong"})

	case CommandUpdateTooltip:
		s.daemon.SetTooltip(req.Text)

	case CommandUpdateIcon:
		s.daemon.SetIconState(req.State)

	case CommandAuthStatus:
		s.daemon.SetAuthenticated(req.Authenticated)

	case CommandUpdateAuthToken:
		s.daemon.Registry().UpdateAuthToken(req.Token)

	case CommandUpdateLocalTarget:
		if err := s.daemon.Registry().UpdateLocalTarget(req.Host, req.Port); err != nil {
			s.send(c, ErrorResponse{Error: err.Error()})
			return
		}
		s.send(c, AckResponse{Status: "ok"})

	case CommandProxyRequest:
		s.handleProxyRequest(c, req)

	case CommandStreamChat:
		s.handleStreamChat(c, req)

	case CommandGetConnectionStatus:
		s.handleConnectionStatus(c)

	case CommandUpdateConnectionStatus:
		if err := s.daemon.ApplyFrontendStatus(req.Status); err != nil {
			s.send(c, ErrorResponse{Error: err.Error()})
		}

	case CommandQuit:
		s.logger.Info("quit requested by client",
			logging.String(logging.FieldClientID, c.id))
		s.daemon.RequestShutdown()

	default:
		s.logger.Warn("unknown command",
			logging.String(logging.FieldClientID, c.id),
			logging.String("cmd", req.Command))
	}
}

func (s *Server) handleProxyRequest(c *client, req Request) {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}

	var preferred *connection.Type
	if req.ConnectionType != "" {
		t, ok := connection.ParseType(req.ConnectionType)
		if !ok {
			s.send(c, ErrorResponse{Error: fmt.Sprintf("unknown connection type %q", req.ConnectionType)})
			return
		}
		preferred = &t
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.daemon.Config().SubmitTimeout())
	defer cancel()

	result, err := s.daemon.Broker().Proxy(ctx, method, path, req.Data, preferred)
	if err != nil {
		s.send(c, ErrorResponse{Error: proxyErrorMessage(err)})
		return
	}
	s.send(c, ResultResponse{Result: result})
}

// handleStreamChat relays chat chunks as they arrive, one JSON line per
// chunk, terminated by a done marker. The stream occupies this client's
// goroutine; other clients are unaffected.
func (s *Server) handleStreamChat(c *client, req Request) {
	if req.Model == "" {
		s.send(c, ErrorResponse{Error: "model is required"})
		return
	}

	var preferred *connection.Type
	if req.ConnectionType != "" {
		t, ok := connection.ParseType(req.ConnectionType)
		if !ok {
			s.send(c, ErrorResponse{Error: fmt.Sprintf("unknown connection type %q", req.ConnectionType)})
			return
		}
		preferred = &t
	}

	stream, err := s.daemon.Broker().StreamChat(s.ctx, req.Model, req.Messages, preferred)
	if err != nil {
		s.send(c, ErrorResponse{Error: proxyErrorMessage(err)})
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.send(c, StreamDone{Done: true})
				return
			}
			s.send(c, ErrorResponse{Error: err.Error()})
			return
		}
		if !s.send(c, StreamChunk{Chunk: chunk}) {
			return
		}
	}
}

func (s *Server) handleConnectionStatus(c *client) {
	ctx, cancel := context.WithTimeout(s.ctx, s.daemon.Config().SubmitTimeout())
	defer cancel()

	snaps, err := s.daemon.Broker().Statuses(ctx)
	if err != nil {
		s.send(c, ErrorResponse{Error: proxyErrorMessage(err)})
		return
	}
	status := make(map[string]connection.StatusPayload, len(snaps))
	for t, snap := range snaps {
		payload := snap.Payload()
		payload.Type = ""
		status[string(t)] = payload
	}
	s.send(c, StatusResponse{Status: status})
}

// proxyErrorMessage folds context deadline hits into the submission
// timeout sentinel so callers see one stable message.
func proxyErrorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return broker.ErrSubmissionTimeout.Error()
	}
	return err.Error()
}

// send writes one JSON line to a client. A write failure drops the client;
// delivery to everyone else is unaffected. Reports whether the write
// succeeded.
func (s *Server) send(c *client, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode response", logging.Error(err))
		return false
	}
	return s.write(c, append(data, '\n'))
}

func (s *Server) write(c *client, line []byte) bool {
	c.mu.Lock()
	_, err := c.conn.Write(line)
	c.mu.Unlock()
	if err != nil {
		s.dropClient(c, err)
		return false
	}
	return true
}

// broadcastLoop serializes each status event once and writes it to every
// connected client.
func (s *Server) broadcastLoop(events <-chan statusbus.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := StatusEvent{
				Command:        EventConnectionStatusChanged,
				ConnectionType: ev.Connection,
				Status: EventStatus{
					State:        ev.Current,
					ErrorMessage: ev.Status.ErrorMessage,
					Version:      ev.Status.Version,
					Models:       ev.Status.Models,
				},
			}
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Error("encode event", logging.Error(err))
				continue
			}
			line := append(data, '\n')

			s.mu.Lock()
			targets := make([]*client, 0, len(s.clients))
			for _, c := range s.clients {
				targets = append(targets, c)
			}
			s.mu.Unlock()

			for _, c := range targets {
				s.write(c, line)
			}
		}
	}
}

// dropClient removes a client from the active set and closes its socket.
// Safe to call more than once per client.
func (s *Server) dropClient(c *client, cause error) {
	s.mu.Lock()
	_, active := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = c.conn.Close()

	if !active {
		return
	}
	if cause != nil {
		s.logger.Warn("client dropped",
			logging.String(logging.FieldClientID, c.id),
			logging.Error(cause))
		return
	}
	s.logger.Info("client disconnected",
		logging.String(logging.FieldClientID, c.id))
}
