// Package control exposes the daemon to local clients over a Unix socket.
// Requests and responses are newline-delimited JSON; a "subscribe" command
// turns the connection into an event stream.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/murmurlabs/murmur/internal/bus"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/hotkey"
	"github.com/murmurlabs/murmur/internal/insert"
	"github.com/murmurlabs/murmur/internal/model"
	"github.com/murmurlabs/murmur/internal/protocol"
	"github.com/murmurlabs/murmur/internal/session"
	"github.com/murmurlabs/murmur/internal/settings"
	"github.com/nats-io/nats.go"
)

// SessionAPI is the slice of the session controller the control surface
// drives.
type SessionAPI interface {
	Start(mode string) (uint64, error)
	Stop() error
	Cancel() error
	Status() session.Status
	InsertText(ctx context.Context, text string) (insert.Transaction, error)
	UndoLast(ctx context.Context) insert.UndoResult
	Recent(limit int) []insert.Transaction
}

// Server accepts local clients on the control socket.
type Server struct {
	cfg      config.ControlConfig
	sessions SessionAPI
	settings *settings.Store
	registry *model.Registry
	trigger  *hotkey.Trigger
	log      *slog.Logger

	mu          sync.Mutex
	listener    net.Listener
	subscribers map[*client]struct{}
	subs        []*nats.Subscription
	closed      bool
}

// client is one accepted connection with serialized writes.
type client struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *json.Encoder
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

func NewServer(cfg config.ControlConfig, sessions SessionAPI, st *settings.Store, reg *model.Registry, trigger *hotkey.Trigger, log *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		settings:    st,
		registry:    reg,
		trigger:     trigger,
		log:         log.With(slog.String("component", "control")),
		subscribers: make(map[*client]struct{}),
	}
}

// Start binds the socket and begins accepting clients. A stale socket file
// from a previous run is removed first.
func (s *Server) Start(ctx context.Context) error {
	if dir := filepath.Dir(s.cfg.Socket); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create control socket dir: %w", err)
		}
	}
	if err := os.Remove(s.cfg.Socket); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale control socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.Socket)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("control socket listening", slog.String("path", s.cfg.Socket))

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	go s.acceptLoop(ctx)
	return nil
}

// AttachBus forwards session events from the message bus to subscribed
// clients.
func (s *Server) AttachBus(client *bus.Client) error {
	subjects := []string{
		protocol.SubjectSessionState,
		protocol.SubjectTranscriptPartial,
		protocol.SubjectTranscriptFinal,
		protocol.SubjectInsertResult,
		protocol.SubjectAudioLevel,
	}
	for _, subject := range subjects {
		subject := subject
		sub, err := client.Conn().Subscribe(subject, func(msg *nats.Msg) {
			s.Broadcast(subject, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	return nil
}

// Broadcast fans an event out to every subscribed client. Payload must be
// valid JSON.
func (s *Server) Broadcast(event string, payload []byte) {
	ev := Event{Event: event, Payload: json.RawMessage(payload)}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.subscribers))
	for c := range s.subscribers {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(ev); err != nil {
			s.drop(c)
		}
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	subs := s.subs
	for c := range s.subscribers {
		c.conn.Close()
	}
	s.subscribers = make(map[*client]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if listener != nil {
		listener.Close()
	}
	_ = os.Remove(s.cfg.Socket)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("control accept failed", slog.String("error", err.Error()))
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn, enc: json.NewEncoder(conn)}
	defer func() {
		s.drop(c)
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			_ = c.send(Response{Error: fmt.Sprintf("bad command: %v", err)})
			continue
		}
		resp := s.dispatch(ctx, c, cmd)
		if err := c.send(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd Command) Response {
	switch cmd.Cmd {
	case "start":
		id, err := s.sessions.Start(cmd.Mode)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, SessionID: id}

	case "stop":
		if err := s.sessions.Stop(); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case "cancel":
		if err := s.sessions.Cancel(); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case "press":
		s.trigger.Press()
		return Response{OK: true}

	case "release":
		s.trigger.Release()
		return Response{OK: true}

	case "status":
		status := s.sessions.Status()
		return Response{OK: true, Status: &status}

	case "insert":
		if cmd.Text == "" {
			return Response{Error: "insert requires text"}
		}
		tx, err := s.sessions.InsertText(ctx, cmd.Text)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Transaction: &tx}

	case "undo":
		res := s.sessions.UndoLast(ctx)
		return Response{OK: res.Applied, Undo: &res}

	case "recent":
		return Response{OK: true, Recent: s.sessions.Recent(cmd.Limit)}

	case "tune":
		if cmd.Tuning == nil {
			return Response{Error: "tune requires a tuning patch"}
		}
		snap, err := s.settings.Update(*cmd.Tuning)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Tuning: tuningView(snap)}

	case "reset_tuning":
		return Response{OK: true, Tuning: tuningView(s.settings.ResetRecommended())}

	case "models":
		models, err := s.registry.List()
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Models: models}

	case "set_model":
		if cmd.Model == "" {
			return Response{Error: "set_model requires a model id"}
		}
		if err := s.registry.SetActive(cmd.Model); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case "subscribe":
		s.mu.Lock()
		s.subscribers[c] = struct{}{}
		s.mu.Unlock()
		return Response{OK: true}

	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.subscribers, c)
	s.mu.Unlock()
}
