// Package server implements the RFB server supervisor: the accept loop,
// outbound/repeater dial variants, and the session registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/vncbridge/rfbserver/framebuffer"
	"github.com/vncbridge/rfbserver/internal/metrics"
	"github.com/vncbridge/rfbserver/rfb"
)

// ErrInvalidPort is returned by Listen for a port outside (0, 65535].
var ErrInvalidPort = errors.New("server: port must be in (0, 65535]")

// connectTimeout bounds outbound dials for ConnectReverse/ConnectRepeater.
const connectTimeout = 10 * time.Second

// Server is the RFB server supervisor. It owns the framebuffer, the
// session registry, and the fan-in ServerEvent channel surfaced to the
// embedding layer. Sessions never hold a reference back to Server: the
// registry is mutated only here, and a session reports its shared-flag
// choice via a plain callback rather than a handle.
type Server struct {
	fb          *framebuffer.Framebuffer
	desktopName string
	password    string

	events    chan rfb.ServerEvent
	nextID    atomic.Uint64
	listener  net.Listener

	mu       sync.Mutex
	sessions map[uint64]sessionHandle
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type sessionHandle struct {
	session *rfb.Session
	cancel  context.CancelFunc
}

// New constructs a Server around a fresh framebuffer of the given
// dimensions. password == "" disables authentication (offers security
// type None only). The returned channel yields ServerEvent values in
// production order; callers must drain it or sessions will stall on
// emit (rfb.Session.emit respects the session's own closed signal, so a
// full channel degrades to dropped events for that session rather than
// wedging shutdown).
func New(width, height int, desktopName, password string) (*Server, <-chan rfb.ServerEvent, error) {
	fb, err := framebuffer.New(width, height)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan rfb.ServerEvent, 256)
	s := &Server{
		fb:          fb,
		desktopName: desktopName,
		password:    password,
		events:      events,
		sessions:    make(map[uint64]sessionHandle),
		ctx:         ctx,
		cancel:      cancel,
	}
	return s, events, nil
}

// Framebuffer returns the server's shared framebuffer, for the embedding
// layer to call UpdateFromSlice/UpdateCropped/Resize on.
func (s *Server) Framebuffer() *framebuffer.Framebuffer { return s.fb }

// Listen starts accepting inbound connections on port. If called
// multiple times it replaces the previous listener.
func (s *Server) Listen(port int) error {
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return &rfb.IoError{Op: "listen", Err: err}
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			glog.Errorf("server: accept: %v", err)
			return
		}
		s.spawn(conn)
	}
}

// ConnectReverse dials a viewer running in listen mode and serves it as
// a normal session (the server still acts as the RFB server; only the
// direction of the initial TCP dial is reversed). Returns the new
// session's id once the connection is established.
func (s *Server) ConnectReverse(host string, port int) (uint64, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), connectTimeout)
	if err != nil {
		return 0, &rfb.IoError{Op: "connect reverse", Err: err}
	}
	return s.spawn(conn), nil
}

// ConnectRepeaterID is the fixed wire length of the UltraVNC type-II
// repeater rendezvous field.
const ConnectRepeaterID = 250

// ConnectRepeater dials an UltraVNC repeater, writes the 250-byte
// NUL-padded rendezvous id, then serves the resulting stream as a normal
// session.
func (s *Server) ConnectRepeater(host string, port int, id string) (uint64, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), connectTimeout)
	if err != nil {
		return 0, &rfb.IoError{Op: "connect repeater", Err: err}
	}

	field := make([]byte, ConnectRepeaterID)
	copy(field, id) // NUL-padded, not truncated to a version-string length
	if _, err := conn.Write(field); err != nil {
		conn.Close()
		return 0, &rfb.IoError{Op: "write repeater id", Err: err}
	}

	return s.spawn(conn), nil
}

func (s *Server) spawn(conn net.Conn) uint64 {
	id := s.nextID.Add(1)
	ctx, cancel := context.WithCancel(s.ctx)

	sess := rfb.NewSession(conn, rfb.Config{
		ID:          id,
		Password:    s.password,
		Framebuffer: s.fb,
		DesktopName: s.desktopName,
		Events:      s.events,
		Metrics:     metrics.NewSession(),
		OnSharedFlag: func(shared bool) {
			if !shared {
				s.closeOthers(id)
			}
		},
	})

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return id
	}
	s.sessions[id] = sessionHandle{session: sess, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sess.Serve(ctx); err != nil {
			glog.V(1).Infof("server: session %d ended: %v", id, err)
		}
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		cancel()
	}()

	return id
}

// closeOthers closes every live session except keep, used when a client
// requests exclusive (non-shared) access.
func (s *Server) closeOthers(keep uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.sessions {
		if id == keep {
			continue
		}
		h.session.Close()
		h.cancel()
	}
}

// SendCutTextToAll writes a ServerCutText message to every live session,
// one session after another.
func (s *Server) SendCutTextToAll(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.sessions {
		h.session.SendCutText(text)
	}
}

// Shutdown signals all sessions to close and stops accepting new
// connections. It blocks until every session goroutine has exited.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, h := range s.sessions {
		h.session.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
