// Package transport owns the TCP accept loop and per-connection
// read/write goroutines: it turns bytes into wire.Frames (and back) and
// hands them to the registry, while the idle-state checker watches each
// connection for reader inactivity.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/clock"
	"github.com/wanjg/Jupiter/internal/config"
	"github.com/wanjg/Jupiter/internal/idle"
	"github.com/wanjg/Jupiter/internal/metrics"
	"github.com/wanjg/Jupiter/internal/registry"
	"github.com/wanjg/Jupiter/internal/timingwheel"
	"github.com/wanjg/Jupiter/internal/wire"
)

// Server accepts raw TCP connections and decodes the framed protocol off
// of them, handing each decoded frame to a registry.Server.
type Server struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *registry.Server
	wheel      *timingwheel.TimingWheel
	metrics    *metrics.Registry
	serializer wire.Serializer

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a transport Server. wheel is the process-wide shared
// timing wheel: every connection's idle checker schedules against it
// rather than owning a goroutine of its own.
func NewServer(cfg config.Config, logger *zap.Logger, reg *registry.Server, wheel *timingwheel.TimingWheel, metricsRegistry *metrics.Registry, ser wire.Serializer) *Server {
	if ser == nil {
		ser = wire.JSONSerializer{}
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		wheel:      wheel,
		metrics:    metricsRegistry,
		serializer: ser,
	}
}

// Start opens the listener (SO_REUSEADDR is Go's net.Listen default; see
// config.ServerConfig for the documented SO_BACKLOG caveat) and launches the
// accept loop.
func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("registry transport listening", zap.String("addr", addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()

	return nil
}

// Stop closes the listener and waits for every connection goroutine this
// Server spawned to exit.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.logger.Error("accept error", zap.Error(err))
			if s.metrics != nil {
				s.metrics.Connections.AcceptErrors.Inc()
			}
			return
		}

		if s.metrics != nil {
			s.metrics.Connections.Active.Inc()
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
			if s.metrics != nil {
				s.metrics.Connections.Active.Dec()
			}
		}(conn)
	}
}

func (s *Server) handleConnection(parent context.Context, netConn net.Conn) {
	id := uuid.New().String()[:8]
	conn := newConnection(id, netConn, s.cfg.Registry.SendQueueSize)
	defer conn.Close()

	checker := idle.New(
		s.wheel,
		clock.System{},
		idle.Config{ReaderIdle: s.cfg.Registry.ReaderIdle()},
		conn.IsActive,
		func(ev idle.Event) { s.onIdleEvent(ev, conn) },
		func(err error) { s.logger.Error("idle handler failure", zap.Error(err), zap.String("conn", id)) },
	)
	conn.idleChecker = checker
	checker.Init()

	connCtx, cancel := context.WithCancel(parent)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(connCtx, conn)
	}()

	s.readLoop(conn, checker)

	s.registry.ChannelInactive(conn)
	conn.Close()
	cancel()
	<-writeDone
}

func (s *Server) onIdleEvent(ev idle.Event, conn *Connection) {
	s.logger.Info("idle event", zap.String("kind", ev.Kind.String()), zap.String("conn", conn.ShortID()))
	if s.metrics != nil {
		s.metrics.Connections.IdleDisconnects.Inc()
	}
	conn.Close()
}

func (s *Server) readLoop(conn *Connection, checker *idle.Checker) {
	decoder := wire.NewDecoder(s.serializer)
	bufSize := s.cfg.Server.ReadBufferSize
	if bufSize <= 0 {
		bufSize = 16 << 10
	}
	buf := make([]byte, bufSize)

	for {
		n, err := conn.conn.Read(buf)
		if n > 0 {
			checker.OnRead()
			frames, decErr := decoder.Feed(buf[:n])
			for _, frame := range frames {
				s.registry.HandleFrame(frame, conn)
			}
			if decErr != nil {
				var fe *wire.FrameError
				if errors.As(decErr, &fe) {
					s.logger.Warn("framing error, closing connection",
						zap.String("kind", fe.Kind), zap.Error(decErr), zap.String("conn", conn.ShortID()))
				} else {
					s.logger.Warn("decode error, closing connection", zap.Error(decErr), zap.String("conn", conn.ShortID()))
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("read error", zap.Error(err), zap.String("conn", conn.ShortID()))
			}
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.sendCh:
			if !ok {
				return
			}
			if _, err := conn.conn.Write(frame); err != nil {
				s.logger.Debug("write error", zap.Error(err), zap.String("conn", conn.ShortID()))
				return
			}
			conn.idleChecker.OnWrite()
		}
	}
}
