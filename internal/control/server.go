package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/dantte-lp/gonat64/internal/xlat"
)

// Server accepts control channel connections and dispatches framed
// requests against a single Core instance. One Server belongs to one
// running nat64d process.
type Server struct {
	core   *xlat.Core
	cfg    xlat.Config
	logger *slog.Logger

	ln net.Listener
}

// NewServer wraps core (and the xlat.Config it was constructed from,
// for GENERAL DISPLAY) with a control channel Server. cfg is kept only
// for reporting; Core owns the live tables.
func NewServer(core *xlat.Core, cfg xlat.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{core: core, cfg: cfg, logger: logger}
}

func (s *Server) configSnapshot() xlat.Config { return s.cfg }

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails. Each connection is handled on its own goroutine; Serve
// returns once the listener is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("control channel accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// handleConn serves frames on one connection until the peer closes it
// or an unrecoverable codec error occurs.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		h, err := ReadHeader(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("control channel read error", slog.Any("error", err))
			}
			return
		}

		payload := make([]byte, h.Length)
		if h.Length > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				s.logger.Debug("control channel payload read error", slog.Any("error", err))
				return
			}
		}

		status, respPayload := s.dispatch(h, payload)

		respHeader := Header{Length: uint32(len(respPayload)), Mode: h.Mode, Op: h.Op}
		buf := append([]byte{byte(status)}, respPayload...)
		respHeader.Length = uint32(len(buf))

		if err := WriteHeader(conn, respHeader); err != nil {
			s.logger.Debug("control channel write error", slog.Any("error", err))
			return
		}
		if _, err := conn.Write(buf); err != nil {
			s.logger.Debug("control channel write error", slog.Any("error", err))
			return
		}

		s.logger.Debug("control channel request handled",
			slog.String("mode", h.Mode.String()),
			slog.String("op", h.Op.String()),
			slog.Int("status", int(status)),
		)
	}
}
