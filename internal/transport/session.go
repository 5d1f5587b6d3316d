// Package transport owns the connection to one remote endpoint and exposes
// the raw call primitives everything else is built on: a byte-level unary
// call and the client connection reflection stubs attach to.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/errs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Session is one live connection to an Endpoint. It is safe for concurrent
// use; Close is idempotent.
type Session struct {
	endpoint domain.Endpoint
	conn     *grpc.ClientConn
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open dials the endpoint and returns a live session. The connection is
// created lazily by gRPC; transport failures surface on the first call.
func Open(endpoint domain.Endpoint, logger *slog.Logger) (*Session, error) {
	kaParams := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kaParams),
	}

	if endpoint.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		logger.Debug("using plaintext connection", slog.String("address", endpoint.Address))
	}

	conn, err := grpc.NewClient(endpoint.Address, opts...)
	if err != nil {
		logger.Error("failed to create gRPC client",
			slog.String("address", endpoint.Address),
			slog.Any("error", err),
		)
		return nil, errs.FromStatus(err)
	}

	logger.Debug("session opened",
		slog.String("address", endpoint.Address),
		slog.Bool("tls", endpoint.TLS),
	)

	return &Session{
		endpoint: endpoint,
		conn:     conn,
		logger:   logger,
	}, nil
}

// Invoke performs a raw unary call: request bytes in, response bytes out.
// The caller controls the deadline through ctx; deadline expiry is surfaced
// as errs.ErrDeadlineExceeded and tears down the underlying call.
func (s *Session) Invoke(ctx context.Context, fullMethod string, req []byte) ([]byte, error) {
	var resp []byte
	err := s.conn.Invoke(ctx, fullMethod, req, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, errs.FromStatus(err)
	}
	return resp, nil
}

// Conn exposes the underlying connection for reflection stubs.
func (s *Session) Conn() *grpc.ClientConn {
	return s.conn
}

// Endpoint returns the endpoint this session was opened against.
func (s *Session) Endpoint() domain.Endpoint {
	return s.endpoint
}

// Close releases the connection. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		if s.closeErr != nil {
			s.logger.Warn("failed to close connection",
				slog.String("address", s.endpoint.Address),
				slog.Any("error", s.closeErr),
			)
			return
		}
		s.logger.Debug("session closed", slog.String("address", s.endpoint.Address))
	})
	return s.closeErr
}
