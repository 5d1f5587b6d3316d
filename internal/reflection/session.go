package reflection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/schema"
	"github.com/spyglass-rpc/spyglass/internal/transport"
)

// Options tune a reflection session. Zero values fall back to the defaults
// below.
type Options struct {
	// ProbeTimeout bounds each dialect negotiation attempt.
	ProbeTimeout time.Duration
	// BatchSize is the number of symbols fetched concurrently during full
	// discovery.
	BatchSize int
	// CallTimeout bounds the helper invocations made by the fast path.
	CallTimeout time.Duration
}

const (
	defaultProbeTimeout = 5 * time.Second
	defaultBatchSize    = 4
	defaultCallTimeout  = 30 * time.Second
)

func (o Options) probeTimeout() time.Duration {
	if o.ProbeTimeout > 0 {
		return o.ProbeTimeout
	}
	return defaultProbeTimeout
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return defaultBatchSize
}

func (o Options) callTimeout() time.Duration {
	if o.CallTimeout > 0 {
		return o.CallTimeout
	}
	return defaultCallTimeout
}

// Session holds one negotiated reflection stream against a single endpoint
// and accumulates every descriptor file it has seen into a schema registry.
// The session is safe for concurrent symbol fetches.
type Session struct {
	transport *transport.Session
	client    *grpcreflect.Client
	dialect   Dialect
	registry  *schema.Registry
	opts      Options
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// Open dials the endpoint and negotiates a reflection dialect. The given
// context bounds the lifetime of the underlying reflection stream, so it
// must stay live for as long as the session is used. The connection is torn
// down if negotiation fails.
func Open(ctx context.Context, endpoint domain.Endpoint, opts Options, logger *slog.Logger) (*Session, error) {
	ts, err := transport.Open(endpoint, logger)
	if err != nil {
		return nil, err
	}

	dialect, err := negotiate(ctx, ts.Conn(), opts.probeTimeout(), logger)
	if err != nil {
		ts.Close()
		return nil, err
	}

	logger.Info("reflection session opened",
		slog.String("endpoint", endpoint.String()),
		slog.String("dialect", dialect.String()),
	)

	return &Session{
		transport: ts,
		client:    newReflectClient(ctx, ts.Conn(), dialect),
		dialect:   dialect,
		registry:  schema.NewRegistry(logger),
		opts:      opts,
		logger:    logger,
		seen:      make(map[string]bool),
	}, nil
}

// Dialect reports the negotiated reflection protocol version.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Registry exposes the schema accumulated so far.
func (s *Session) Registry() *schema.Registry {
	return s.registry
}

// Transport exposes the underlying connection for dynamic invocations.
func (s *Session) Transport() *transport.Session {
	return s.transport
}

// Close resets the reflection stream and closes the connection. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.client.Reset()
	return s.transport.Close()
}
