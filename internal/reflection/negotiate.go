// Package reflection discovers the service surface of a remote server at
// runtime: it negotiates which reflection protocol dialect the server
// speaks, then walks descriptor files into the schema registry.
package reflection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spyglass-rpc/spyglass/internal/errs"
	"google.golang.org/grpc"
	reflectv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	reflectv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Dialect is one of the mutually-incompatible reflection protocol versions
// a server may implement. It is negotiated once per session and never
// re-negotiated mid-session.
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectV1
	DialectV1Alpha
)

// Well-known reflection service names, excluded from discovery results.
const (
	ServiceNameV1      = "grpc.reflection.v1.ServerReflection"
	ServiceNameV1Alpha = "grpc.reflection.v1alpha.ServerReflection"
)

func (d Dialect) String() string {
	switch d {
	case DialectV1:
		return "v1"
	case DialectV1Alpha:
		return "v1alpha"
	default:
		return "unknown"
	}
}

// newReflectClient binds a reflection client to the negotiated dialect.
// The client is configured permissively: descriptors are built even when
// the server omits dependency files, with the process-global registry as a
// fallback for well-known types.
//
// A v1 session gets a client holding both stubs: a client built with only
// the v1 stub flips to a nil v1alpha stub if the server ever answers
// Unimplemented mid-session.
func newReflectClient(ctx context.Context, conn *grpc.ClientConn, dialect Dialect) *grpcreflect.Client {
	var client *grpcreflect.Client
	switch dialect {
	case DialectV1:
		client = grpcreflect.NewClientAuto(ctx, conn)
	default:
		client = grpcreflect.NewClientV1Alpha(ctx, reflectv1alpha.NewServerReflectionClient(conn))
	}
	client.AllowMissingFileDescriptors()
	client.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)
	return client
}

// probeV1 drives one list-services round trip on the v1 wire path with the
// raw stub, so a missing v1 service surfaces as a plain stream error.
func probeV1(ctx context.Context, conn *grpc.ClientConn) error {
	stream, err := reflectv1.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return err
	}

	req := &reflectv1.ServerReflectionRequest{
		MessageRequest: &reflectv1.ServerReflectionRequest_ListServices{},
	}
	if err := stream.Send(req); err != nil {
		if err == io.EOF {
			// Recv carries the real error after a failed send.
			_, err = stream.Recv()
		}
		return err
	}
	_, err = stream.Recv()
	return err
}

func probeV1Alpha(ctx context.Context, conn *grpc.ClientConn) error {
	stream, err := reflectv1alpha.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return err
	}

	req := &reflectv1alpha.ServerReflectionRequest{
		MessageRequest: &reflectv1alpha.ServerReflectionRequest_ListServices{},
	}
	if err := stream.Send(req); err != nil {
		if err == io.EOF {
			_, err = stream.Recv()
		}
		return err
	}
	_, err = stream.Recv()
	return err
}

// negotiate determines which reflection dialect the server speaks by
// sending a trivial list-services request on each wire path in turn, newest
// first, under a short test deadline. Both failing is fatal for discovery
// against this endpoint.
func negotiate(ctx context.Context, conn *grpc.ClientConn, probeTimeout time.Duration, logger *slog.Logger) (Dialect, error) {
	probes := []struct {
		dialect Dialect
		probe   func(context.Context, *grpc.ClientConn) error
	}{
		{DialectV1, probeV1},
		{DialectV1Alpha, probeV1Alpha},
	}

	var lastErr error
	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.probe(probeCtx, conn)
		cancel()

		if err == nil {
			logger.Debug("reflection dialect accepted", slog.String("dialect", p.dialect.String()))
			return p.dialect, nil
		}

		logger.Debug("reflection dialect rejected",
			slog.String("dialect", p.dialect.String()),
			slog.Any("error", err),
		)
		lastErr = err
	}

	return DialectUnknown, fmt.Errorf("%w: %v", errs.ErrNegotiationFailed, lastErr)
}
