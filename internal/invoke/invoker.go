// Package invoke performs dynamic unary calls: it builds a request message
// from loose JSON-shaped parameters using descriptors fetched at runtime,
// sends the raw bytes over an open connection, and decodes the response.
// Types the server forgot to advertise up front are fetched on demand while
// decoding.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spyglass-rpc/spyglass/internal/domain"
	"github.com/spyglass-rpc/spyglass/internal/errs"
	"github.com/spyglass-rpc/spyglass/internal/schema"
	"github.com/spyglass-rpc/spyglass/internal/transport"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// DefaultMaxRecoveryDepth bounds how many missing types one call will chase
// before giving up. Deeply nested responses legitimately need several
// rounds, but an unbounded loop against a broken server must not hang a
// request forever.
const DefaultMaxRecoveryDepth = 50

// TypeLoader fetches the descriptor for one fully-qualified symbol on
// demand. The reflection session implements this.
type TypeLoader interface {
	DiscoverOne(ctx context.Context, symbol string) error
}

// Invoker executes unary methods against a single open connection.
type Invoker struct {
	session  *transport.Session
	registry *schema.Registry
	loader   TypeLoader
	logger   *slog.Logger

	// MaxRecoveryDepth may be lowered for tests or raised for pathological
	// schemas. Set before first use.
	MaxRecoveryDepth int
}

// New wires an invoker over an established session.
func New(session *transport.Session, registry *schema.Registry, loader TypeLoader, logger *slog.Logger) *Invoker {
	return &Invoker{
		session:          session,
		registry:         registry,
		loader:           loader,
		logger:           logger,
		MaxRecoveryDepth: DefaultMaxRecoveryDepth,
	}
}

// Invoke calls one unary method. Params map field names (proto or JSON
// form) to values; unknown keys and uncoercible values are skipped rather
// than rejected. The timeout bounds the remote call only, not descriptor
// fetches done beforehand.
func (inv *Invoker) Invoke(ctx context.Context, serviceName, methodName string, params map[string]any, timeout time.Duration) (*domain.InvokeResult, error) {
	method, err := inv.resolveMethod(ctx, serviceName, methodName)
	if err != nil {
		return nil, err
	}
	if !method.IsUnary() {
		return nil, fmt.Errorf("%s is %s: %w", method.FullName, method.MethodType(), errs.ErrStreamingUnsupport)
	}

	var reqMD protoreflect.MessageDescriptor
	if _, err := inv.withTypeRecovery(ctx, func() error {
		var rerr error
		reqMD, rerr = inv.registry.MessageDescriptor(method.InputType)
		return rerr
	}); err != nil {
		return nil, fmt.Errorf("request type %s: %w", method.InputType, err)
	}

	reqBytes, err := inv.encodeRequest(reqMD, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	respBytes, err := inv.session.Invoke(callCtx, "/"+serviceName+"/"+methodName, reqBytes)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	response, loaded, err := inv.decodeWithRecovery(ctx, method.OutputType, respBytes)
	if err != nil {
		return nil, err
	}
	if len(loaded) > 0 {
		inv.logger.Debug("types fetched during decode",
			slog.String("method", method.FullName),
			slog.Any("types", loaded),
		)
	}

	inv.logger.Info("method invoked",
		slog.String("method", method.FullName),
		slog.Duration("elapsed", elapsed),
	)

	return &domain.InvokeResult{
		Method:          method,
		Response:        response,
		Duration:        elapsed,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}

// resolveMethod finds the method in the registry, fetching the service
// descriptor when it is unknown or known only as a fast-path placeholder.
func (inv *Invoker) resolveMethod(ctx context.Context, serviceName, methodName string) (domain.Method, error) {
	svc, ok := inv.registry.Service(serviceName)
	if !ok || serviceIncomplete(svc) {
		if err := inv.loader.DiscoverOne(ctx, serviceName); err != nil {
			if !ok {
				return domain.Method{}, &errs.NotFoundError{Service: serviceName}
			}
			return domain.Method{}, fmt.Errorf("descriptor for %s: %w", serviceName, err)
		}
		svc, ok = inv.registry.Service(serviceName)
		if !ok {
			return domain.Method{}, &errs.NotFoundError{Service: serviceName}
		}
	}

	for _, m := range svc.Methods {
		if m.Name == methodName {
			return m, nil
		}
	}

	available := make([]string, 0, len(svc.Methods))
	for _, m := range svc.Methods {
		available = append(available, m.Name)
	}
	return domain.Method{}, &errs.NotFoundError{
		Service:   serviceName,
		Method:    methodName,
		Available: available,
	}
}

// serviceIncomplete reports whether the service entry lacks type
// information, which happens when it came from the fast discovery path.
func serviceIncomplete(svc domain.Service) bool {
	if len(svc.Methods) == 0 {
		return true
	}
	for _, m := range svc.Methods {
		if m.InputType == "" || m.OutputType == "" {
			return true
		}
	}
	return false
}

// decodeWithRecovery decodes the response, fetching any type the decoder
// reports as missing and retrying. Returns the names loaded along the way.
func (inv *Invoker) decodeWithRecovery(ctx context.Context, outputType string, data []byte) (map[string]any, []string, error) {
	var response map[string]any
	loaded, err := inv.withTypeRecovery(ctx, func() error {
		md, ferr := inv.registry.MessageDescriptor(outputType)
		if ferr != nil {
			return ferr
		}
		response, ferr = inv.decodeResponse(md, data)
		return ferr
	})
	if err != nil {
		return nil, loaded, fmt.Errorf("failed to decode response: %w", err)
	}
	return response, loaded, nil
}

// withTypeRecovery runs fn, and whenever it fails over a missing type,
// fetches that type and tries again. The loop stops on success, on an error
// that names no type, on a type that refuses to materialize, or at the
// depth limit.
func (inv *Invoker) withTypeRecovery(ctx context.Context, fn func() error) ([]string, error) {
	var loaded []string
	fetched := make(map[string]bool)

	for depth := 0; depth < inv.MaxRecoveryDepth; depth++ {
		err := fn()
		if err == nil {
			return loaded, nil
		}

		name := errs.MissingTypeName(err)
		if name == "" {
			return loaded, err
		}
		if inv.registry.HasType(name) {
			// Fetched or already present, yet still reported missing. The
			// registry and the decoder disagree; retrying cannot help.
			return loaded, &errs.InconsistentTypeError{TypeName: name, Cause: err}
		}
		if fetched[name] {
			return loaded, &errs.CircularTypeError{TypeName: name, Loaded: loaded}
		}

		inv.logger.Info("fetching missing type", slog.String("type", name))
		if lerr := inv.loader.DiscoverOne(ctx, name); lerr != nil {
			return loaded, fmt.Errorf("failed to fetch missing type %s: %w", name, lerr)
		}
		fetched[name] = true
		loaded = append(loaded, name)
	}

	return loaded, &errs.RecoveryDepthError{Depth: inv.MaxRecoveryDepth, Loaded: loaded}
}
