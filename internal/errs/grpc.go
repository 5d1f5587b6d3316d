package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Category is a machine-readable error class surfaced to API consumers.
type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryTimeout     Category = "timeout"
	CategoryNegotiation Category = "negotiation"
	CategoryNotFound    Category = "not_found"
	CategoryStreaming   Category = "streaming_unsupported"
	CategoryMissingType Category = "missing_type"
	CategoryBadRequest  Category = "invalid_request"
	CategoryInternal    Category = "internal"
)

// Classify maps an engine error onto its taxonomy category.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrNegotiationFailed):
		return CategoryNegotiation
	case errors.Is(err, ErrStreamingUnsupport):
		return CategoryStreaming
	case errors.Is(err, ErrTLSMismatch), errors.Is(err, ErrConnectionFailed):
		return CategoryTransport
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return CategoryNotFound
	}
	var mt *MissingTypeError
	var ct *CircularTypeError
	var rd *RecoveryDepthError
	if errors.As(err, &mt) || errors.As(err, &ct) || errors.As(err, &rd) {
		return CategoryMissingType
	}
	var it *InconsistentTypeError
	if errors.As(err, &it) {
		return CategoryInternal
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return CategoryTimeout
		case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied:
			return CategoryTransport
		case codes.Unimplemented, codes.NotFound:
			return CategoryNotFound
		case codes.InvalidArgument:
			return CategoryBadRequest
		}
	}
	return CategoryInternal
}

// FromStatus converts a transport-layer error into an engine error,
// distinguishing deadline expiry and TLS misconfiguration from generic
// unreachability.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrDeadlineExceeded, st.Message())
	case codes.Unavailable:
		if isTLSHandshakeMessage(st.Message()) {
			return fmt.Errorf("%w: %s", ErrTLSMismatch, st.Message())
		}
		return fmt.Errorf("%w: %s", ErrConnectionFailed, st.Message())
	default:
		if details := StatusDetails(st); details != "" {
			return fmt.Errorf("%w\n%s", err, details)
		}
		return err
	}
}

// isTLSHandshakeMessage reports whether a transport error message points at
// an encryption mismatch rather than an unreachable server. The first string
// appears when dialing a plaintext server with TLS enabled, the others when
// sending plaintext to a TLS-only server.
func isTLSHandshakeMessage(msg string) bool {
	return strings.Contains(msg, "first record does not look like a TLS handshake") ||
		strings.Contains(msg, "tls: ") ||
		strings.Contains(msg, "authentication handshake failed")
}

// StatusDetails renders the rich error details attached to a gRPC status,
// one section per detail message.
func StatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string
	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				lines := []string{"field violations:"}
				for _, fv := range fvs {
					lines = append(lines, fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.ErrorInfo:
			lines := []string{fmt.Sprintf("error info: %s", d.GetReason())}
			if d.GetDomain() != "" {
				lines = append(lines, "  domain: "+d.GetDomain())
			}
			for k, v := range d.GetMetadata() {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				sections = append(sections, fmt.Sprintf("retry after: %v", delay.AsDuration()))
			}

		case *errdetails.DebugInfo:
			if d.GetDetail() != "" {
				sections = append(sections, "debug: "+d.GetDetail())
			}

		default:
			sections = append(sections, fmt.Sprintf("detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n")
}
