// Package errs defines the engine's error taxonomy: transport failures,
// negotiation failures, lookup failures and the recoverable missing-type
// condition hit during response decoding.
package errs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNegotiationFailed  = errors.New("no supported reflection protocol")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrStreamingUnsupport = errors.New("streaming methods are not supported")
	ErrTLSMismatch        = errors.New("TLS configuration mismatch")
)

// NotFoundError reports an unknown service or method. When the service was
// found but the method was not, Available carries the method names that do
// exist on the service so callers can present a useful correction.
type NotFoundError struct {
	Service   string
	Method    string
	Available []string
}

func (e *NotFoundError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("service %q not found", e.Service)
	}
	if len(e.Available) > 0 {
		return fmt.Sprintf("method %q not found on service %q (available: %s)",
			e.Method, e.Service, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("method %q not found on service %q", e.Method, e.Service)
}

// MissingTypeError indicates that a message or enum type referenced during
// encoding or decoding is not present in the schema registry. It is the
// recoverable trigger for on-demand descriptor loading.
type MissingTypeError struct {
	TypeName string
}

func (e *MissingTypeError) Error() string {
	return fmt.Sprintf("no such type %q in registry", e.TypeName)
}

// InconsistentTypeError indicates that decode failed on a type the registry
// claims to hold. This is a genuine bug, not a missing dependency, and is
// never retried.
type InconsistentTypeError struct {
	TypeName string
	Cause    error
}

func (e *InconsistentTypeError) Error() string {
	return fmt.Sprintf("type %q is registered but still failed to resolve: %v", e.TypeName, e.Cause)
}

func (e *InconsistentTypeError) Unwrap() error { return e.Cause }

// CircularTypeError indicates the same missing type was requested twice
// within one recovery chain.
type CircularTypeError struct {
	TypeName string
	Loaded   []string
}

func (e *CircularTypeError) Error() string {
	return fmt.Sprintf("circular type dependency on %q (loaded so far: %s)",
		e.TypeName, strings.Join(e.Loaded, ", "))
}

// RecoveryDepthError indicates the missing-type recovery loop exceeded its
// depth bound. Loaded lists every type fetched during the attempt.
type RecoveryDepthError struct {
	Depth  int
	Loaded []string
}

func (e *RecoveryDepthError) Error() string {
	return fmt.Sprintf("type recovery exceeded %d rounds (loaded: %s)",
		e.Depth, strings.Join(e.Loaded, ", "))
}

// missingTypePatterns match the missing-name portion of resolver errors
// produced by the protobuf runtime, e.g.
//
//	proto: message type "foo.Bar" is not found
//	unable to resolve "type.googleapis.com/foo.Bar": not found
var missingTypePatterns = []*regexp.Regexp{
	regexp.MustCompile(`type "([^"]+)".* not found`),
	regexp.MustCompile(`resolve "(?:type\.googleapis\.com/)?([^"]+)"`),
}

// MissingTypeName extracts the fully-qualified name of a missing type from
// err, either from a typed MissingTypeError or by scanning the error text.
// Returns "" when err does not describe a missing type.
func MissingTypeName(err error) string {
	var mt *MissingTypeError
	if errors.As(err, &mt) {
		return mt.TypeName
	}
	msg := err.Error()
	for _, re := range missingTypePatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return strings.TrimPrefix(m[1], "type.googleapis.com/")
		}
	}
	return ""
}
