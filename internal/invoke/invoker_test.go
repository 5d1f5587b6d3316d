package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spyglass-rpc/spyglass/internal/errs"
	"github.com/spyglass-rpc/spyglass/internal/logging"
	"github.com/spyglass-rpc/spyglass/internal/schema"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// fakeLoader records requested symbols and runs an optional callback per
// fetch, standing in for a reflection session.
type fakeLoader struct {
	calls  []string
	onLoad func(symbol string) error
}

func (l *fakeLoader) DiscoverOne(_ context.Context, symbol string) error {
	l.calls = append(l.calls, symbol)
	if l.onLoad != nil {
		return l.onLoad(symbol)
	}
	return nil
}

func newRecoveryInvoker(reg *schema.Registry, loader *fakeLoader) *Invoker {
	return &Invoker{
		registry:         reg,
		loader:           loader,
		logger:           logging.Nop(),
		MaxRecoveryDepth: DefaultMaxRecoveryDepth,
	}
}

func secretFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("x/secret.proto"),
		Package: proto.String("x"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Secret"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("code"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
				},
			},
		},
	}
}

func TestRecoveryFetchesMissingType(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loader := &fakeLoader{
		onLoad: func(symbol string) error {
			reg.MergeFile(secretFile())
			return nil
		},
	}
	inv := newRecoveryInvoker(reg, loader)

	attempts := 0
	loaded, err := inv.withTypeRecovery(context.Background(), func() error {
		attempts++
		if !reg.HasType("x.Secret") {
			return &errs.MissingTypeError{TypeName: "x.Secret"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if len(loader.calls) != 1 || loader.calls[0] != "x.Secret" {
		t.Errorf("loader calls = %v", loader.calls)
	}
	if len(loaded) != 1 || loaded[0] != "x.Secret" {
		t.Errorf("loaded = %v", loaded)
	}
}

// TestRecoveryDetectsCycle covers a server that claims to have the type but
// never actually delivers it: the second request for the same name aborts.
func TestRecoveryDetectsCycle(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loader := &fakeLoader{} // fetch "succeeds" but registers nothing
	inv := newRecoveryInvoker(reg, loader)

	_, err := inv.withTypeRecovery(context.Background(), func() error {
		return &errs.MissingTypeError{TypeName: "x.Phantom"}
	})

	var circular *errs.CircularTypeError
	if !errors.As(err, &circular) {
		t.Fatalf("error = %v, want CircularTypeError", err)
	}
	if circular.TypeName != "x.Phantom" {
		t.Errorf("type = %q", circular.TypeName)
	}
	if len(loader.calls) != 1 {
		t.Errorf("loader called %d times, want 1", len(loader.calls))
	}
}

// TestRecoveryInconsistentType covers the severe case where the registry
// already holds the type yet decoding keeps reporting it missing.
func TestRecoveryInconsistentType(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	reg.MergeFile(secretFile())
	loader := &fakeLoader{}
	inv := newRecoveryInvoker(reg, loader)

	_, err := inv.withTypeRecovery(context.Background(), func() error {
		return &errs.MissingTypeError{TypeName: "x.Secret"}
	})

	var inconsistent *errs.InconsistentTypeError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("error = %v, want InconsistentTypeError", err)
	}
	if len(loader.calls) != 0 {
		t.Errorf("loader should not be called, got %v", loader.calls)
	}
}

func TestRecoveryDepthLimit(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loader := &fakeLoader{}
	inv := newRecoveryInvoker(reg, loader)
	inv.MaxRecoveryDepth = 3

	n := 0
	_, err := inv.withTypeRecovery(context.Background(), func() error {
		n++
		return &errs.MissingTypeError{TypeName: fmt.Sprintf("x.Gen%d", n)}
	})

	var depth *errs.RecoveryDepthError
	if !errors.As(err, &depth) {
		t.Fatalf("error = %v, want RecoveryDepthError", err)
	}
	if depth.Depth != 3 {
		t.Errorf("depth = %d, want 3", depth.Depth)
	}
	if len(depth.Loaded) == 0 {
		t.Error("loaded chain missing from depth error")
	}
}

// TestRecoveryStopsOnUnrelatedError checks that errors naming no type pass
// straight through.
func TestRecoveryStopsOnUnrelatedError(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loader := &fakeLoader{}
	inv := newRecoveryInvoker(reg, loader)

	boom := errors.New("wire corruption")
	_, err := inv.withTypeRecovery(context.Background(), func() error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want passthrough", err)
	}
	if len(loader.calls) != 0 {
		t.Errorf("loader should not be called, got %v", loader.calls)
	}
}

// TestRecoveryExtractsNameFromText exercises the fallback that pulls the
// type name out of freeform decoder messages.
func TestRecoveryExtractsNameFromText(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loaded := false
	loader := &fakeLoader{
		onLoad: func(symbol string) error {
			loaded = true
			reg.MergeFile(secretFile())
			return nil
		},
	}
	inv := newRecoveryInvoker(reg, loader)

	_, err := inv.withTypeRecovery(context.Background(), func() error {
		if loaded {
			return nil
		}
		return fmt.Errorf(`google.protobuf.Any: unable to resolve "type.googleapis.com/x.Secret": not found`)
	})
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if len(loader.calls) != 1 || loader.calls[0] != "x.Secret" {
		t.Errorf("loader calls = %v", loader.calls)
	}
}

func TestRecoveryLoaderFailure(t *testing.T) {
	reg := schema.NewRegistry(logging.Nop())
	loader := &fakeLoader{
		onLoad: func(symbol string) error {
			return errors.New("reflection stream broken")
		},
	}
	inv := newRecoveryInvoker(reg, loader)

	_, err := inv.withTypeRecovery(context.Background(), func() error {
		return &errs.MissingTypeError{TypeName: "x.Secret"}
	})
	if err == nil || !strings.Contains(err.Error(), "failed to fetch missing type x.Secret") {
		t.Fatalf("error = %v, want fetch failure", err)
	}
	if len(loader.calls) != 1 {
		t.Errorf("loader called %d times, want 1", len(loader.calls))
	}
}
