package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bufbuild/protocompile"
	"github.com/spyglass-rpc/spyglass/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	reflectv1grpc "google.golang.org/grpc/reflection/grpc_reflection_v1"
	reflectv1alphagrpc "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Package-level test infrastructure shared by all tests.
var (
	testAddr   string
	testServer *grpc.Server
	testFiles  *protoregistry.Files
	testTypes  *dynamicpb.Types
	testLogger *slog.Logger
)

const petProto = `
syntax = "proto3";
package spytest;

import "google/protobuf/any.proto";

enum Mood {
  MOOD_UNSPECIFIED = 0;
  HAPPY = 1;
  GRUMPY = 2;
}

message Owner {
  string name = 1;
}

message Pet {
  string name = 1;
  int32 age = 2;
  Mood mood = 3;
  repeated string tags = 4;
  map<string, int64> scores = 5;
  Owner owner = 6;
}

message GetPetRequest {
  string name = 1;
}

message Empty {}

message PetList {
  repeated Pet pets = 1;
  int32 count = 2;
}

message Vault {
  google.protobuf.Any payload = 1;
}

message TreeNode {
  string label = 1;
  repeated TreeNode children = 2;
}

service PetStore {
  rpc GetPet(GetPetRequest) returns (Pet);
  rpc ListPets(Empty) returns (PetList);
  rpc SlowPet(GetPetRequest) returns (Pet);
  rpc GetVault(Empty) returns (Vault);
  rpc WatchPets(Empty) returns (stream Pet);
}

service TreeService {
  rpc GetTree(Empty) returns (TreeNode);
}
`

// secretProto holds a type no service references directly; it only ever
// travels packed inside an Any, so clients learn about it mid-decode.
const secretProto = `
syntax = "proto3";
package spytest;

message Secret {
  string code = 1;
}
`

const chainProto = `
syntax = "proto3";
package cosmos.base.reflection.v2alpha1;

message GetQueryServicesDescriptorRequest {}

message QueryMethodDescriptor {
  string name = 1;
  string full_query_path = 2;
}

message QueryServiceDescriptor {
  string fullname = 1;
  bool is_module = 2;
  repeated QueryMethodDescriptor methods = 3;
}

message QueryServicesDescriptor {
  repeated QueryServiceDescriptor query_services = 1;
}

message GetQueryServicesDescriptorResponse {
  QueryServicesDescriptor queries = 1;
}

message GetTxDescriptorRequest {}

message MsgDescriptor {
  string msg_type_url = 1;
}

message TxDescriptor {
  string fullname = 1;
  repeated MsgDescriptor msgs = 2;
}

message GetTxDescriptorResponse {
  TxDescriptor tx = 1;
}

service ReflectionService {
  rpc GetQueryServicesDescriptor(GetQueryServicesDescriptorRequest) returns (GetQueryServicesDescriptorResponse);
  rpc GetTxDescriptor(GetTxDescriptorRequest) returns (GetTxDescriptorResponse);
}
`

// compileTestFiles compiles the inline schemas into a file registry.
func compileTestFiles() (*protoregistry.Files, error) {
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				"spytest/pet.proto":                             petProto,
				"spytest/secret.proto":                          secretProto,
				"cosmos/base/reflection/v2alpha1/reflect.proto": chainProto,
			}),
		}),
	}
	compiled, err := compiler.Compile(context.Background(),
		"spytest/pet.proto",
		"spytest/secret.proto",
		"cosmos/base/reflection/v2alpha1/reflect.proto",
	)
	if err != nil {
		return nil, err
	}

	files := new(protoregistry.Files)
	for _, fd := range compiled {
		if err := registerWithImports(files, fd); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func registerWithImports(files *protoregistry.Files, fd protoreflect.FileDescriptor) error {
	if _, err := files.FindFileByPath(fd.Path()); err == nil {
		return nil
	}
	for i := 0; i < fd.Imports().Len(); i++ {
		if err := registerWithImports(files, fd.Imports().Get(i).FileDescriptor); err != nil {
			return err
		}
	}
	return files.RegisterFile(fd)
}

type unaryFn func(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)

// registerDynamic registers every method of one compiled service, unary
// methods through the supplied handlers and streaming methods as no-ops.
func registerDynamic(server *grpc.Server, sd protoreflect.ServiceDescriptor, handlers map[string]unaryFn) {
	var methods []grpc.MethodDesc
	var streams []grpc.StreamDesc

	mds := sd.Methods()
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		name := string(md.Name())

		if md.IsStreamingClient() || md.IsStreamingServer() {
			streams = append(streams, grpc.StreamDesc{
				StreamName:    name,
				Handler:       func(srv any, stream grpc.ServerStream) error { return nil },
				ServerStreams: md.IsStreamingServer(),
				ClientStreams: md.IsStreamingClient(),
			})
			continue
		}

		fn := handlers[name]
		input := md.Input()
		methods = append(methods, grpc.MethodDesc{
			MethodName: name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := dynamicpb.NewMessage(input)
				if err := dec(req); err != nil {
					return nil, err
				}
				return fn(ctx, req)
			},
		})
	}

	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: string(sd.FullName()),
		HandlerType: (*any)(nil),
		Methods:     methods,
		Streams:     streams,
	}, struct{}{})
}

// jsonMsg builds a dynamic message of the named type from JSON source.
// Panics on bad fixtures so tests fail loudly.
func jsonMsg(typeName, src string) *dynamicpb.Message {
	md := mustMessage(typeName)
	msg := dynamicpb.NewMessage(md)
	opts := protojson.UnmarshalOptions{Resolver: testTypes}
	if err := opts.Unmarshal([]byte(src), msg); err != nil {
		panic(fmt.Sprintf("bad fixture for %s: %v", typeName, err))
	}
	return msg
}

func mustMessage(typeName string) protoreflect.MessageDescriptor {
	d, err := testFiles.FindDescriptorByName(protoreflect.FullName(typeName))
	if err != nil {
		panic(fmt.Sprintf("unknown test type %s: %v", typeName, err))
	}
	return d.(protoreflect.MessageDescriptor)
}

func mustService(typeName string) protoreflect.ServiceDescriptor {
	d, err := testFiles.FindDescriptorByName(protoreflect.FullName(typeName))
	if err != nil {
		panic(fmt.Sprintf("unknown test service %s: %v", typeName, err))
	}
	return d.(protoreflect.ServiceDescriptor)
}

func petStoreHandlers() map[string]unaryFn {
	return map[string]unaryFn{
		"GetPet": func(_ context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
			name := req.Get(req.Descriptor().Fields().ByName("name")).String()
			return jsonMsg("spytest.Pet", fmt.Sprintf(`{
				"name": %q,
				"age": 4,
				"mood": "HAPPY",
				"tags": ["fluffy", "fast"],
				"scores": {"agility": "9"},
				"owner": {"name": "sam"}
			}`, name)), nil
		},
		"ListPets": func(_ context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			return jsonMsg("spytest.PetList", `{
				"pets": [{"name": "rex"}, {"name": "milo"}],
				"count": 2
			}`), nil
		},
		"SlowPet": func(ctx context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return jsonMsg("spytest.Pet", `{"name": "slow"}`), nil
		},
		"GetVault": func(_ context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			return jsonMsg("spytest.Vault", `{
				"payload": {"@type": "type.googleapis.com/spytest.Secret", "code": "hunter2"}
			}`), nil
		},
	}
}

func treeHandlers() map[string]unaryFn {
	return map[string]unaryFn{
		"GetTree": func(_ context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			return jsonMsg("spytest.TreeNode", `{
				"label": "root",
				"children": [{"label": "leaf"}]
			}`), nil
		},
	}
}

func chainHandlers() map[string]unaryFn {
	return map[string]unaryFn{
		"GetQueryServicesDescriptor": func(_ context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			return jsonMsg("cosmos.base.reflection.v2alpha1.GetQueryServicesDescriptorResponse", `{
				"queries": {
					"queryServices": [{
						"fullname": "spytest.PetStore",
						"isModule": false,
						"methods": [
							{"name": "GetPet", "fullQueryPath": "/spytest.PetStore/GetPet"},
							{"name": "ListPets", "fullQueryPath": "/spytest.PetStore/ListPets"}
						]
					}]
				}
			}`), nil
		},
		"GetTxDescriptor": func(_ context.Context, _ *dynamicpb.Message) (*dynamicpb.Message, error) {
			return jsonMsg("cosmos.base.reflection.v2alpha1.GetTxDescriptorResponse", `{
				"tx": {
					"fullname": "spytest.Tx",
					"msgs": [{"msgTypeUrl": "/spytest.Pet"}]
				}
			}`), nil
		},
	}
}

// newTestServer assembles a server with the dynamic services and, per
// dialect flags, the reflection services backed by the compiled files.
func newTestServer(v1, v1alpha bool) *grpc.Server {
	server := grpc.NewServer()
	registerDynamic(server, mustService("spytest.PetStore"), petStoreHandlers())
	registerDynamic(server, mustService("spytest.TreeService"), treeHandlers())
	registerDynamic(server, mustService("cosmos.base.reflection.v2alpha1.ReflectionService"), chainHandlers())

	opts := reflection.ServerOptions{
		Services:           server,
		DescriptorResolver: testFiles,
	}
	if v1 {
		reflectv1grpc.RegisterServerReflectionServer(server, reflection.NewServerV1(opts))
	}
	if v1alpha {
		reflectv1alphagrpc.RegisterServerReflectionServer(server, reflection.NewServer(opts))
	}
	return server
}

// newTestServerWithoutChain mirrors the standard test server minus the
// chain extension service.
func newTestServerWithoutChain() *grpc.Server {
	server := grpc.NewServer()
	registerDynamic(server, mustService("spytest.PetStore"), petStoreHandlers())
	registerDynamic(server, mustService("spytest.TreeService"), treeHandlers())

	opts := reflection.ServerOptions{
		Services:           server,
		DescriptorResolver: testFiles,
	}
	reflectv1grpc.RegisterServerReflectionServer(server, reflection.NewServerV1(opts))
	return server
}

// startServer serves on an ephemeral port and returns the address plus a
// stop function.
func startServer(t *testing.T, server *grpc.Server) (string, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go server.Serve(lis)
	return lis.Addr().String(), server.Stop
}

func TestMain(m *testing.M) {
	var err error
	testFiles, err = compileTestFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to compile test schema: %v\n", err)
		os.Exit(1)
	}
	testTypes = dynamicpb.NewTypes(testFiles)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		os.Exit(1)
	}
	testAddr = lis.Addr().String()

	testServer = newTestServer(true, true)
	go func() {
		if err := testServer.Serve(lis); err != nil {
			fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		}
	}()

	testLogger = logging.Nop()

	code := m.Run()

	testServer.Stop()
	os.Exit(code)
}

// lowerContains reports a case-insensitive substring match, used for loose
// assertions on error text.
func lowerContains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
