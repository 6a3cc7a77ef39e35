/*
Package wire defines the control plane's gRPC wire protocol: the message
envelopes exchanged between a relayer and the control plane, and the
grpc.ServiceDesc that binds them to a transport.

The generated-stub toolchain (protoc plus the Go protobuf plugin) is not
available in this build environment, so frames are carried as JSON rather
than protobuf wire format: Codec implements encoding.Codec directly over
encoding/json and is installed via grpc.CallContentSubtype/grpc.ForceServerCodec
so the rest of the stack talks to google.golang.org/grpc exactly as it
would against generated stubs, just with a different marshaler underneath.
*/
package wire
