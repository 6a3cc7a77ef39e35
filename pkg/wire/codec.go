package wire

import "encoding/json"

// CodecName is registered with grpc.CallContentSubtype / installed as the
// server's default codec via grpc.ForceServerCodec.
const CodecName = "json"

// Codec implements encoding.Codec (google.golang.org/grpc/encoding) over
// encoding/json in place of a protoc-generated protobuf codec.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
