package proto

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec registers itself under the name grpc-go's default codec
// uses ("proto"), so every call made without an explicit content
// subtype — which is every call this package makes — serializes
// through encoding/json instead of google.golang.org/protobuf's wire
// format. Registering under "proto" overrides the codec the
// google.golang.org/grpc/encoding/proto package installs in its own
// init(); Go guarantees that init() runs before this package's,
// because this package transitively imports it via google.golang.org/grpc.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
