package controlapi

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the gRPC content-subtype
// ("application/grpc+msgpack"). Registering it lets the control API define
// its service with ordinary Go structs instead of protobuf-generated
// types — no protoc step, no .proto files, just msgpack tags on the
// request/response structs in this package.
const codecName = "msgpack"

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
