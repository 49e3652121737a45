package server

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// cborCodec marshals service messages as CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type cborCodec struct{}

const codecName = "cbor"

func (cborCodec) Name() string { return codecName }

func (cborCodec) Marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
