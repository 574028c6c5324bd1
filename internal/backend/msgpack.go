package backend

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/echoclone/echoclone-go/internal/schema"
)

// EncodeMsgpack encodes a value to MessagePack format.
func EncodeMsgpack(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeMsgpack decodes MessagePack data into the provided value.
func DecodeMsgpack(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// EncodeSynthesisRequest validates the request and encodes it for the model server.
func EncodeSynthesisRequest(req *schema.SynthesisRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return EncodeMsgpack(req)
}
