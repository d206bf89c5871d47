package queue

import (
	"bytes"
	"encoding/json"

	"github.com/DoNewsCode/core/contract"
)

var _ contract.Codec = jsonCodec{}

// jsonCodec keeps numbers as json.Number so that ids in payloads survive the
// round trip without float conversion.
type jsonCodec struct{}

// Marshal serializes the message to bytes
func (c jsonCodec) Marshal(message interface{}) ([]byte, error) {
	return json.Marshal(message)
}

// Unmarshal reverses the bytes to message
func (c jsonCodec) Unmarshal(data []byte, message interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(message)
}
