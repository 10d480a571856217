package dispatch

import (
	"fmt"
	"os"
)

// Codec defines the interface for encoding/decoding RPC bodies. NewManager
// and the worker binary construct one from worker.body_codec, but the
// bodies exchanged over the framed TCP channel are always encoded as JSON
// by the protocol package; no Codec is applied to them.
type Codec interface {
	// Marshal serializes a value to bytes
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal deserializes bytes to a value
	Unmarshal(data []byte, v interface{}) error

	// Name returns the name of the codec
	Name() string
}

// CodecType represents the type of codec to use
type CodecType string

const (
	// CodecJSON uses JSON encoding (default)
	CodecJSON CodecType = "json"
	// CodecMessagePack uses MessagePack encoding
	CodecMessagePack CodecType = "msgpack"
)

// GetJSONCodecType returns the name of the JSON codec compiled in by build
// tag, or the value of the INFERD_JSON_CODEC environment variable when it
// is set. The variable changes only the reported name, not the codec.
func GetJSONCodecType() string {
	if codecType := os.Getenv("INFERD_JSON_CODEC"); codecType != "" {
		return codecType
	}
	return (&JSONCodec{}).Name()
}

// NewCodec creates a new codec based on the type
func NewCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecJSON, "":
		return &JSONCodec{}, nil
	case CodecMessagePack:
		return &MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", codecType)
	}
}
