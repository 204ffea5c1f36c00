package reporter

import (
	"encoding/json"
	"fmt"

	poolx "github.com/seasbee/go-poolx"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes pool snapshots for sinks that store bytes
type Codec interface {
	Encode(s poolx.MetricsSnapshot) ([]byte, error)
	Decode(data []byte) (poolx.MetricsSnapshot, error)
	Name() string
}

// MessagePackCodec encodes snapshots with MessagePack
type MessagePackCodec struct{}

// NewMessagePackCodec creates a MessagePack codec
func NewMessagePackCodec() *MessagePackCodec {
	return &MessagePackCodec{}
}

// Encode serializes a snapshot to MessagePack bytes
func (c *MessagePackCodec) Encode(s poolx.MetricsSnapshot) ([]byte, error) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return data, nil
}

// Decode deserializes MessagePack bytes to a snapshot
func (c *MessagePackCodec) Decode(data []byte) (poolx.MetricsSnapshot, error) {
	var s poolx.MetricsSnapshot
	if len(data) == 0 {
		return s, fmt.Errorf("cannot decode empty data")
	}
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return s, nil
}

// Name returns the codec name
func (c *MessagePackCodec) Name() string {
	return "msgpack"
}

// JSONCodec encodes snapshots as JSON, for sinks read by humans or other tools
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode serializes a snapshot to JSON
func (c *JSONCodec) Encode(s poolx.MetricsSnapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("json marshal error: %w", err)
	}
	return data, nil
}

// Decode deserializes JSON to a snapshot
func (c *JSONCodec) Decode(data []byte) (poolx.MetricsSnapshot, error) {
	var s poolx.MetricsSnapshot
	if len(data) == 0 {
		return s, fmt.Errorf("cannot decode empty data")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("json unmarshal error: %w", err)
	}
	return s, nil
}

// Name returns the codec name
func (c *JSONCodec) Name() string {
	return "json"
}
