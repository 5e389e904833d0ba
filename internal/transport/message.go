package transport

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MessageType represents the type of message being sent over the channel
type MessageType string

const (
	// Client to remote
	MSG_AUTH     MessageType = "AUTH"
	MSG_ANNOUNCE MessageType = "ANNOUNCE"
	MSG_CHUNK    MessageType = "CHUNK"
	MSG_COMPLETE MessageType = "COMPLETE"

	// Remote to client
	MSG_AUTH_ACK     MessageType = "AUTH_ACK"
	MSG_ANNOUNCE_ACK MessageType = "ANNOUNCE_ACK"
	MSG_COMPLETE_ACK MessageType = "COMPLETE_ACK"
	MSG_REJECTED     MessageType = "REJECTED"
	MSG_FATAL        MessageType = "FATAL"
)

// Message represents a structured message sent over the channel
type Message struct {
	Type    MessageType `cbor:"type"`
	Payload []byte      `cbor:"payload,omitempty"`
	Error   string      `cbor:"error,omitempty"`
}

// MaxMessageSize bounds one inbound frame; chunks are limited far below it
// by the buffered amount settings
const MaxMessageSize = 64 << 20

var ErrMessageTooLarge = errors.New("message too large")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  16,
		MaxArrayElements: 1024,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// SerializeMessage converts a Message to bytes for transmission
func SerializeMessage(msg Message) ([]byte, error) {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return data, nil
}

// DeserializeMessage converts bytes back to a Message
func DeserializeMessage(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	var msg Message
	if err := decMode.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to deserialize message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("failed to deserialize message: missing type")
	}
	return msg, nil
}

// EncodePayload builds a message whose payload is v encoded as CBOR
func EncodePayload(msgType MessageType, v any) (Message, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: payload}, nil
}

// DecodePayload decodes the payload of msg into a T
func DecodePayload[T any](msg Message) (T, error) {
	var v T
	if err := decMode.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s payload: %w", msg.Type, err)
	}
	return v, nil
}
