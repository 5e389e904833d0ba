package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxEncodedLen bounds what Decode accepts; SDP blobs stay far below it
const MaxEncodedLen = 64 << 10

var ErrEmptyEncoding = errors.New("encoded string is empty")

// Encode renders value as URL-safe unpadded base64 of its JSON form
func Encode[T any](value T) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", value, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func Decode[T any](encoded string) (T, error) {
	var result T

	switch {
	case encoded == "":
		return result, ErrEmptyEncoding
	case len(encoded) > MaxEncodedLen:
		return result, fmt.Errorf("encoded value too large: %d bytes", len(encoded))
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal %T (%d bytes): %w", result, len(raw), err)
	}
	return result, nil
}
