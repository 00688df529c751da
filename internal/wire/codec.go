package wire

import (
	"encoding/json"
	"fmt"
)

// Decode parses a raw client frame. Protocol errors (spec §7: "malformed
// frame, unknown message type") are returned as plain errors; callers send
// an `error` frame rather than closing the channel.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("wire: missing frame type")
	}
	return f, nil
}

// Encode serialises a server->client frame.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode failure: %w", err)
	}
	return b, nil
}

// DecodeData re-decodes the generic Data field of a frame into a concrete
// request struct, e.g. SubscribeRequest.
func DecodeData(f Frame, into any) error {
	b, err := json.Marshal(f.Data)
	if err != nil {
		return fmt.Errorf("wire: re-encode data: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("wire: decode data: %w", err)
	}
	return nil
}
