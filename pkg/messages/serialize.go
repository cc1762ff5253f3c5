package messages

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// EncodeAll and DecodeAll are safe for concurrent use, so one pair is shared.
func initZstd() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			zstdErr = fmt.Errorf("failed to create zstd writer: %v", zstdErr)
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MessageBufferSize*4))
		if zstdErr != nil {
			zstdErr = fmt.Errorf("failed to create zstd reader: %v", zstdErr)
		}
	})
	return zstdErr
}

// SerializeMessage encodes a message as JSON, zstd-compressed when compress is set.
func SerializeMessage(m *Message, compress bool) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %v", err)
	}
	if !compress {
		return b, nil
	}

	if err := initZstd(); err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b))), nil
}

// DeserializeMessage decodes a frame produced by SerializeMessage.
func DeserializeMessage(data []byte, compressed bool) (*Message, error) {
	if compressed {
		if err := initZstd(); err != nil {
			return nil, err
		}
		b, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress message: %v", err)
		}
		data = b
	}

	message := &Message{}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}
	if message.Event == "" {
		return nil, fmt.Errorf("failed to deserialize message: missing event name")
	}

	return message, nil
}
