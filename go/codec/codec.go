// Package codec implements the payload pipeline shared by the queue and the
// result table: msgpack serialization, parallel gzip at level 6, and — for
// queue bodies only — unpadded standard base64.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/denwong47/coffeeshop/go/shoperr"
)

// CompressionLevel matches the fixed level used across the cluster. It is
// not negotiated: readers accept any valid RFC 1952 stream, including
// multi-member concatenations.
const CompressionLevel = 6

// MaxEncodedSize is the queue's message body limit. Payloads whose base64
// form exceeds it are rejected before the queue is called.
const MaxEncodedSize = 256 << 10

var base64Encoding = base64.StdEncoding.WithPadding(base64.NoPadding)

// Marshal serializes and compresses a value. This is the binary form stored
// in the result table's output column.
func Marshal(v interface{}) ([]byte, error) {
	var raw, err = msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}

	var buf bytes.Buffer
	zw, err := pgzip.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("initialising compressor: %w", err)
	}
	if _, err = zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("finalising compressed payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decompresses and deserializes a value produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	var zr, err = pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("initialising decompressor: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompressing payload: %w", err)
	}
	if err = msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("deserializing payload: %w", err)
	}
	return nil
}

// EncodeQueueBody produces the base64 queue message body for a value,
// rejecting bodies over MaxEncodedSize.
func EncodeQueueBody(v interface{}) (string, error) {
	var compressed, err = Marshal(v)
	if err != nil {
		return "", err
	}
	var body = base64Encoding.EncodeToString(compressed)
	if len(body) > MaxEncodedSize {
		return "", shoperr.SizeLimitExceeded(len(body), MaxEncodedSize)
	}
	return body, nil
}

// DecodeQueueBody reverses EncodeQueueBody into v.
func DecodeQueueBody(body string, v interface{}) error {
	var compressed, err = base64Encoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("decoding base64 queue body: %w", err)
	}
	return Unmarshal(compressed, v)
}
