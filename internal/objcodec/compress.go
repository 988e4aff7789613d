package objcodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compress returns the zstd-compressed form of plaintext. This is the
// general-purpose lossless compressor spec §9 leaves as an open
// configuration value; zstd is the ecosystem default for high-throughput
// Go services.
func Compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("objcodec: creating zstd writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, fmt.Errorf("objcodec: compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("objcodec: finalizing compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("objcodec: creating zstd reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objcodec: decompressing: %w", err)
	}
	return out, nil
}
