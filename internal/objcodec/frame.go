package objcodec

import (
	"bytes"
	"fmt"
	"io"
)

// Frame produces the on-repository ciphertext for a canonical plaintext
// payload: seal(compress(payload)). The OID is always computed over the
// plaintext passed in, never over the returned ciphertext, so
// deduplication stays semantic rather than ciphertext-dependent (spec
// §4.3).
func Frame(plaintext []byte, seal func(r io.Reader, w io.Writer) error) ([]byte, error) {
	compressed, err := Compress(plaintext)
	if err != nil {
		return nil, err
	}
	var ciphertext bytes.Buffer
	if err := seal(bytes.NewReader(compressed), &ciphertext); err != nil {
		return nil, fmt.Errorf("objcodec: sealing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Unframe reverses Frame: open(ciphertext) then decompress, returning the
// canonical plaintext payload.
func Unframe(ciphertext []byte, open func(r io.Reader, w io.Writer) error) ([]byte, error) {
	var compressed bytes.Buffer
	if err := open(bytes.NewReader(ciphertext), &compressed); err != nil {
		return nil, fmt.Errorf("objcodec: opening: %w", err)
	}
	return Decompress(compressed.Bytes())
}
