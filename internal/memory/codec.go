package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ErrCorruptPayload marks a compressed body that cannot be decoded.
// It is a per-entry data-integrity error, never fatal to a whole query.
var ErrCorruptPayload = errors.New("corrupt compressed payload")

// CompressBody encodes an entry body for cold storage.
// The transform is exact: DecompressBody(CompressBody(s)) == s.
func CompressBody(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress body: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressBody restores the plain text of a compressed entry body.
func DecompressBody(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	defer r.Close()
	text, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return string(text), nil
}
