package media

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBytes caps a single attachment in transit.
const DefaultMaxBytes int64 = 100 << 20

// ErrTooLarge is returned when an attachment exceeds the configured cap.
var ErrTooLarge = errors.New("media too large")

// ReadAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func ReadAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
