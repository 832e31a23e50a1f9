// Package httputil provides helpers for working with HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

const (
	// DefaultMaxResponseBodyBytes caps upstream response bodies to 10MB so a
	// misbehaving service cannot exhaust memory.
	DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024
)

// ErrResponseBodyTooLarge indicates an upstream body exceeded the read cap.
var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads up to maxBytes from reader. When the body exceeds
// the cap it returns the truncated prefix along with ErrResponseBodyTooLarge.
// A non-positive maxBytes disables the limit.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	limited := io.LimitReader(reader, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:int(maxBytes)], ErrResponseBodyTooLarge
	}
	return body, nil
}
