package llm

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/wellbot/wellbot/pkg/types"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
)

// StreamReader provides an iterator interface over an SSE chunk stream.
//
//	stream, err := client.ChatStream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // consume chunk.Choices[0].Delta.Content
//	}
type StreamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
	mu      sync.Mutex
}

func newStreamReader(body io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), 4096*4)
	return &StreamReader{body: body, scanner: scanner}
}

// NewStreamReader wraps any SSE body in a StreamReader. Exported so callers
// and tests can build streams from sources other than a live HTTP response.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return newStreamReader(body)
}

// Recv returns the next content chunk from the stream. Returns io.EOF when
// the stream is complete. Keep-alive lines and unparseable chunks are
// skipped rather than surfaced.
func (s *StreamReader) Recv() (*types.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if bytes.HasPrefix(line, []byte(sseDataPrefix)) {
			line = bytes.TrimPrefix(line, []byte(sseDataPrefix))
		}
		if bytes.Equal(line, []byte(sseDone)) {
			s.finish()
			return nil, io.EOF
		}
		// SSE comments and event name lines carry no chunk payload.
		if bytes.HasPrefix(line, []byte(":")) || bytes.HasPrefix(line, []byte("event:")) {
			continue
		}

		var chunk types.StreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		return &chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.finish()
		return nil, err
	}

	s.finish()
	return nil, io.EOF
}

// Close releases the underlying response body. Safe to call multiple times.
func (s *StreamReader) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finish()
}

func (s *StreamReader) finish() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
