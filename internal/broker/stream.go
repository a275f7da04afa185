package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"llmbridge/internal/connection"
)

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const chatPath = "/api/chat"

// streamScanBuffer bounds one chat chunk line.
const streamScanBuffer = 1 << 20

// ChatStream is a lazy, finite, non-restartable sequence of chat chunks.
// It is not safe for concurrent use. Close must be called once the caller
// is done, whether or not the stream was drained.
type ChatStream struct {
	cancel  context.CancelFunc
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// StreamChat opens a streaming chat against the preferred connection, or
// the best available one when preferred is nil. The response body is
// consumed incrementally; nothing is buffered beyond one line.
func (b *Broker) StreamChat(ctx context.Context, model string, messages []ChatMessage, preferred *connection.Type) (*ChatStream, error) {
	cfg, err := b.resolveTarget(ctx, preferred)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return nil, err
	}

	url, token := b.targetURL(cfg, chatPath)

	// No per-request timeout here: a chat stream legitimately outlives
	// the unary deadline. The caller's context bounds it.
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), streamScanBuffer)
	return &ChatStream{cancel: cancel, body: resp.Body, scanner: scanner}, nil
}

// Recv returns the next chunk. Blank and malformed lines are skipped, not
// surfaced. It returns io.EOF when the backend closes the stream.
func (s *ChatStream) Recv() (json.RawMessage, error) {
	if s.closed {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		chunk := make(json.RawMessage, len(line))
		copy(chunk, line)
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the underlying connection. Idempotent.
func (s *ChatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.body.Close()
	s.cancel()
	return err
}
