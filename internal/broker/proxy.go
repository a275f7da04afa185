package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llmbridge/internal/connection"
	"llmbridge/internal/logging"
)

// Proxy forwards a unary request through the preferred connection, or the
// best available one when preferred is nil. Paths use the local API
// vocabulary; relay translation is internal. Only GET and POST are
// supported. The HTTP call runs on the calling goroutine.
func (b *Broker) Proxy(ctx context.Context, method, path string, body json.RawMessage, preferred *connection.Type) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	cfg, err := b.resolveTarget(ctx, preferred)
	if err != nil {
		return nil, err
	}

	url, token := b.targetURL(cfg, path)

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	var reqBody io.Reader
	if method == http.MethodPost && len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("proxy request failed",
			logging.String(logging.FieldConnection, string(cfg.Type)),
			logging.String("path", path),
			logging.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("backend returned invalid JSON for %s", path)
	}
	return json.RawMessage(respBody), nil
}

// targetURL builds the outbound URL and bearer token for one call. The
// relay gets its own path namespace; the local backend passes through.
func (b *Broker) targetURL(cfg connection.Config, path string) (url, token string) {
	if cfg.Type == connection.TypeCloudProxy {
		return cfg.BaseURL + relayPath(path), cfg.AuthToken
	}
	return cfg.BaseURL + path, ""
}
