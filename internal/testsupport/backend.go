package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// routeTable dispatches on exact request path and allows tests to replace
// a handler after construction, which http.ServeMux forbids.
type routeTable struct {
	mu     sync.RWMutex
	routes map[string]http.HandlerFunc
}

func newRouteTable() *routeTable {
	return &routeTable{routes: make(map[string]http.HandlerFunc)}
}

func (rt *routeTable) set(path string, handler http.HandlerFunc) {
	rt.mu.Lock()
	rt.routes[path] = handler
	rt.mu.Unlock()
}

func (rt *routeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mu.RLock()
	handler, ok := rt.routes[r.URL.Path]
	rt.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

// OllamaBackend is a scripted stand-in for a local Ollama instance.
// Handlers for individual paths can be replaced per test; unhandled
// paths 404.
type OllamaBackend struct {
	Version string
	Models  []string

	routes *routeTable
	server *httptest.Server
}

// NewOllamaBackend starts a backend answering the version and tag probes.
func NewOllamaBackend(t testing.TB, version string, models ...string) *OllamaBackend {
	t.Helper()

	b := &OllamaBackend{Version: version, Models: models, routes: newRouteTable()}
	b.routes.set("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		writeObject(w, map[string]string{"version": b.Version})
	})
	b.routes.set("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		entries := make([]map[string]string, 0, len(b.Models))
		for _, name := range b.Models {
			entries = append(entries, map[string]string{"name": name})
		}
		writeObject(w, map[string]any{"models": entries})
	})
	b.server = httptest.NewServer(b.routes)
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the backend's base URL.
func (b *OllamaBackend) URL() string { return b.server.URL }

// Handle replaces or adds a path handler.
func (b *OllamaBackend) Handle(path string, handler http.HandlerFunc) {
	b.routes.set(path, handler)
}

// CloudBackend is a scripted stand-in for the authenticated relay.
type CloudBackend struct {
	Token string

	routes *routeTable
	server *httptest.Server
}

// NewCloudBackend starts a relay whose health endpoint requires the given
// bearer token.
func NewCloudBackend(t testing.TB, token string) *CloudBackend {
	t.Helper()

	b := &CloudBackend{Token: token, routes: newRouteTable()}
	b.routes.set("/health", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeObject(w, map[string]string{"status": "ok"})
	})
	b.server = httptest.NewServer(b.routes)
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the relay's base URL.
func (b *CloudBackend) URL() string { return b.server.URL }

// Handle replaces or adds a path handler.
func (b *CloudBackend) Handle(path string, handler http.HandlerFunc) {
	b.routes.set(path, handler)
}

func (b *CloudBackend) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+b.Token
}

// RequireAuth wraps a handler with the relay's bearer check.
func (b *CloudBackend) RequireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// StreamChunks writes newline-delimited JSON chat chunks followed by a
// final done message, flushing after each line.
func StreamChunks(t testing.TB, w http.ResponseWriter, contents ...string) {
	t.Helper()

	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatalf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, content := range contents {
		fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", content)
		flusher.Flush()
	}
	fmt.Fprintln(w, `{"done":true}`)
	flusher.Flush()
}

func writeObject(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
