package broker

// relayPathTable maps local API paths to their relay equivalents. Paths not
// listed fall through to the generic relay prefix.
var relayPathTable = map[string]string{
	"/api/version":  "/api/proxy/status",
	"/api/tags":     "/api/ollama/api/tags",
	"/api/chat":     "/api/ollama/api/chat",
	"/api/generate": "/api/ollama/api/generate",
	"/api/pull":     "/api/ollama/api/pull",
	"/api/push":     "/api/ollama/api/push",
	"/api/create":   "/api/ollama/api/create",
	"/api/delete":   "/api/ollama/api/delete",
}

const relayPrefix = "/api/ollama"

// relayPath translates a local API path into the relay's namespace. The
// mapping is total: unknown paths get the generic prefix.
func relayPath(path string) string {
	if mapped, ok := relayPathTable[path]; ok {
		return mapped
	}
	return relayPrefix + path
}
