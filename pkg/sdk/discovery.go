package sdk

import "os"

// New builds a client from the environment. ETERNAL_GATE_URL names the
// daemon; localhost is assumed when unset, which covers the common case of
// ops tooling running next to the daemon.
func New() (*Client, error) {
	baseURL := os.Getenv("ETERNAL_GATE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return Connect(baseURL)
}
