package embedding

import (
	"context"
	"net/http"
	"time"
)

// Provider generates vector embeddings from text. Implementations call
// an external service; callers bound the work through the context.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// defaultHTTPClient caps a single embedding call; per-request contexts
// can tighten this further.
var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}
