package ai

import (
	"net/http"
	"strings"
	"time"
)

// Option customizes a REST client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			o.baseURL = trimmed
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func buildOptions(defaultBaseURL string, timeout time.Duration, opts []Option) clientOptions {
	o := clientOptions{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
