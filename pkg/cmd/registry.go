// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Bojackxiang/n8n-demo/pkg/registry"
	"github.com/redis/go-redis/v9"
)

// NewRegistry registers every built-in node executor. HTTP_REQUEST nodes
// share one client bounded by httpTimeout.
func NewRegistry(logger *slog.Logger, httpTimeout time.Duration) *registry.Registry {
	return registry.NewDefault(logger, registry.Options{
		HTTPClient: &http.Client{Timeout: httpTimeout},
	})
}

// NewRedisClient connects to the redis instance used by queue triggers.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opts), nil
}
