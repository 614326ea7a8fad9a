// Package httpserver builds an HTTP server with sane defaults for this
// project.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// New wraps a handler with timeouts suitable for a public endpoint.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Shutdown drains srv within the shutdown timeout.
func Shutdown(ctx context.Context, srv *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
