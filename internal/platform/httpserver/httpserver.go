package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with conservative header timeouts. Evaluation
// requests are CPU-bound and short; governance writes are I/O-bound but rare.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
