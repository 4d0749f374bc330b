package main

import (
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/wasmkernel/internal/logging"
	"github.com/oriys/wasmkernel/internal/metrics"
	"github.com/oriys/wasmkernel/internal/observability"
)

func newRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func newTCPListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// serveMetrics blocks serving Prometheus scrapes on addr; run in its own
// goroutine by runCmd.
func serveMetrics(addr string, collectors *metrics.Collectors) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.TracingHandler("metrics_scrape", collectors.Handler().ServeHTTP))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Op().Warn("metrics server stopped", "error", err)
	}
}
