package validation

import (
	"context"
	"time"

	"sdgateway/backend"
)

// Prober checks that a backend answers. *backend.Client satisfies it.
type Prober interface {
	Ping(ctx context.Context, s backend.Server) (time.Duration, error)
}

// ConnectivityResult is the outcome of probing one backend.
type ConnectivityResult struct {
	Server    backend.Server
	Reachable bool
	Latency   time.Duration
	Error     error
}

// CheckBackends probes every backend of pool in order, each with its own
// timeout.
func CheckBackends(ctx context.Context, pool *backend.Pool, prober Prober, timeout time.Duration) []ConnectivityResult {
	results := make([]ConnectivityResult, 0, pool.Len())
	for i := 0; i < pool.Len(); i++ {
		s, _ := pool.Get(i)

		pctx, cancel := context.WithTimeout(ctx, timeout)
		latency, err := prober.Ping(pctx, s)
		cancel()

		results = append(results, ConnectivityResult{
			Server:    s,
			Reachable: err == nil,
			Latency:   latency,
			Error:     err,
		})
	}
	return results
}
