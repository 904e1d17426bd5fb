package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoclip/worker/internal/logx"
)

// ListenAndServe starts a dedicated Prometheus /metrics server, the
// same split-from-the-RPC-port shape as the teacher's
// metrics.ListenAndServe.
func ListenAndServe(port int) error {
	listen := fmt.Sprintf("0.0.0.0:%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logx.LogNoJobID("starting prometheus metrics server", "addr", listen)
	return http.ListenAndServe(listen, mux)
}
