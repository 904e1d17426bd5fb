package rpc

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/autoclip/worker/internal/apierr"
	"github.com/autoclip/worker/internal/logx"
)

// responseWriter tracks the status code a handler wrote, the same
// wrap-and-remember shape as the teacher's middleware.responseWriter.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// logRequest wraps every handler with structured request logging and a
// panic recovery net, mirroring the teacher's middleware.LogRequest.
func logRequest(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)

		defer func() {
			if rec := recover(); rec != nil {
				apierr.WriteInternalServerError(wrapped, "internal server error", nil)
				logx.LogNoJobID("panic in rpc handler", "err", rec, "trace", string(debug.Stack()))
			}
		}()

		next(wrapped, r, ps)
		logx.LogNoJobID("rpc request",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"duration", time.Since(start).String(),
			"status", wrapped.status,
		)
	}
}

// requireBearer enforces spec.md §6's "every endpoint except /health
// requires Authorization: Bearer <sharedSecret>" rule. An empty secret
// means WORKER_SECRET was never configured (spec.md §6: "required for
// non-dev") — in that case the check is a no-op rather than an
// unsatisfiable lock.
func requireBearer(secret string, next httprouter.Handle) httprouter.Handle {
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != secret {
			apierr.WriteUnauthorized(w, "Unauthorized")
			return
		}
		next(w, r, ps)
	}
}
