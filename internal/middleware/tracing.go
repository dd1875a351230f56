package middleware

import (
	"net/http"

	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

// TraceHeader carries the trace id of a request.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware reuses the caller's trace id or generates one, stores it
// on the request context and echoes it in the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}
