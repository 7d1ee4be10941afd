package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

// loggingMiddleware logs every exchange and flags OrderIds that were
// submitted more than once, which should never happen for Init.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	var (
		mu     sync.Mutex
		orders = make(map[string]int)
	)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if r.URL.Path == "/v2/Init" {
			var payload struct {
				OrderID string `json:"OrderId"`
			}
			if err := json.Unmarshal(body, &payload); err == nil && payload.OrderID != "" {
				mu.Lock()
				orders[payload.OrderID]++
				seen := orders[payload.OrderID]
				mu.Unlock()
				if seen > 1 {
					logger.Warn("Duplicate Init", "orderId", payload.OrderID, "count", seen)
				}
			}
		}

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		logger.Info("Handled request", "path", r.URL.Path, "status", lrw.status,
			"request", string(body), "response", lrw.body.String())
	})
}
