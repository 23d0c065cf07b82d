// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Re-exported chi middleware used by the router.
var (
	RequestID = middleware.RequestID
	RealIP    = middleware.RealIP
)

// Logger writes one access log line per request and turns handler panics
// into a 500. http.ErrAbortHandler is re-raised so net/http can drop the
// connection mid-stream.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					logger.Error().
						Str("type", "error").
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Msg("log system error")

					if ww.Status() == 0 {
						http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := logger.Debug()
				if status >= http.StatusInternalServerError {
					event = logger.Error()
				}

				event.
					Str("type", "access").
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_ip", r.RemoteAddr).
					Str("url", r.URL.RequestURI()).
					Str("proto", r.Proto).
					Str("method", r.Method).
					Int("status", status).
					Float64("latency_ms", float64(time.Since(start).Nanoseconds())/1e6).
					Int64("bytes_in", max(r.ContentLength, 0)).
					Int("bytes_out", ww.BytesWritten()).
					Str("user_agent", r.UserAgent()).
					Msg("incoming_request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
