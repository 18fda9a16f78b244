package server

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/ayusman/watchpost/internal/server/api"
)

// Request outcomes recorded in metrics.
const (
	outcomeOK           = "ok"
	outcomeError        = "error"
	outcomeUnauthorized = "unauthorized"
	outcomeLimited      = "limited"
)

// command wraps h with operator authorization and the per-command rate
// limit. Unknown callers get an empty 404 so the endpoint looks absent.
func (s *Server) command(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(OperatorHeader)
		if s.config.OperatorID == "" || caller != s.config.OperatorID {
			s.logger.Warn("unauthorized command ignored",
				"command", name,
				"caller", caller,
				"remote", r.RemoteAddr)
			s.config.Metrics.ObserveRequest(name, outcomeUnauthorized)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if l := s.config.Limiter; l != nil && !l.Allow(caller, name) {
			wait := l.Remaining(caller, name)
			s.logger.Debug("command rate limited", "command", name, "caller", caller, "wait", wait)
			s.config.Metrics.ObserveRequest(name, outcomeLimited)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			api.WriteError(w, http.StatusTooManyRequests,
				fmt.Sprintf("Please wait %s before using %s again.", wait.Round(time.Second), name))
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		outcome := outcomeOK
		if rec.status >= http.StatusBadRequest {
			outcome = outcomeError
		}
		s.config.Metrics.ObserveRequest(name, outcome)
	})
}

// recoverer converts a handler panic into a logged 500 response.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()))
				api.WriteError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status while passing through the
// optional interfaces streaming and websocket handlers rely on.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
