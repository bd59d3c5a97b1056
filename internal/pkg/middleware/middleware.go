// Package middleware holds the HTTP middleware shared by the API routes and
// the error-returning handler adapter.
package middleware

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// responseWriter records the status and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	size        int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status, rw.wroteHeader = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Hijack hands the connection to the WebSocket upgrader.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T cannot be hijacked", rw.ResponseWriter)
	}
	rw.status, rw.wroteHeader = http.StatusSwitchingProtocols, true
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestID reuses the caller's X-Request-ID or mints one, echoes it on the
// response and stores it in the request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = generateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Logging writes one line per request, at a level chosen by the status.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrapResponseWriter(w)
			reqLog := log.FromContext(r.Context())
			reqLog.Debug("request started", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			next.ServeHTTP(rw, r)

			reqLog.Log(r.Context(), levelFor(rw.status), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"size", rw.size,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery turns a handler panic into a 500 with the standard error body.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				log.FromContext(r.Context()).Error("panic recovered",
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				WriteErrorResponse(w, errors.CodeInternal, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandlerFunc reports failures by returning them.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request) error

func WrapHandler(log *logger.Logger, fn ErrorHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			HandleError(w, r, log, err)
		}
	}
}

// HandleError logs err and writes its JSON error body. Messages of internal
// errors never reach the client.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	code := errors.GetCode(err)
	status := errors.GetHTTPStatus(err)
	fields := errors.GetFields(err)

	attrs := []any{
		"error", err.Error(),
		"code", string(code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}

	message := err.Error()
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	reqLog := log.FromContext(r.Context())
	switch {
	case status < 500:
		reqLog.Warn("request error", attrs...)
	default:
		if appErr != nil && len(appErr.Stack) > 0 {
			attrs = append(attrs, "stack", appErr.StackTrace())
		}
		reqLog.Error("request failed", attrs...)
		if code == errors.CodeInternal {
			message = "internal server error"
		}
	}

	WriteErrorResponse(w, code, message, fields)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func WriteErrorResponse(w http.ResponseWriter, code errors.Code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader((&errors.Error{Code: code}).HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{
		Code:    string(code),
		Message: message,
		Details: details,
	}})
}

// generateRequestID returns 32 hex characters.
func generateRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
