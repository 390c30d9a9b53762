package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// requestLogger is middleware that logs HTTP requests
type requestLogger struct {
	handler http.Handler
	log     *zap.Logger
}

// responseCapture wraps http.ResponseWriter to capture status code and size
type responseCapture struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	n, err := rc.ResponseWriter.Write(b)
	rc.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func newRequestLogger(handler http.Handler, log *zap.Logger) *requestLogger {
	return &requestLogger{handler: handler, log: log}
}

func (rl *requestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rc := &responseCapture{ResponseWriter: w}

	rl.handler.ServeHTTP(rc, r)

	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	clientIP := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		clientIP = xff
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rc.status),
		zap.Int("bytes", rc.bytes),
		zap.Duration("duration", time.Since(start)),
		zap.String("client_ip", clientIP),
	}
	if ua := r.UserAgent(); ua != "" {
		fields = append(fields, zap.String("user_agent", ua))
	}
	if rc.status >= 500 {
		rl.log.Warn("request", fields...)
		return
	}
	rl.log.Info("request", fields...)
}
