package hoptrace

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
)

// NewRequest describes an *http.Request for Dispatch.
func NewRequest(r *http.Request) *Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}
	return &Request{
		Method:     r.Method,
		Scheme:     scheme,
		Host:       r.Host,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
		Endpoint:   r.Pattern,
	}
}

// Handler wraps a net/http handler.
//
// Response headers are injected just before the handler writes its status line, and
// once more after it returns if it wrote nothing.
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /users/{id}", getUser)
//	http.ListenAndServe(":8080", m.Handler(mux))
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := NewRequest(r)
		_, _ = m.Dispatch(r.Context(), req, func(ctx context.Context) (Response, error) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			if root, ok := RootSpan(ctx); ok && m.cfg.InjectResponseHeaders {
				rw.beforeWrite = func(h http.Header) {
					m.formatter.Update(root.Context(), h)
				}
			}

			inner := r.WithContext(ctx)
			next.ServeHTTP(rw, inner)
			if req.Endpoint == "" {
				req.Endpoint = inner.Pattern
			}
			return rw, nil
		})
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code and inject headers.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	beforeWrite func(http.Header)
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		if rw.beforeWrite != nil {
			rw.beforeWrite(rw.ResponseWriter.Header())
		}
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// StatusCode implements Response.
func (rw *responseWriter) StatusCode() int {
	return rw.status
}

// Flush implements http.Flusher when the underlying writer does.
func (rw *responseWriter) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker when the underlying writer does.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hoptrace: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
