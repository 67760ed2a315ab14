// Package hoptracegin adapts the hoptrace middleware to gin.
package hoptracegin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kzs0/hoptrace"
	"github.com/kzs0/hoptrace/headers"
	"github.com/kzs0/hoptrace/trace"
)

// Middleware returns a gin handler that traces every request through m.
//
//	r := gin.New()
//	r.Use(hoptracegin.Middleware(m))
func Middleware(m *hoptrace.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := hoptrace.NewRequest(c.Request)
		if route := c.FullPath(); route != "" {
			req.Endpoint = c.Request.Method + " " + route
		}

		_, _ = m.Dispatch(c.Request.Context(), req, func(ctx context.Context) (hoptrace.Response, error) {
			c.Request = c.Request.WithContext(ctx)

			if root, ok := hoptrace.RootSpan(ctx); ok && m.Config().InjectResponseHeaders {
				c.Writer = &responseWriter{
					ResponseWriter: c.Writer,
					formatter:      m.Formatter(),
					sc:             root.Context(),
				}
			}

			c.Next()

			if len(c.Errors) > 0 && !c.Writer.Written() {
				return nil, c.Errors.Last()
			}
			return response{status: c.Writer.Status(), header: c.Writer.Header()}, nil
		})
	}
}

type response struct {
	status int
	header http.Header
}

func (r response) StatusCode() int     { return r.status }
func (r response) Header() http.Header { return r.header }

// responseWriter injects the root span's headers before the status line is sent.
type responseWriter struct {
	gin.ResponseWriter
	formatter headers.Formatter
	sc        trace.Context
	injected  bool
}

func (w *responseWriter) inject() {
	if w.injected || w.ResponseWriter.Written() {
		return
	}
	w.injected = true
	w.formatter.Update(w.sc, w.ResponseWriter.Header())
}

func (w *responseWriter) WriteHeaderNow() {
	w.inject()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.inject()
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.inject()
	return w.ResponseWriter.WriteString(s)
}

func (w *responseWriter) Flush() {
	w.inject()
	w.ResponseWriter.Flush()
}
