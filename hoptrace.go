// Package hoptrace propagates distributed trace context across HTTP hops.
//
// A Middleware opens a server span for every inbound request. It continues the
// caller's trace when the request carries valid trace headers in the configured
// format and starts a new trace otherwise. The span is installed in the request's
// context together with the tracer, so code running during the request can open
// nested spans with NewTrace, Do or Go and forward the trace with MakeHeaders.
//
//	m, err := hoptrace.New(hoptrace.MustFromEnv())
//	if err != nil {
//		return err
//	}
//	defer m.Close(context.Background())
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
//		err := hoptrace.Do(r.Context(), "load order", func(ctx context.Context) error {
//			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, inventoryURL, nil)
//			for k, v := range hoptrace.MakeHeaders(ctx) {
//				req.Header[k] = v
//			}
//			_, err := http.DefaultClient.Do(req)
//			return err
//		})
//		...
//	})
//	http.ListenAndServe(":8080", m.Handler(mux))
package hoptrace
