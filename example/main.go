// Command example runs a small order service traced by hoptrace.
//
// Inbound requests continue the caller's trace; the service calls its own
// inventory and pricing endpoints through an instrumented client so one request
// produces a three-hop trace in Zipkin.
//
//	ZIPKIN_HOST=localhost ZIPKIN_SERVICE_NAME=orders go run ./example serve --router gin
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/kzs0/hoptrace"
	hoptracegin "github.com/kzs0/hoptrace/gin"
	"github.com/kzs0/hoptrace/log"
	"github.com/kzs0/hoptrace/server"
	"github.com/kzs0/hoptrace/transport"
)

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetEnvPrefix("hoptrace")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp
}

func main() {
	vp := newViper()
	root := &cobra.Command{
		Use:   "example",
		Short: "Traced example service",
	}
	root.AddCommand(newServeCommand(vp), newEnvCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the ZIPKIN_* environment variables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return hoptrace.Usage(cmd.OutOrStdout())
		},
	}
}

func serveFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	fs.String("listen", ":8080", "address of the traced service")
	fs.String("obs-addr", ":9090", "address of the metrics, health and pprof server")
	fs.String("router", "nethttp", "router to serve with (nethttp or gin)")
	fs.String("self-url", "http://localhost:8080", "base URL the service uses to call itself")
	return fs
}

func newServeCommand(vp *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the order service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, vp)
		},
	}
	cmd.Flags().AddFlagSet(serveFlags())
	_ = vp.BindPFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, vp *viper.Viper) error {
	cfg, err := hoptrace.FromEnv()
	if err != nil {
		return err
	}

	logger := log.New(&log.HandlerOptions{
		Level:        cfg.Level(),
		Format:       cfg.LogFormat,
		TraceContext: hoptrace.TraceIDs,
	})
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := hoptrace.New(cfg, hoptrace.WithLogger(logger), hoptrace.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			logger.Error("failed to flush spans", slog.String("error", err.Error()))
		}
	}()

	svc := &orders{
		client: transport.NewRestyClient().SetBaseURL(vp.GetString("self-url")).SetTimeout(5 * time.Second),
		logger: logger,
	}

	var handler http.Handler
	switch router := vp.GetString("router"); router {
	case "gin":
		handler = svc.ginRouter(m)
	case "nethttp":
		handler = m.Handler(svc.mux())
	default:
		return fmt.Errorf("unknown router %q", router)
	}

	app := &http.Server{Addr: vp.GetString("listen"), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	obsCfg := server.DefaultConfig()
	obsCfg.Addr = vp.GetString("obs-addr")
	obs := server.New(reg, obsCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving", slog.String("addr", app.Addr), slog.String("router", vp.GetString("router")))
		return ignoreClosed(app.ListenAndServe())
	})
	g.Go(func() error {
		logger.Info("observability server listening", slog.String("addr", obsCfg.Addr))
		return ignoreClosed(obs.ListenAndServe())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(app.Shutdown(shutdownCtx), obs.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type orders struct {
	client *resty.Client
	logger *slog.Logger
}

type order struct {
	ID       string `json:"id"`
	InStock  int    `json:"in_stock"`
	PriceUSD string `json:"price_usd"`
}

// load fans out to the inventory and pricing endpoints in parallel.
func (o *orders) load(ctx context.Context, id string) (order, error) {
	out := order{ID: id}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hoptrace.Do(gctx, "inventory", func(ctx context.Context) error {
			var body struct {
				InStock int `json:"in_stock"`
			}
			_, err := o.client.R().SetContext(ctx).SetResult(&body).Get("/inventory/" + id)
			out.InStock = body.InStock
			return err
		}, hoptrace.WithTag("order.id", id))
	})
	g.Go(func() error {
		return hoptrace.Do(gctx, "pricing", func(ctx context.Context) error {
			var body struct {
				PriceUSD string `json:"price_usd"`
			}
			_, err := o.client.R().SetContext(ctx).SetResult(&body).Get("/prices/" + id)
			out.PriceUSD = body.PriceUSD
			return err
		}, hoptrace.WithTag("order.id", id))
	})
	if err := g.Wait(); err != nil {
		return order{}, err
	}
	o.logger.InfoContext(ctx, "order loaded", slog.String("order.id", id))
	return out, nil
}

func (o *orders) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		ord, err := o.load(r.Context(), r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, ord)
	})
	mux.HandleFunc("GET /inventory/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]int{"in_stock": 12})
	})
	mux.HandleFunc("GET /prices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"price_usd": "19.99"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (o *orders) ginRouter(m *hoptrace.Middleware) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), hoptracegin.Middleware(m))
	r.GET("/orders/:id", func(c *gin.Context) {
		ord, err := o.load(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ord)
	})
	r.GET("/inventory/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"in_stock": 12})
	})
	r.GET("/prices/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"price_usd": "19.99"})
	})
	return r
}
