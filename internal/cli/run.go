package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/metrics/prom"
	"github.com/c0deZ3R0/fieldsync/synckit"
)

type RunOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewRunCommand keeps the engine running until interrupted, draining on
// reconnect, on every tick and after each enqueue.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEngine(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /status on this address (overrides metrics.addr)")
	return cmd
}

func runEngine(ctx context.Context, cmd *cobra.Command, opts *RunOptions) (err error) {
	cmd.SetContext(ctx)
	a, err := openQueue(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	if err := a.buildEngine(ctx); err != nil {
		return err
	}

	a.engine.OnDrain(func(res *synckit.DrainResult) {
		a.logger.Info("Pass finished",
			slog.String("reason", string(res.Reason)),
			slog.Int("sent", res.Sent),
			slog.Int("rejected", res.Rejected),
			slog.Bool("aborted", res.Aborted),
			slog.Int("pending", a.queue.Len()))
	})

	if a.prober != nil {
		a.prober.Start(ctx)
	}
	if err := a.engine.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "start engine", err)
	}

	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	var srv *http.Server
	serveErr := make(chan error, 1)
	if addr != "" {
		ln, lerr := net.Listen("tcp", addr)
		if lerr != nil {
			return WrapExitError(ExitCommandError, "listen "+addr, lerr)
		}
		srv = &http.Server{Handler: opsRouter(a), ReadHeaderTimeout: 5 * time.Second}
		go func() { serveErr <- srv.Serve(ln) }()
		a.logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
	}

	a.logger.Info("Engine running",
		slog.String("api", a.remote.BaseURL()),
		slog.String("store", a.cfg.Store.Driver),
		slog.Int("pending", a.queue.Len()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "metrics server", err)
		}
	}

	a.logger.Info("Shutting down", slog.Int("pending", a.queue.Len()))
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

type engineStatus struct {
	State               string     `json:"state"`
	Indicator           string     `json:"indicator"`
	Online              bool       `json:"online"`
	Pending             int        `json:"pending"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	NextRetry           *time.Time `json:"nextRetry,omitempty"`
	LastPass            *time.Time `json:"lastPass,omitempty"`
}

func opsRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", prom.Handler(a.registry))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := a.engine.Status()
		body := engineStatus{
			State:               st.State.String(),
			Indicator:           st.Indicator(),
			Online:              st.Online,
			Pending:             st.Pending,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}
		if !st.NextRetry.IsZero() {
			body.NextRetry = &st.NextRetry
		}
		if st.LastResult != nil {
			body.LastPass = &st.LastResult.StartTime
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	r.Put("/log-level", func(w http.ResponseWriter, r *http.Request) {
		level := r.URL.Query().Get("level")
		if !a.level.SetFromString(level) {
			http.Error(w, "unknown level "+level, http.StatusBadRequest)
			return
		}
		a.logger.Info("Log level changed", slog.String("level", level))
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/drain", func(w http.ResponseWriter, r *http.Request) {
		started := a.engine.Trigger(synckit.ReasonManual)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]bool{"started": started})
	})
	return r
}
