package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/internal/mockapi"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/resource"
)

type MockAPIOptions struct {
	*RootOptions
	Addr     string
	Token    string
	Validate bool
}

// NewMockAPICommand serves an in-memory copy of the field service API for
// trying the engine without a backend.
func NewMockAPICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MockAPIOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve an in-memory field service API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveMockAPI(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Token, "token", "", "require this bearer token")
	cmd.Flags().BoolVar(&opts.Validate, "validate", true, "reject records missing required fields")
	return cmd
}

// requiredFields mirrors the backend's mandatory fields per collection.
var requiredFields = map[string][]string{
	resource.CustomersPath:    {"name"},
	resource.BuildingsPath:    {"customerId", "name"},
	resource.FlocksPath:       {"buildingId"},
	resource.VisitsPath:       {"customerId"},
	resource.ObservationsPath: {"visitId", "metric"},
}

func serveMockAPI(ctx context.Context, cmd *cobra.Command, opts *MockAPIOptions) error {
	lc := logging.GetConfigFromEnv()
	if opts.LogLevel != "" {
		lc.Level = opts.LogLevel
	}
	lc.Output = cmd.ErrOrStderr()
	logging.Init(lc)
	logger := logging.Default().WithComponent("mockapi").Logger

	mopts := []mockapi.Option{mockapi.WithLogger(logger)}
	if opts.Token != "" {
		mopts = append(mopts, mockapi.WithToken(opts.Token))
	}
	if opts.Validate {
		mopts = append(mopts, mockapi.WithValidator(mockapi.Required(requiredFields)))
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen "+opts.Addr, err)
	}
	srv := &http.Server{Handler: mockapi.New(mopts...), ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("Mock API listening", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "serve", err)
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
