package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wippyhq/registry-governor/internal/logger"
	pkgsync "github.com/wippyhq/registry-governor/internal/sync"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the governance service",
		Long: `Start the governance coordinator with its HTTP status surface.

The coordinator owns all registry mutations: commands arrive on the bus,
run through the processor pipeline, and fan out version-change events.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address for the HTTP status server")
	cmd.Flags().String("config", "", "Path to configuration file (YAML)")
	cmd.Flags().Bool("debug", false, "Enable debug logging")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	logger.Initialize(viper.GetBool("debug"))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to start governor: %w", err)
	}
	defer rt.close()

	startWatcher(ctx, rt)

	address := viper.GetString("address")
	server := &http.Server{
		Addr:         address,
		Handler:      newRouter(rt),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Status server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Status server shutdown incomplete: %v", err)
	}
	return nil
}

// startWatcher begins tracking source tree drift when a sync directory is
// configured
func startWatcher(ctx context.Context, rt *runtime) {
	dir, err := rt.cfg.ResolveDir("", "")
	if err != nil {
		logger.Debugf("Filesystem watcher disabled: %v", err)
		return
	}
	watcher, err := pkgsync.NewWatcher(dir, rt.coord.NotifyFilesystemChanged)
	if err != nil {
		logger.Warnf("Failed to start filesystem watcher on %s: %v", dir, err)
		return
	}
	go watcher.Run(ctx)
}

func newRouter(rt *runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// mutations stay on the bus protocol where requests carry a user
	// identity; the HTTP surface is read-only
	r.Get("/v1/state", func(w http.ResponseWriter, req *http.Request) {
		state, err := rt.client.GetState(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, state)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
