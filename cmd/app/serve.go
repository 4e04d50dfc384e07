package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	port      int
	adminPort int
	exitAfter time.Duration
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialise the datastore and serve health, status and metrics",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "public HTTP port (overrides server.port)")
	serveCmd.Flags().IntVar(&adminPort, "admin-port", 0, "admin HTTP port, loopback only (overrides server.adminPort)")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")
	return serveCmd
}

// runServe initialises the store and then starts the public and admin servers.
// Nothing is served when Init fails.
func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	if adminPort == 0 {
		adminPort = a.cfg.Server.AdminPort
	}

	if err := a.initStore(cmd, a.cfg.Database.TargetVersion); err != nil {
		return fmt.Errorf("refusing to serve: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: a.publicMux(),
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", adminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: a.adminMux(stop),
	}

	errCh := make(chan error, 2)

	go func() {
		a.log.Info("public server listening on :%d", port)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		a.log.Info("admin server listening on 127.0.0.1:%d (JSON-only)", adminPort)
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	// Optional run timer
	if exitAfter > 0 {
		a.log.Info("exit-after timer set: %s", exitAfter)
		time.AfterFunc(exitAfter, stop)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		// graceful shutdown
	case serveErr = <-errCh:
		a.log.Error("server error: %v", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTO)
	defer cancel()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	a.log.Info("shutdown complete")
	return serveErr
}

func (a *app) publicMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !a.store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	return mux
}

// adminMux serves the JSON admin API and the metrics endpoint.
// shutdown is called by /admin/shutdown.
func (a *app) adminMux(shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/admin/status", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode := "running"
		if !a.store.Ready() {
			mode = "not-ready"
		}
		state, err := a.store.CheckState(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		resp := map[string]any{
			"version":       version.String(),
			"schemaVersion": a.store.Version(r.Context()),
			"latestSchema":  a.store.LatestVersion(),
			"state":         state.String(),
			"buildDate":     buildDate,
			"time":          time.Now().UTC().Format(time.RFC3339),
			"mode":          mode,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})))

	mux.Handle("/admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "shutting down"})
		// give the response a moment to flush
		time.AfterFunc(200*time.Millisecond, shutdown)
	})))

	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return mux
}

// jsonOnly enforces JSON-only contract for admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Require Accept: application/json (at least for admin)
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && r.ContentLength > 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
