package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/internal/devserver"
)

var devPort int

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run an in-memory vault server for local development",
	Long: `Starts a vault server that keeps every account and cipher in memory.
It speaks the same API and push protocol as the real service and never
sees plaintext. Everything is lost when it stops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := devserver.New(devserver.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", srv.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", devPort),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner("Development Vault Server")
		fmt.Printf("Listening on port %d (in memory, plain HTTP)...\n", devPort)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().IntVarP(&devPort, "port", "p", 8087, "Port to listen on")
}
