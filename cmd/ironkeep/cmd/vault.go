package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/events"
	"github.com/jmcleod/ironkeep/metrics"
	"github.com/jmcleod/ironkeep/vault"
)

var forceSync bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local changes and pull the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		status, err := c.Sync(cmd.Context(), forceSync)
		if err != nil {
			return err
		}
		st := c.SyncState()
		fmt.Printf("Sync %s: %d items, last sync %s\n", status, len(c.Views()), st.LastSync.Format(time.RFC3339))
		if n := len(st.NotSynced) + len(st.NotUpdated); n > 0 {
			fmt.Printf("%d local change(s) waiting for the server\n", n)
		}
		if len(st.Outdated) > 0 {
			fmt.Printf("%d item(s) are outdated; run sync --force after reviewing them\n", len(st.Outdated))
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault items",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := login(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer c.Close()
		if _, err := c.Sync(cmd.Context(), false); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNAME\tUSERNAME")
		for _, v := range c.Views() {
			if !v.DeletedDate.IsZero() {
				continue
			}
			var user string
			if v.Login != nil {
				user = v.Login.Username
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, typeName(v.Type), v.Name, user)
		}
		return tw.Flush()
	},
}

func typeName(t vault.CipherType) string {
	switch t {
	case vault.TypeLogin:
		return "login"
	case vault.TypeSecureNote:
		return "note"
	case vault.TypeCard:
		return "card"
	case vault.TypeIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

var metricsAddr string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay signed in and apply server pushes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		var recorder metrics.Recorder
		reg := prometheus.NewRegistry()
		if metricsAddr != "" {
			recorder = metrics.NewPrometheus(reg)
		}
		c, err := login(cmd.Context(), recorder)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", slog.Any("error", err))
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
		}

		unsubscribe := c.Events().Subscribe(func(e events.Event) {
			logger.Info("event", slog.String("name", e.EventName()))
		})
		defer unsubscribe()

		if _, err := c.Sync(ctx, false); err != nil {
			return err
		}
		fmt.Printf("Listening for changes to %d items (Ctrl-C to stop)...\n", len(c.Views()))
		if err := c.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, listCmd, listenCmd} {
		addEmailFlag(c)
		rootCmd.AddCommand(c)
	}
	syncCmd.Flags().BoolVar(&forceSync, "force", false, "Pull even when the server reports no changes")
	listenCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}
