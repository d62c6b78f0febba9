// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// guildsyncd is the reconciliation daemon and operator CLI for the guild's
// dual-store migration: it diffs the legacy blob store against the relational
// store and migrates missing records on explicit request.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildtools/guildsync/reconcile"
	"github.com/guildtools/guildsync/server"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "guildsyncd",
		Short:         "Guild dual-store reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd(), checkCmd(), migrateCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func setup(ctx context.Context, logger *slog.Logger) (*server.Components, *server.Config, error) {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	components, err := server.SetupServer(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return components, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			components, cfg, err := setup(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer components.Close()

			httpServer := &http.Server{
				Addr:         cfg.ListenAddr,
				Handler:      components.Handler,
				ReadTimeout:  120 * time.Second,
				WriteTimeout: 120 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Starting reconciliation server", "addr", httpServer.Addr)
				logger.Info("  GET  /admin/check-sync      - Diff blob store against relational store")
				logger.Info("  POST /admin/migrate/{type}  - Migrate selected ids of one entity type")
				logger.Info("  POST /admin/migrate         - Migrate all missing records of given types")
				logger.Info("  GET  /admin/status          - Store reachability and registered types")
				logger.Info("  GET  /metrics               - Prometheus metrics")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("Server exited")
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var typeName, scope string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a sync check and print the reports as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			components, _, err := setup(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer components.Close()

			orch := components.Orchestrator
			if typeName != "" {
				t, err := reconcile.ParseEntityType(typeName)
				if err != nil {
					return err
				}
				report, err := orch.Check(cmd.Context(), t, reconcile.CanonicalID(scope))
				if err != nil {
					return err
				}
				return printJSON(report)
			}

			run := orch.NewRun()
			reports, err := run.Check(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"reports": reports,
				"summary": reconcile.Aggregate(reports),
			})
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "check a single entity type")
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "narrow a single-type check to one canonical id")
	return cmd
}

func migrateCmd() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate all records missing in the relational store",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			components, _, err := setup(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer components.Close()

			var parsed []reconcile.EntityType
			for _, s := range types {
				t, err := reconcile.ParseEntityType(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, t)
			}

			run := components.Orchestrator.NewRun()
			if _, err := run.Check(cmd.Context(), parsed); err != nil {
				return err
			}
			selection, err := run.SuggestSelection()
			if err != nil {
				return err
			}
			results, verified, err := run.Migrate(cmd.Context(), selection)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"results":  results,
				"verified": verified,
			})
		},
	}
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "entity types to migrate (default all)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var operatorID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an operator JWT for the admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			tok, err := reconcile.NewJWTAuth(cfg.JWTSecret).GenerateToken(operatorID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&operatorID, "operator", "o", "admin", "operator id for the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
