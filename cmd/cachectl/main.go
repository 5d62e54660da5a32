package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"retrieval-service/internal/adapter/vectorstore"
	"retrieval-service/internal/infra"
	"retrieval-service/internal/infra/config"
	"retrieval-service/internal/infra/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New()
	slog.SetDefault(log)

	var timeoutSeconds int

	root := &cobra.Command{
		Use:   "cachectl",
		Short: "Operate on the semantic retrieval cache",
	}
	root.PersistentFlags().IntVar(&timeoutSeconds, "timeout", 30, "operation timeout in seconds")

	withStore := func(run func(ctx context.Context, store *vectorstore.CacheStore, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSeconds)*time.Second)
			defer cancel()

			pool, err := infra.NewPostgresDB(ctx, cfg.DSN())
			if err != nil {
				return fmt.Errorf("failed to connect to db: %w", err)
			}
			defer pool.Close()

			return run(ctx, vectorstore.NewCacheStore(pool), args)
		}
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired cache entries",
		RunE: withStore(func(ctx context.Context, store *vectorstore.CacheStore, _ []string) error {
			deleted, err := store.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			log.Info("cache_sweep_completed", slog.Int64("deleted", deleted))
			return nil
		}),
	}

	invalidate := &cobra.Command{
		Use:   "invalidate <document-id>",
		Short: "Delete cache entries referencing a document",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store *vectorstore.CacheStore, args []string) error {
			deleted, err := store.DeleteByDocument(ctx, args[0])
			if err != nil {
				return err
			}
			log.Info("cache_invalidated",
				slog.String("document_id", args[0]),
				slog.Int64("deleted", deleted))
			return nil
		}),
	}

	root.AddCommand(sweep, invalidate)

	if err := root.Execute(); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
