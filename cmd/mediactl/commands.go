package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/postgres"
	"github.com/tendant/simple-media/pkg/simplemedia/signing"
)

// NewKeygenCommand creates the keygen command
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a notification signing key",
		Long: `Generate a new Ed25519 seed for SIGNING_SEED and print the matching
public key clients use to verify notifications.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, public, err := signing.GenerateSeed()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SIGNING_SEED=%s\n", seed)
			fmt.Fprintf(cmd.OutOrStdout(), "PUBLIC_KEY=%s\n", public)
			return nil
		},
	}
}

// NewVerifyCommand creates the verify command
func NewVerifyCommand() *cobra.Command {
	var publicKey string

	cmd := &cobra.Command{
		Use:   "verify <signed_notification>",
		Short: "Verify a signed notification and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicKey == "" {
				return fmt.Errorf("--public-key is required")
			}
			message, err := signing.OpenHex(publicKey, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(message))
			return nil
		},
	}

	cmd.Flags().StringVar(&publicKey, "public-key", os.Getenv("PUBLIC_KEY"), "hex encoded public key (default $PUBLIC_KEY)")

	return cmd
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Run database migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			return postgres.Migrate(slog.Default(), databaseURL, args[0], args[1:]...)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (default $DATABASE_URL)")

	return cmd
}

// NewPurgeCommand creates the purge command
func NewPurgeCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "purge [image|document|video...]",
		Short: "Delete cached derivatives and bump the cache revision",
		Long: `Delete every cached derivative of the given media types (all types when
none are given), increment the cache invalidation revision and notify
the configured clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]simplemedia.MediaType, 0, len(args))
			for _, arg := range args {
				t := simplemedia.MediaType(arg)
				if !t.IsValid() {
					return fmt.Errorf("unknown media type: %s", arg)
				}
				types = append(types, t)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			svc, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			result, err := svc.PurgeDerivatives(ctx, types...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall timeout")

	return cmd
}

// NewSweepCommand creates the sweep command
func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired upload slots once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			svc, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer closeService(svc)

			n, err := svc.PurgeExpiredSlots(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired upload slots\n", n)
			return nil
		},
	}
}

func buildService(ctx context.Context) (simplemedia.Service, error) {
	cfg, err := config.Load(config.WithEnv(), config.WithMetrics(false, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	svc, err := cfg.BuildService(ctx, slog.Default(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	return svc, nil
}

// closeService gives queued notifications a bounded chance to go out.
func closeService(svc simplemedia.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		slog.Warn("Shutdown incomplete", "err", err)
	}
}
