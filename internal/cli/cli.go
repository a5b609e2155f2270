package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/ordergate/internal/app"
	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/observability"
)

const stopTimeout = 10 * time.Second

// NewRootCommand builds the root ordergate CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ordergate",
		Short:        "GraphQL gateway for the order backend",
		SilenceUsage: true,
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the ordergate CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the GraphQL gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Gateway)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the submitted-order audit consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), app.Worker)
		},
	})
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			token := "<unset>"
			if cfg.Backend.Token != "" {
				token = "<redacted>"
			}
			fmt.Fprintf(out, "http:      %s:%d%s\n", cfg.HTTP.Host, cfg.HTTP.Port, cfg.GraphQL.Path)
			fmt.Fprintf(out, "grpc:      enabled=%t %s:%d\n", cfg.GRPC.Enabled, cfg.GRPC.Host, cfg.GRPC.Port)
			fmt.Fprintf(out, "backend:   %s%s (limit %d)\n", cfg.Backend.BaseURL, cfg.Backend.OrderEntity, cfg.Backend.ListLimit)
			fmt.Fprintf(out, "token:     %s via %s\n", token, cfg.Backend.TokenHeader)
			fmt.Fprintf(out, "relay:     %s (buffer %d)\n", cfg.Relay.Driver, cfg.Relay.Buffer)
			fmt.Fprintf(out, "messaging: enabled=%t topic=%s\n", cfg.Messaging.Enabled, cfg.Messaging.Kafka.Topic)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), observability.Version)
		},
	}
}

func runUntilDone(ctx context.Context, opts fx.Option) error {
	application := fx.New(opts)
	if err := application.Err(); err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-application.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}
