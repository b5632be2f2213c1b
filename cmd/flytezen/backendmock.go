package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/mockbackend"
)

func newBackendMockCmd() *cobra.Command {
	var listen string
	cfg := mockbackend.Config{}
	cmd := &cobra.Command{
		Use:   "backend-mock",
		Short: "Serve an in-memory orchestration backend for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			server := backendgrpc.NewServer(mockbackend.New(cfg))
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			logger.Info("backend mock listening", "addr", listen, "queue", cfg.QueueDuration, "run", cfg.RunDuration, "bucket", cfg.Bucket)
			return server.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "localhost:30080", "listen address (host:port or unix socket path)")
	cmd.Flags().DurationVar(&cfg.QueueDuration, "queue", mockbackend.DefaultQueueDuration, "time executions spend queued")
	cmd.Flags().DurationVar(&cfg.RunDuration, "run", mockbackend.DefaultRunDuration, "time executions spend running")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", mockbackend.DefaultBucket, "staging bucket returned in upload locations")
	cmd.Flags().StringVar(&cfg.ConsoleURL, "console-url", "", "console base URL for execution links")
	return cmd
}
