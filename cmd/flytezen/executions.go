package main

import (
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/format"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution>",
		Short: "Sync and print the status of a recorded execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			rec, err := store.Load(args[0])
			if err != nil {
				return err
			}
			client, err := backendgrpc.Dial(ctx, clientConfig(cfg))
			if err != nil {
				return core.NewError(core.ErrorConfig, "connect backend", err)
			}
			defer func() { _ = client.Close() }()

			status, err := client.Sync(ctx, rec.Handle())
			if err != nil {
				return core.NewError(core.ErrorMonitor, "sync execution", err)
			}
			if _, err := store.UpdateStatus(rec.Name, status); err != nil {
				pslog.Ctx(ctx).Warn("execution record not updated", "execution", rec.Name, "err", err)
			}
			consoleURL := rec.ConsoleURL
			if consoleURL == "" {
				consoleURL = client.ConsoleURL(rec.Handle())
			}
			return format.NewPrinter(cmd.OutOrStdout()).Status(rec.Name, status, consoleURL)
		},
	}
}

func newAttachCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <execution>",
		Short: "Resume monitoring a recorded execution until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			rec, err := store.Load(args[0])
			if err != nil {
				return err
			}
			client, err := backendgrpc.Dial(ctx, clientConfig(cfg))
			if err != nil {
				return core.NewError(core.ErrorConfig, "connect backend", err)
			}
			defer func() { _ = client.Close() }()

			pslog.Ctx(ctx).Info("attaching to execution", "execution", rec.Name, "version", rec.Version)
			runCtx, stop := interruptContext(ctx)
			defer stop()
			mon, err := newMonitor(cmd, cfg, client).Wait(runCtx, rec.Handle())
			finishMonitor(ctx, cmd, store, format.NewPrinter(cmd.OutOrStdout()), rec.Handle(), rec.ConsoleURL, mon)
			return err
		},
	}
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			records, err := store.List()
			if err != nil {
				return err
			}
			return format.NewPrinter(cmd.OutOrStdout()).Records(records)
		},
	}
}
