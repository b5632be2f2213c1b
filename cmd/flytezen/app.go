package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/appconfig"
	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/persist"
	"github.com/sciexp/flytezen/internal/staging"
)

func (o *rootOptions) load() (appconfig.Config, error) {
	return appconfig.Load(o.configPath)
}

func clientConfig(cfg appconfig.Config) backendgrpc.ClientConfig {
	return backendgrpc.ClientConfig{
		Endpoint:       cfg.Backend.Endpoint,
		Insecure:       cfg.Backend.Insecure,
		Project:        cfg.Project,
		Domain:         cfg.Domain,
		ConsoleURL:     cfg.Backend.ConsoleURL,
		RequestTimeout: cfg.RequestTimeout(),
	}
}

func stagingConfig(cfg appconfig.Config) staging.Config {
	return staging.Config{
		Endpoint:     cfg.Staging.Endpoint,
		AccessKey:    cfg.Staging.AccessKey,
		SecretKey:    cfg.Staging.SecretKey,
		Region:       cfg.Staging.Region,
		UseSSL:       cfg.Staging.UseSSL,
		CreateBucket: cfg.Staging.CreateBucket,
	}
}

func openStore(ctx context.Context, cfg appconfig.Config) (*persist.Store, error) {
	return persist.NewStoreWithLogger(cfg.StateDir, pslog.Ctx(ctx))
}

func newMonitor(cmd *cobra.Command, cfg appconfig.Config, watcher core.ExecutionWatcher) *core.Monitor {
	return &core.Monitor{
		Watcher:        watcher,
		PollInterval:   cfg.PollInterval(),
		ConfirmTimeout: cfg.ConfirmTimeout(),
		In:             cmd.InOrStdin(),
		Out:            cmd.ErrOrStderr(),
	}
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. After that
// the default handlers are restored so a second signal exits immediately.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}
