package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/appconfig"
	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/entity"
	"github.com/sciexp/flytezen/internal/format"
	"github.com/sciexp/flytezen/internal/git"
	"github.com/sciexp/flytezen/internal/staging"
	"github.com/sciexp/flytezen/schema"
)

const doctorProbeDigest = "doctor"

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check provenance, backend reachability and the staging bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			printer := format.NewPrinter(cmd.OutOrStdout())

			cfg, err := root.load()
			if err != nil {
				_ = printer.Check("config", err)
				return err
			}
			logger.Info("doctor start", "config", root.configPath, "source_dir", root.sourceDir)

			checks := []struct {
				name string
				run  func(ctx context.Context) error
			}{
				{name: "config", run: func(context.Context) error { return nil }},
				{name: "entities", run: func(context.Context) error { return checkEntities(cfg) }},
				{name: "provenance", run: func(ctx context.Context) error { return checkProvenance(ctx, root.sourceDir, cmd) }},
				{name: "required settings (prod)", run: func(context.Context) error { return cfg.ValidateRequired(schema.ModeProd) }},
				{name: "backend", run: func(ctx context.Context) error { return checkBackend(ctx, cfg) }},
				{name: "staging bucket", run: func(ctx context.Context) error { return checkStaging(ctx, cfg) }},
			}
			failed := 0
			for _, check := range checks {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err := check.run(ctx)
				cancel()
				if err != nil {
					failed++
					logger.Warn("doctor check failed", "check", check.name, "err", err)
				}
				_ = printer.Check(check.name, err)
			}
			if failed > 0 {
				return fmt.Errorf("doctor found %d problem(s)", failed)
			}
			logger.Info("doctor ok")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for each check")
	return cmd
}

func checkEntities(cfg appconfig.Config) error {
	registry, err := entity.FromConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.DefaultEntity == "" {
		return nil
	}
	_, err = registry.Lookup(cfg.DefaultEntity)
	return err
}

func checkProvenance(ctx context.Context, dir string, cmd *cobra.Command) error {
	source := git.NewProvenance(dir)
	id, err := core.DeriveIdentity(ctx, source)
	if err != nil {
		return err
	}
	if dirty, err := source.Dirty(ctx); err == nil && dirty {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  working tree has uncommitted changes; prod runs will not include them\n")
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  version identity: %s\n", id)
	return nil
}

func checkBackend(ctx context.Context, cfg appconfig.Config) error {
	client, err := backendgrpc.Dial(ctx, clientConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Ping(ctx)
}

// checkStaging asks the backend where a bundle would go and verifies the
// bucket is reachable with the configured credentials.
func checkStaging(ctx context.Context, cfg appconfig.Config) error {
	scfg := stagingConfig(cfg)
	if err := scfg.Validate(); err != nil {
		return fmt.Errorf("%w (needed for dev mode)", err)
	}
	client, err := backendgrpc.Dial(ctx, clientConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	loc, err := client.CreateUploadLocation(ctx, cfg.Project, cfg.Domain, doctorProbeDigest, staging.BundleName)
	if err != nil {
		return err
	}
	if loc.Bucket == "" {
		return errors.New("backend returned an upload location without a bucket")
	}
	uploader, err := staging.NewMinIOUploader(scfg)
	if err != nil {
		return err
	}
	return uploader.CheckBucket(ctx, loc.Bucket)
}
