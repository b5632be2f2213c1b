package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/internal/appconfig"
	"github.com/sciexp/flytezen/internal/backendgrpc"
	"github.com/sciexp/flytezen/internal/entity"
	"github.com/sciexp/flytezen/internal/format"
	"github.com/sciexp/flytezen/internal/git"
	"github.com/sciexp/flytezen/internal/persist"
	"github.com/sciexp/flytezen/internal/staging"
	"github.com/sciexp/flytezen/schema"
)

type executeOptions struct {
	mode       string
	entityKey  string
	inputsPath string
	noWait     bool
	dryRun     bool
}

func newExecuteCmd(root *rootOptions) *cobra.Command {
	opts := &executeOptions{}
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run an entity locally or submit it to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(schema.ModeDev), "execution mode: local, dev or prod")
	cmd.Flags().StringVarP(&opts.entityKey, "entity", "e", "", "entity key (<module>_<name> or <module>.<name>; default from config)")
	cmd.Flags().StringVarP(&opts.inputsPath, "inputs", "i", "", "YAML or JSON file merged over the entity's default inputs")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "return after submission without monitoring")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the resolved execution context without running")
	return cmd
}

func runExecute(cmd *cobra.Command, root *rootOptions, opts *executeOptions) error {
	ctx := cmd.Context()
	logger := pslog.Ctx(ctx)

	mode, err := schema.ParseMode(opts.mode)
	if err != nil {
		return &core.Error{
			Kind:    core.ErrorInvalidMode,
			Op:      "execute",
			Message: fmt.Sprintf("invalid mode %q; expected one of local, dev, prod", opts.mode),
			Err:     err,
		}
	}
	cfg, err := root.load()
	if err != nil {
		return err
	}
	def, inputs, err := resolveEntity(cfg, opts.entityKey, opts.inputsPath)
	if err != nil {
		return err
	}

	ctrl := &core.Controller{
		Source:    git.NewProvenance(root.sourceDir),
		BaseImage: cfg.Image,
		Defaults: core.ContextDefaults{
			Project: cfg.Project,
			Domain:  cfg.Domain,
			Wait:    !opts.noWait,
		},
	}
	printer := format.NewPrinter(cmd.OutOrStdout())

	if opts.dryRun {
		_, ec, err := ctrl.Prepare(ctx, mode)
		if err != nil {
			return err
		}
		return printer.Context(ec, def.Ref(), inputs)
	}

	if mode.Remote() {
		if err := cfg.ValidateRequired(mode); err != nil {
			return core.NewError(core.ErrorConfig, "execute", err)
		}
	}

	submitter := &core.Submitter{
		PackagePath:    cfg.PackagePath,
		DestinationDir: cfg.FastPackage.DestinationDir,
	}
	ctrl.Submitter = submitter

	var store *persist.Store
	if mode.Remote() {
		client, err := backendgrpc.Dial(ctx, clientConfig(cfg))
		if err != nil {
			return core.NewError(core.ErrorConfig, "connect backend", err)
		}
		defer func() { _ = client.Close() }()
		submitter.Backend = client

		if mode == schema.ModeDev {
			uploader, err := staging.NewMinIOUploader(stagingConfig(cfg))
			if err != nil {
				return core.NewError(core.ErrorConfig, "staging store", err)
			}
			submitter.Packager = staging.NewTarballPackager()
			submitter.Uploader = uploader
		}

		store, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		ctrl.Monitor = newMonitor(cmd, cfg, client)
		ctrl.OnSubmitted = func(ctx context.Context, ec schema.ExecutionContext, sub core.Submission) {
			recordSubmission(ctx, store, ec, def.Ref(), sub)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Execution submitted: %s\n", sub.Handle.Name)
			if sub.ConsoleURL != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Console: %s\n", sub.ConsoleURL)
			}
		}
	}

	runCtx, stop := interruptContext(ctx)
	defer stop()
	result, runErr := ctrl.Run(runCtx, mode, def.Entity, inputs)
	if result.Context.Version != "" {
		logger.Debug("execute finished", "version", result.Context.Version, "mode", mode, "err", runErr)
	}

	if !result.Submission.Remote() {
		if runErr != nil {
			return runErr
		}
		return printer.Outputs(result.Submission.Outputs)
	}
	if result.Monitor != nil {
		finishMonitor(ctx, cmd, store, printer, *result.Submission.Handle, result.Submission.ConsoleURL, *result.Monitor)
	}
	return runErr
}

func resolveEntity(cfg appconfig.Config, key, inputsPath string) (entity.Definition, schema.Inputs, error) {
	registry, err := entity.FromConfig(cfg)
	if err != nil {
		return entity.Definition{}, nil, core.NewError(core.ErrorConfig, "load entities", err)
	}
	if key == "" {
		key = cfg.DefaultEntity
	}
	def, err := registry.Lookup(key)
	if err != nil {
		return entity.Definition{}, nil, core.NewError(core.ErrorConfig, "resolve entity", err)
	}
	inputs := entity.CloneInputs(def.Defaults)
	if inputsPath != "" {
		overrides, err := entity.LoadInputs(inputsPath)
		if err != nil {
			return entity.Definition{}, nil, core.NewError(core.ErrorConfig, "load inputs", err)
		}
		inputs = entity.MergeInputs(inputs, overrides)
	}
	if inputs == nil {
		inputs = schema.Inputs{}
	}
	return def, inputs, nil
}

func recordSubmission(ctx context.Context, store *persist.Store, ec schema.ExecutionContext, ref schema.EntityRef, sub core.Submission) {
	if store == nil || sub.Handle == nil {
		return
	}
	rec := persist.Record{
		Name:       sub.Handle.Name,
		Project:    sub.Handle.Project,
		Domain:     sub.Handle.Domain,
		Version:    sub.Version,
		Mode:       ec.Mode,
		Entity:     ref,
		ConsoleURL: sub.ConsoleURL,
		Phase:      schema.PhaseQueued,
	}
	if err := store.Save(rec); err != nil {
		pslog.Ctx(ctx).Warn("execution record not saved", "execution", rec.Name, "err", err)
	}
}

// finishMonitor records the last observed status and prints the result.
func finishMonitor(ctx context.Context, cmd *cobra.Command, store *persist.Store, printer *format.Printer, handle schema.ExecutionHandle, consoleURL string, mon core.MonitorResult) {
	if mon.Status == nil {
		return
	}
	if store != nil {
		if _, err := store.UpdateStatus(handle.Name, *mon.Status); err != nil {
			pslog.Ctx(ctx).Warn("execution record not updated", "execution", handle.Name, "err", err)
		}
	}
	_ = printer.Status(handle.Name, *mon.Status, consoleURL)
	switch mon.State {
	case core.StateSucceeded:
		if mon.Completed != nil {
			_ = printer.Outputs(mon.Completed.Outputs)
		}
	case core.StateAbandoned:
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Execution %s was left running; resume with: flytezen attach %s\n", handle.Name, handle.Name)
	}
}
