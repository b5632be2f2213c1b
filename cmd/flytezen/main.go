package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/internal/appconfig"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	root.SetArgs(args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("flytezen command failed")
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
	envFile    string
	sourceDir  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "flytezen",
		Short:         "Run, package and monitor workflow executions",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			n, err := appconfig.LoadDotEnv(opts.envFile)
			if err != nil {
				return err
			}
			if n > 0 {
				pslog.Ctx(cmd.Context()).Debug("environment file loaded", "path", opts.envFile, "vars", n)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default ~/.flytezen/config.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config (empty to skip)")
	root.PersistentFlags().StringVar(&opts.sourceDir, "source-dir", ".", "git working tree used for version provenance")

	root.AddCommand(newExecuteCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newAttachCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newEntitiesCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newBackendMockCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func argv0Alias(base string) string {
	switch base {
	case "flytezen-backend-mock":
		return "backend-mock"
	default:
		return ""
	}
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias := argv0Alias(filepath.Base(args[0]))
	if alias == "" {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	out = append(out, args[1:]...)
	return out
}
