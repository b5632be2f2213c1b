package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sciexp/flytezen/internal/appconfig"
	"github.com/sciexp/flytezen/internal/entity"
	"github.com/sciexp/flytezen/internal/format"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the flytezen config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := appconfig.WriteDefault(root.configPath, force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newEntitiesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			registry, err := entity.FromConfig(cfg)
			if err != nil {
				return err
			}
			var rows []format.EntityRow
			for _, def := range registry.List() {
				rows = append(rows, format.EntityRow{Ref: def.Ref(), Local: def.Local(), Inputs: def.Defaults})
			}
			return format.NewPrinter(cmd.OutOrStdout()).Entities(rows)
		},
	}
}
