package main

import (
	"liquidation_go/internal/infra"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command for the liqrelay CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "liqrelay",
		Short:         "Relay-brokered vault liquidation settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", infra.DefaultConfigPath, "path to config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewKeygenCommand())
	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewPriceCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}
