package main

import (
	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	configName string
	configDirs []string
	backend    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pubsubd",
		Short:         "Distributed endpoint discovery and topology manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configName, "config-name", "pubsubd", "Configuration file name without extension")
	cmd.PersistentFlags().StringSliceVar(&opts.configDirs, "config-dir", []string{".", "./config"}, "Directories searched for the configuration file")
	cmd.PersistentFlags().StringVar(&opts.backend, "directory", "", "Directory backend override (etcd|memory)")

	cmd.AddCommand(
		newCmdServe(opts),
		newCmdList(opts),
		newCmdVersion(),
	)
	return cmd
}
