// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flicker/credsvc/internal/config"
	"github.com/flicker/credsvc/internal/xdg"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
	configDir  string
	env        string
}

// NewRootCmd creates the root command for the credsvc CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "credsvc",
		Short: "Flicker credential services",
		Long: `credsvc hosts the Flicker credential services: verification codes
delivered by email, credential hashing and credential reset authentication.
A supervisor keeps one worker process per service alive.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "directory searched for config.<env>.yaml (default: $XDG_CONFIG_HOME/credsvc)")
	cmd.PersistentFlags().StringVar(&flags.env, "env", "", "config environment (default: $"+config.EnvVar+" or "+config.DefaultEnv+")")

	cmd.AddCommand(NewSuperviseCmd(flags))
	cmd.AddCommand(NewServeCmd(flags))
	cmd.AddCommand(NewStatusCmd(flags))
	cmd.AddCommand(NewIssueCmd(flags))
	cmd.AddCommand(NewHashCmd(flags))

	return cmd
}

// load reads configuration, letting the given command flags override the
// file for the config keys in flagKeys.
func (g *globalFlags) load(fs *pflag.FlagSet, flagKeys map[string]string) (*config.Config, error) {
	dir := g.configDir
	if dir == "" && g.configFile == "" {
		var err error
		if dir, err = xdg.ConfigDir(); err != nil {
			return nil, err
		}
	}
	return config.Load(config.LoadOptions{
		File:     g.configFile,
		Dir:      dir,
		Env:      g.env,
		Flags:    fs,
		FlagKeys: flagKeys,
	})
}
