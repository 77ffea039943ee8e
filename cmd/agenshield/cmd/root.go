// Package cmd provides the CLI commands for the AgenShield daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agen-co/agenshield/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agenshield",
	Short: "AgenShield - policy daemon for agent workloads",
	Long: `AgenShield is the policy decision daemon guarding agent workloads.

It evaluates exec, network, and filesystem operations against a priority
ordered policy set, builds sandbox specifications for allowed commands,
and runs per-exec egress proxies that enforce URL policies live.

Quick start:
  1. Create a config file: agenshield.yaml
  2. Run: agenshield start

Configuration:
  Config is loaded from agenshield.yaml in the current directory,
  $HOME/.agenshield/, or /etc/agenshield/.

  Environment variables can override config values with the AGENSHIELD_ prefix.
  Example: AGENSHIELD_SERVER_RPC_ADDR=127.0.0.1:9090

Commands:
  start       Start the daemon
  stop        Stop the running daemon
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agenshield.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
