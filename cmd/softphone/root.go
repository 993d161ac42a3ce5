/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tejzpr/crm-softphone/config"
	"gopkg.in/yaml.v3"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "softphone",
	Short: "Softphone for CRM agents",
	Long: `softphone registers a SIP account, places and receives calls over
WebRTC media and keeps the CRM in sync: call logs, queue pause state,
transfers, call scripts and follow-up tasks.`,
	SilenceUsage: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(map[string]*config.Config{"softphone": redact(cfg)})
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "softphone %s\n", version)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and SOFTPHONE_* environment when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// redact returns a copy of cfg without secrets
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.SIP.Credential != "" {
		out.SIP.Credential = "********"
	}
	if out.Backend.Token != "" {
		out.Backend.Token = "********"
	}
	return &out
}
