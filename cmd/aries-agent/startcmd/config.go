/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/config"
)

// ConfigCmd returns the Cobra command printing the default config file.
func ConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default config",
		Long:  `Print the default agent config as TOML, a starting point for --` + configFileFlagName,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteDefault(cmd.OutOrStdout())
		},
	}
}
