/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package main is the aries-agent command: a DIDComm agent receiving envelopes over HTTP.
package main

import (
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/spf13/cobra"

	"github.com/hyperledger/aries-agent-sdk-go/cmd/aries-agent/startcmd"
)

// This is an application which starts a DIDComm agent on the configured inbound host.
func main() {
	rootCmd := &cobra.Command{
		Use: "aries-agent",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("aries-agent/main")

	startCmd, err := startcmd.Cmd(&startcmd.HTTPServer{})
	if err != nil {
		logger.Fatalf(err.Error())
	}

	rootCmd.AddCommand(startCmd, startcmd.ConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run aries-agent: %s", err)
	}
}
