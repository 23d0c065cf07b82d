// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand runs serve when invoked without a subcommand.
func newRootCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "quistream",
		Short: "Stream video out of a torrent over HTTP",
		Long: `quistream loads one torrent and serves its playable file over HTTP range
requests, downloading only the pieces viewers are about to watch.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)

	cmd.AddCommand(RunServeCommand())
	cmd.AddCommand(RunInspectCommand())
	cmd.AddCommand(RunVersionCommand())

	return cmd
}
