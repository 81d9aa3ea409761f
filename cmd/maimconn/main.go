// MaiM-Connect - message transport fabric for the MaiM agent ecosystem.
// Adapters and agent cores exchange a typed, recursive message format over
// WebSocket; this binary runs the accepting endpoint and the platform router.
// License: MIT
//
// Copyright (c) 2026 MaiM-Connect contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal"
	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal/route"
	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal/serve"
	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal/version"
)

func NewMaimconnCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maimconn",
		Short: "maimconn - MaiM message transport v" + internal.GetVersion(),
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		route.NewRouteCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMaimconnCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
