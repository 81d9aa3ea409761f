package route

import (
	"github.com/spf13/cobra"
)

func NewRouteCommand() *cobra.Command {
	var debug bool
	var bridge bool
	var configPath string

	cmd := &cobra.Command{
		Use:     "route",
		Aliases: []string{"r"},
		Short:   "Run the platform router",
		Long: "Dials every target in the route table and keeps the connections alive.\n" +
			"With --bridge, also runs the accepting endpoint and relays messages\n" +
			"between accepted peers and routed targets by platform.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return routeCmd(configPath, debug, bridge)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&bridge, "bridge", false, "Also serve and relay between peers and targets")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")

	return cmd
}
